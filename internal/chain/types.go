// Package chain defines the narrow adapter interface the agent uses to
// observe and act on EVM chains, together with the shared wire types.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrReceiptPending is returned by GetReceipt while a submitted
// transaction has not been mined yet.
var ErrReceiptPending = errors.New("receipt pending")

// NativeCurrency is the v4 currency address used for the chain's native asset.
var NativeCurrency = common.Address{}

// PoolKey identifies a v4 pool.
type PoolKey struct {
	Currency0   common.Address `json:"currency0"`
	Currency1   common.Address `json:"currency1"`
	Fee         uint32         `json:"fee"` // ppm
	TickSpacing int32          `json:"tickSpacing"`
	Hooks       common.Address `json:"hooks"`
}

// ID returns the pool identifier, keccak256 over the abi-encoded key.
func (k PoolKey) ID() common.Hash {
	var buf []byte
	buf = append(buf, common.LeftPadBytes(k.Currency0.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(k.Currency1.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(new(big.Int).SetUint64(uint64(k.Fee)).Bytes(), 32)...)
	tick := new(big.Int).SetInt64(int64(k.TickSpacing))
	if k.TickSpacing < 0 {
		// two's complement for int24 in a 256-bit word
		tick = new(big.Int).Add(tick, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	buf = append(buf, common.LeftPadBytes(tick.Bytes(), 32)...)
	buf = append(buf, common.LeftPadBytes(k.Hooks.Bytes(), 32)...)
	return common.BytesToHash(crypto.Keccak256(buf))
}

// Contracts holds the per-chain deployment addresses the agent talks to.
type Contracts struct {
	Manager         common.Address `json:"manager"`
	Vault           common.Address `json:"vault"`
	Hook            common.Address `json:"hook"`
	PoolManager     common.Address `json:"poolManager"`
	StateView       common.Address `json:"stateView"`
	Quoter          common.Address `json:"quoter"`
	WETH            common.Address `json:"weth"`
	USDC            common.Address `json:"usdc"`
	UniversalRouter common.Address `json:"universalRouter"`
}

// Spec describes one chain: identity, policy knobs and deployments.
type Spec struct {
	ID        uint64
	Name      string
	RPCEnv    string // environment variable carrying the RPC endpoint
	RPCURL    string
	GasScore  float64 // 0-10, higher = cheaper
	Excluded  bool    // policy-excluded from allocation
	Parent    bool    // the vault's home chain
	Contracts Contracts

	// DefaultPool is the pool the agent provides liquidity to;
	// QueryPool is the independent pool used as a tick sanity signal.
	DefaultPool *PoolKey
	QueryPool   *PoolKey
}

// Slot0 mirrors the pool manager's slot0 view.
type Slot0 struct {
	SqrtPriceX96 *big.Int
	Tick         int32
	ProtocolFee  uint32
	LPFee        uint32
}

// FeeGrowth holds the global fee accumulators, token0 and token1 side.
type FeeGrowth struct {
	Global0 *big.Int
	Global1 *big.Int
}

// Position is a liquidity position held by the manager contract.
type Position struct {
	PoolKey   PoolKey  `json:"poolKey"`
	TickLower int32    `json:"tickLower"`
	TickUpper int32    `json:"tickUpper"`
	Liquidity *big.Int `json:"liquidity"`
}

// DepositEvent is the manager's deposit log, the authoritative record of
// what actually entered the position.
type DepositEvent struct {
	TickLower  int32
	TickUpper  int32
	ETHAmount  *big.Int
	USDCAmount *big.Int
	Liquidity  *big.Int
}

// SwapQuoteRequest asks the quoter for an exact-input swap quote.
type SwapQuoteRequest struct {
	ChainID    uint64
	PoolKey    PoolKey
	ZeroForOne bool
	AmountIn   *big.Int
}

// SwapQuote is the quoter's answer.
type SwapQuote struct {
	AmountOut   *big.Int
	GasEstimate *big.Int
}

// BridgeQuoteRequest asks the bridge API for a cross-chain transfer quote.
type BridgeQuoteRequest struct {
	FromChainID uint64
	ToChainID   uint64
	Token       common.Address
	Amount      *big.Int
	Recipient   common.Address
}

// BridgeQuote is the bridge API's answer. Target and Calldata are submitted
// through the manager's generic-call entrypoint; Value is the native value
// the call requires.
type BridgeQuote struct {
	MinReceive *big.Int
	Value      *big.Int
	Target     common.Address
	Calldata   []byte
}

// BigInt wraps big.Int with decimal-string JSON encoding, matching how
// 256-bit quantities are persisted and served.
type BigInt struct {
	big.Int
}

// NewBigInt copies x into a BigInt. Returns nil for nil input.
func NewBigInt(x *big.Int) *BigInt {
	if x == nil {
		return nil
	}
	b := new(BigInt)
	b.Set(x)
	return b
}

// MarshalJSON encodes the value as a decimal string.
func (b *BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (b *BigInt) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("invalid decimal integer %q", s)
	}
	return nil
}
