package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Minimal ABI fragments for the contracts the agent touches. Only the
// methods actually called are declared.
const (
	stateViewABIJSON = `[
		{"name":"getSlot0","type":"function","stateMutability":"view",
		 "inputs":[{"name":"poolId","type":"bytes32"}],
		 "outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"protocolFee","type":"uint24"},{"name":"lpFee","type":"uint24"}]},
		{"name":"getLiquidity","type":"function","stateMutability":"view",
		 "inputs":[{"name":"poolId","type":"bytes32"}],
		 "outputs":[{"name":"liquidity","type":"uint128"}]},
		{"name":"getFeeGrowthGlobals","type":"function","stateMutability":"view",
		 "inputs":[{"name":"poolId","type":"bytes32"}],
		 "outputs":[{"name":"feeGrowthGlobal0","type":"uint256"},{"name":"feeGrowthGlobal1","type":"uint256"}]}
	]`

	erc20ABIJSON = `[
		{"name":"balanceOf","type":"function","stateMutability":"view",
		 "inputs":[{"name":"account","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`

	vaultABIJSON = `[
		{"name":"totalAssets","type":"function","stateMutability":"view",
		 "inputs":[],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`

	managerABIJSON = `[
		{"name":"getPositions","type":"function","stateMutability":"view",
		 "inputs":[],
		 "outputs":[{"name":"","type":"tuple[]","components":[
			{"name":"poolKey","type":"tuple","components":[
				{"name":"currency0","type":"address"},
				{"name":"currency1","type":"address"},
				{"name":"fee","type":"uint24"},
				{"name":"tickSpacing","type":"int24"},
				{"name":"hooks","type":"address"}]},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"liquidity","type":"uint128"}]}]},
		{"name":"deposit","type":"function","stateMutability":"payable",
		 "inputs":[
			{"name":"key","type":"tuple","components":[
				{"name":"currency0","type":"address"},
				{"name":"currency1","type":"address"},
				{"name":"fee","type":"uint24"},
				{"name":"tickSpacing","type":"int24"},
				{"name":"hooks","type":"address"}]},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"ethAmount","type":"uint256"},
			{"name":"usdcAmount","type":"uint256"}],
		 "outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable",
		 "inputs":[
			{"name":"key","type":"tuple","components":[
				{"name":"currency0","type":"address"},
				{"name":"currency1","type":"address"},
				{"name":"fee","type":"uint24"},
				{"name":"tickSpacing","type":"int24"},
				{"name":"hooks","type":"address"}]},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"liquidity","type":"uint256"}],
		 "outputs":[]},
		{"name":"withdrawFromVault","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"amount","type":"uint256"}],
		 "outputs":[]},
		{"name":"swap","type":"function","stateMutability":"nonpayable",
		 "inputs":[
			{"name":"key","type":"tuple","components":[
				{"name":"currency0","type":"address"},
				{"name":"currency1","type":"address"},
				{"name":"fee","type":"uint24"},
				{"name":"tickSpacing","type":"int24"},
				{"name":"hooks","type":"address"}]},
			{"name":"zeroForOne","type":"bool"},
			{"name":"amountIn","type":"uint256"},
			{"name":"minAmountOut","type":"uint256"}],
		 "outputs":[]},
		{"name":"execute","type":"function","stateMutability":"payable",
		 "inputs":[
			{"name":"target","type":"address"},
			{"name":"value","type":"uint256"},
			{"name":"data","type":"bytes"}],
		 "outputs":[]},
		{"name":"Deposited","type":"event","anonymous":false,
		 "inputs":[
			{"name":"tickLower","type":"int24","indexed":false},
			{"name":"tickUpper","type":"int24","indexed":false},
			{"name":"ethAmount","type":"uint256","indexed":false},
			{"name":"usdcAmount","type":"uint256","indexed":false},
			{"name":"liquidity","type":"uint128","indexed":false}]}
	]`

	quoterABIJSON = `[
		{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"params","type":"tuple","components":[
			{"name":"poolKey","type":"tuple","components":[
				{"name":"currency0","type":"address"},
				{"name":"currency1","type":"address"},
				{"name":"fee","type":"uint24"},
				{"name":"tickSpacing","type":"int24"},
				{"name":"hooks","type":"address"}]},
			{"name":"zeroForOne","type":"bool"},
			{"name":"exactAmount","type":"uint128"},
			{"name":"hookData","type":"bytes"}]}],
		 "outputs":[
			{"name":"amountOut","type":"uint256"},
			{"name":"gasEstimate","type":"uint256"}]}
	]`
)

var (
	stateViewABI = mustParseABI(stateViewABIJSON)
	erc20ABI     = mustParseABI(erc20ABIJSON)
	vaultABI     = mustParseABI(vaultABIJSON)
	managerABI   = mustParseABI(managerABIJSON)
	quoterABI    = mustParseABI(quoterABIJSON)
)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

// abiPoolKey is the on-wire shape of PoolKey for abi packing.
type abiPoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

func toABIPoolKey(k PoolKey) abiPoolKey {
	return abiPoolKey{
		Currency0:   k.Currency0,
		Currency1:   k.Currency1,
		Fee:         new(big.Int).SetUint64(uint64(k.Fee)),
		TickSpacing: big.NewInt(int64(k.TickSpacing)),
		Hooks:       k.Hooks,
	}
}

// backend is one chain's dialed client. The mutex serializes signed
// writes so nonces are assigned in submit order.
type backend struct {
	spec *Spec
	eth  *ethclient.Client
	mu   sync.Mutex
}

// Client implements Adapter over ethclient connections, one per chain.
// Reads go through the retryer; writes are submitted exactly once.
type Client struct {
	backends map[uint64]*backend
	retryer  *Retryer
	bridge   *BridgeClient
	key      *ecdsa.PrivateKey
	from     common.Address
	log      zerolog.Logger
}

// NewClient dials every chain in specs and prepares the signing key.
// privateKeyHex is the 0x-prefixed vault operator key.
func NewClient(specs []*Spec, privateKeyHex string, bridge *BridgeClient, retryer *Retryer, log zerolog.Logger) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	backends := make(map[uint64]*backend, len(specs))
	for _, spec := range specs {
		eth, err := ethclient.Dial(spec.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial %s rpc: %w", spec.Name, err)
		}
		backends[spec.ID] = &backend{spec: spec, eth: eth}
	}

	return &Client{
		backends: backends,
		retryer:  retryer,
		bridge:   bridge,
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		log:      log.With().Str("component", "chain_client").Logger(),
	}, nil
}

// From returns the signing address.
func (c *Client) From() common.Address {
	return c.from
}

// Close closes every dialed connection.
func (c *Client) Close() {
	for _, b := range c.backends {
		b.eth.Close()
	}
}

func (c *Client) backend(chainID uint64) (*backend, error) {
	b, ok := c.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("no client for chain %d", chainID)
	}
	return b, nil
}

// callView packs and executes a read-only contract call.
func (c *Client) callView(ctx context.Context, b *backend, to common.Address, parsed abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := b.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call failed: %w", method, err)
	}

	out, err := parsed.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return out, nil
}

// CurrentTick reads the pool tick from the chain's state view.
func (c *Client) CurrentTick(ctx context.Context, chainID uint64, poolID common.Hash) (int32, error) {
	slot0, err := c.Slot0(ctx, chainID, poolID)
	if err != nil {
		return 0, err
	}
	return slot0.Tick, nil
}

// Slot0 reads sqrtPrice, tick and fee settings for a pool.
func (c *Client) Slot0(ctx context.Context, chainID uint64, poolID common.Hash) (*Slot0, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("slot0[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*Slot0, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.StateView, stateViewABI, "getSlot0", poolID)
		if err != nil {
			return nil, err
		}
		return &Slot0{
			SqrtPriceX96: out[0].(*big.Int),
			Tick:         int32(out[1].(*big.Int).Int64()),
			ProtocolFee:  uint32(out[2].(*big.Int).Uint64()),
			LPFee:        uint32(out[3].(*big.Int).Uint64()),
		}, nil
	})
}

// Liquidity reads a pool's in-range virtual liquidity.
func (c *Client) Liquidity(ctx context.Context, chainID uint64, poolID common.Hash) (*big.Int, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("liquidity[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*big.Int, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.StateView, stateViewABI, "getLiquidity", poolID)
		if err != nil {
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
}

// FeeGrowthGlobals reads both global fee accumulators for a pool.
func (c *Client) FeeGrowthGlobals(ctx context.Context, chainID uint64, poolID common.Hash) (*FeeGrowth, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("fee_growth[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*FeeGrowth, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.StateView, stateViewABI, "getFeeGrowthGlobals", poolID)
		if err != nil {
			return nil, err
		}
		return &FeeGrowth{
			Global0: out[0].(*big.Int),
			Global1: out[1].(*big.Int),
		}, nil
	})
}

// BalanceNative reads an address's native balance.
func (c *Client) BalanceNative(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("native_balance[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*big.Int, error) {
		return b.eth.BalanceAt(ctx, addr, nil)
	})
}

// BalanceERC20 reads a token balance.
func (c *Client) BalanceERC20(ctx context.Context, chainID uint64, token, addr common.Address) (*big.Int, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	label := fmt.Sprintf("erc20_balance[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*big.Int, error) {
		out, err := c.callView(ctx, b, token, erc20ABI, "balanceOf", addr)
		if err != nil {
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
}

// VaultBalance reads the vault's total assets on its home chain.
func (c *Client) VaultBalance(ctx context.Context, chainID uint64) (*big.Int, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}
	if b.spec.Contracts.Vault == (common.Address{}) {
		return nil, fmt.Errorf("no vault deployed on chain %d", chainID)
	}

	label := fmt.Sprintf("vault_balance[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*big.Int, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.Vault, vaultABI, "totalAssets")
		if err != nil {
			return nil, err
		}
		return out[0].(*big.Int), nil
	})
}

// PositionsOfManager lists the manager's open liquidity positions.
func (c *Client) PositionsOfManager(ctx context.Context, chainID uint64) ([]Position, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	type abiPosition struct {
		PoolKey   abiPoolKey
		TickLower *big.Int
		TickUpper *big.Int
		Liquidity *big.Int
	}

	label := fmt.Sprintf("positions[%d]", chainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) ([]Position, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.Manager, managerABI, "getPositions")
		if err != nil {
			return nil, err
		}

		raw := abi.ConvertType(out[0], new([]abiPosition)).(*[]abiPosition)
		positions := make([]Position, 0, len(*raw))
		for _, p := range *raw {
			positions = append(positions, Position{
				PoolKey: PoolKey{
					Currency0:   p.PoolKey.Currency0,
					Currency1:   p.PoolKey.Currency1,
					Fee:         uint32(p.PoolKey.Fee.Uint64()),
					TickSpacing: int32(p.PoolKey.TickSpacing.Int64()),
					Hooks:       p.PoolKey.Hooks,
				},
				TickLower: int32(p.TickLower.Int64()),
				TickUpper: int32(p.TickUpper.Int64()),
				Liquidity: p.Liquidity,
			})
		}
		return positions, nil
	})
}

// QuoteSwap asks the chain's quoter for an exact-input quote. The quoter
// is nonpayable on purpose; eth_call treats it as a view.
func (c *Client) QuoteSwap(ctx context.Context, req SwapQuoteRequest) (*SwapQuote, error) {
	b, err := c.backend(req.ChainID)
	if err != nil {
		return nil, err
	}

	type quoteParams struct {
		PoolKey     abiPoolKey
		ZeroForOne  bool
		ExactAmount *big.Int
		HookData    []byte
	}

	label := fmt.Sprintf("quote_swap[%d]", req.ChainID)
	return Read(ctx, c.retryer, label, func(ctx context.Context) (*SwapQuote, error) {
		out, err := c.callView(ctx, b, b.spec.Contracts.Quoter, quoterABI, "quoteExactInputSingle", quoteParams{
			PoolKey:     toABIPoolKey(req.PoolKey),
			ZeroForOne:  req.ZeroForOne,
			ExactAmount: req.AmountIn,
			HookData:    []byte{},
		})
		if err != nil {
			return nil, err
		}
		return &SwapQuote{
			AmountOut:   out[0].(*big.Int),
			GasEstimate: out[1].(*big.Int),
		}, nil
	})
}

// QuoteCrossChain asks the bridge API for a transfer quote.
func (c *Client) QuoteCrossChain(ctx context.Context, req BridgeQuoteRequest) (*BridgeQuote, error) {
	if c.bridge == nil {
		return nil, errors.New("no bridge client configured")
	}
	return c.bridge.Quote(ctx, req)
}

// SubmitDeposit sends a deposit through the manager. ethAmount rides as
// the transaction value.
func (c *Client) SubmitDeposit(ctx context.Context, chainID uint64, key PoolKey, tickLower, tickUpper int32, ethAmount, usdcAmount *big.Int) (common.Hash, error) {
	data, err := managerABI.Pack("deposit",
		toABIPoolKey(key),
		big.NewInt(int64(tickLower)),
		big.NewInt(int64(tickUpper)),
		ethAmount,
		usdcAmount,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack deposit: %w", err)
	}
	return c.submit(ctx, chainID, ethAmount, data)
}

// SubmitWithdraw burns liquidity from a position.
func (c *Client) SubmitWithdraw(ctx context.Context, chainID uint64, key PoolKey, tickLower, tickUpper int32, liquidity *big.Int) (common.Hash, error) {
	data, err := managerABI.Pack("withdraw",
		toABIPoolKey(key),
		big.NewInt(int64(tickLower)),
		big.NewInt(int64(tickUpper)),
		liquidity,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack withdraw: %w", err)
	}
	return c.submit(ctx, chainID, nil, data)
}

// SubmitVaultWithdraw pulls idle funds from the vault to the manager.
func (c *Client) SubmitVaultWithdraw(ctx context.Context, chainID uint64, amount *big.Int) (common.Hash, error) {
	data, err := managerABI.Pack("withdrawFromVault", amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack withdrawFromVault: %w", err)
	}
	return c.submit(ctx, chainID, nil, data)
}

// SubmitSwap swaps through the manager's default pool path.
func (c *Client) SubmitSwap(ctx context.Context, chainID uint64, key PoolKey, zeroForOne bool, amountIn, minOut *big.Int) (common.Hash, error) {
	data, err := managerABI.Pack("swap", toABIPoolKey(key), zeroForOne, amountIn, minOut)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack swap: %w", err)
	}
	return c.submit(ctx, chainID, nil, data)
}

// SubmitBridge routes a bridge quote's calldata through the manager's
// generic-call entrypoint.
func (c *Client) SubmitBridge(ctx context.Context, chainID uint64, quote *BridgeQuote, amount *big.Int) (common.Hash, error) {
	data, err := managerABI.Pack("execute", quote.Target, quote.Value, quote.Calldata)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack execute: %w", err)
	}
	return c.submit(ctx, chainID, quote.Value, data)
}

// GetReceipt looks up a transaction receipt, mapping the not-found case
// to ErrReceiptPending.
func (c *Client) GetReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return nil, err
	}

	receipt, err := b.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, ErrReceiptPending
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

// DecodeDeposit scans the receipt's logs for the manager's Deposited
// event. int24 ticks unpack as *big.Int.
func (c *Client) DecodeDeposit(receipt *types.Receipt) (*DepositEvent, error) {
	depositedID := managerABI.Events["Deposited"].ID

	for _, entry := range receipt.Logs {
		if len(entry.Topics) == 0 || entry.Topics[0] != depositedID {
			continue
		}

		out, err := managerABI.Unpack("Deposited", entry.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode deposit event: %w", err)
		}
		return &DepositEvent{
			TickLower:  int32(out[0].(*big.Int).Int64()),
			TickUpper:  int32(out[1].(*big.Int).Int64()),
			ETHAmount:  out[2].(*big.Int),
			USDCAmount: out[3].(*big.Int),
			Liquidity:  out[4].(*big.Int),
		}, nil
	}
	return nil, errors.New("no deposit event in receipt")
}

// submit signs and sends one transaction to the chain's manager contract.
// Writes never retry; resubmission risk belongs to the caller's lifecycle.
func (c *Client) submit(ctx context.Context, chainID uint64, value *big.Int, data []byte) (common.Hash, error) {
	b, err := c.backend(chainID)
	if err != nil {
		return common.Hash{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if value == nil {
		value = new(big.Int)
	}
	to := b.spec.Contracts.Manager

	nonce, err := b.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	tipCap, err := b.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas tip cap: %w", err)
	}

	head, err := b.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get head: %w", err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gas, err := b.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas + gas/5, // 20% headroom over the estimate
		To:        &to,
		Value:     value,
		Data:      data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), c.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := b.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.log.Info().
		Uint64("chain", chainID).
		Str("tx", signed.Hash().Hex()).
		Uint64("nonce", nonce).
		Msg("Transaction submitted")

	return signed.Hash(), nil
}
