package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the read side of the adapter. All calls go through the RPC
// retryer and honor context cancellation.
type Reader interface {
	// CurrentTick reads the pool tick from the chain's state view.
	CurrentTick(ctx context.Context, chainID uint64, poolID common.Hash) (int32, error)
	Slot0(ctx context.Context, chainID uint64, poolID common.Hash) (*Slot0, error)
	Liquidity(ctx context.Context, chainID uint64, poolID common.Hash) (*big.Int, error)
	FeeGrowthGlobals(ctx context.Context, chainID uint64, poolID common.Hash) (*FeeGrowth, error)

	BalanceNative(ctx context.Context, chainID uint64, addr common.Address) (*big.Int, error)
	BalanceERC20(ctx context.Context, chainID uint64, token, addr common.Address) (*big.Int, error)
	VaultBalance(ctx context.Context, chainID uint64) (*big.Int, error)
	PositionsOfManager(ctx context.Context, chainID uint64) ([]Position, error)

	QuoteSwap(ctx context.Context, req SwapQuoteRequest) (*SwapQuote, error)
	QuoteCrossChain(ctx context.Context, req BridgeQuoteRequest) (*BridgeQuote, error)
}

// Writer is the signed write side of the adapter. Every submit returns the
// transaction hash; calldata encoding and signing live behind this
// interface, never in the core.
type Writer interface {
	SubmitDeposit(ctx context.Context, chainID uint64, key PoolKey, tickLower, tickUpper int32, ethAmount, usdcAmount *big.Int) (common.Hash, error)
	SubmitWithdraw(ctx context.Context, chainID uint64, key PoolKey, tickLower, tickUpper int32, liquidity *big.Int) (common.Hash, error)
	SubmitVaultWithdraw(ctx context.Context, chainID uint64, amount *big.Int) (common.Hash, error)
	SubmitSwap(ctx context.Context, chainID uint64, key PoolKey, zeroForOne bool, amountIn, minOut *big.Int) (common.Hash, error)
	SubmitBridge(ctx context.Context, chainID uint64, quote *BridgeQuote, amount *big.Int) (common.Hash, error)
}

// ReceiptReader looks up transaction receipts. Returns ErrReceiptPending
// while the transaction is unmined.
type ReceiptReader interface {
	GetReceipt(ctx context.Context, chainID uint64, hash common.Hash) (*types.Receipt, error)
}

// LogDecoder extracts the manager's events from mined receipts.
type LogDecoder interface {
	// DecodeDeposit returns the deposit event from the receipt, or an
	// error when the receipt carries none.
	DecodeDeposit(receipt *types.Receipt) (*DepositEvent, error)
}

// Adapter is the full per-chain client surface consumed by the agent.
type Adapter interface {
	Reader
	Writer
	ReceiptReader
	LogDecoder
}
