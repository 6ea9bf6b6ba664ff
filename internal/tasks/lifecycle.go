package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
)

// DefaultTxTimeout bounds how long a submitted transaction may stay
// unmined before its task is marked error. The chain may still mine the
// transaction later; the agent does not reconcile that.
const DefaultTxTimeout = 3 * time.Minute

// AdvanceTx advances a running task whose payload embeds a submitted
// transaction hash. It never retries receipt fetches itself; a fetch
// failure inside the timeout returns the task unchanged and the runner
// polls again next tick.
func AdvanceTx(
	ctx context.Context,
	receipts chain.ReceiptReader,
	chainID uint64,
	t Task,
	hash *string,
	timeout time.Duration,
	success func(*types.Receipt) string,
) Task {
	if hash == nil {
		return t.Finished(StatusError, "No tx hash")
	}

	receipt, err := receipts.GetReceipt(ctx, chainID, common.HexToHash(*hash))
	if err != nil {
		elapsed := time.Duration(NowMs()-t.StartedAt) * time.Millisecond
		if elapsed > timeout {
			return t.Finished(StatusError, "Transaction timed out")
		}
		return t
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return t.Finished(StatusCompleted, success(receipt))
	}

	return t.Finished(StatusError, fmt.Sprintf("Transaction %s reverted", *hash))
}
