package actions

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// Positions are healthy while the current tick sits inside the middle
// 70% of their range.
const (
	rangePositionLow  = 0.15
	rangePositionHigh = 0.85
)

// RemoveLiquidity withdraws positions whose range the price has nearly
// left, so the capital can be redeployed around the new tick.
type RemoveLiquidity struct {
	deps Deps
}

// NewRemoveLiquidity creates a chain's withdraw definition.
func NewRemoveLiquidity(deps Deps) *RemoveLiquidity {
	return &RemoveLiquidity{deps: deps}
}

type removeLiquidityData struct {
	tasks.TxData
	PoolKey     chain.PoolKey `json:"poolKey"`
	TickLower   int32         `json:"tickLower"`
	TickUpper   int32         `json:"tickUpper"`
	Liquidity   *chain.BigInt `json:"liquidity"`
	CurrentTick int32         `json:"currentTick"`
}

func (r *RemoveLiquidity) Name() string {
	return fmt.Sprintf("remove-liquidity-%d", r.deps.Spec.ID)
}

func (r *RemoveLiquidity) LockResources() []string {
	return []string{LiquidityResource(r.deps.Spec.ID)}
}

func (r *RemoveLiquidity) ShouldStart(ctx context.Context, active []tasks.Task) (bool, error) {
	_, _, found, err := r.findDriftedPosition(ctx)
	return found, err
}

func (r *RemoveLiquidity) Start(ctx context.Context, active []tasks.Task, force bool) (*tasks.Task, string, error) {
	position, currentTick, found, err := r.findDriftedPosition(ctx)
	if err != nil {
		return nil, "", err
	}
	if !found {
		if !force {
			return nil, "no position has drifted out of range", nil
		}
		return nil, "no position to withdraw", nil
	}

	task, err := tasks.New(r.Name(), r.LockResources(), removeLiquidityData{
		PoolKey:     position.PoolKey,
		TickLower:   position.TickLower,
		TickUpper:   position.TickUpper,
		Liquidity:   chain.NewBigInt(position.Liquidity),
		CurrentTick: currentTick,
	})
	if err != nil {
		return nil, "", err
	}
	return &task, "", nil
}

func (r *RemoveLiquidity) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var data removeLiquidityData
	if err := t.DecodeData(&data); err != nil {
		return t, err
	}

	if t.Status == tasks.StatusPreStart {
		hash, err := r.deps.Adapter.SubmitWithdraw(ctx, r.deps.Spec.ID, data.PoolKey,
			data.TickLower, data.TickUpper, &data.Liquidity.Int)
		if err != nil {
			return t, fmt.Errorf("failed to submit withdraw: %w", err)
		}
		h := hash.Hex()
		data.Hash = &h
		t, err = t.WithData(data)
		if err != nil {
			return t, err
		}
		return t.WithStatus(tasks.StatusRunning, "Withdraw submitted"), nil
	}

	return tasks.AdvanceTx(ctx, r.deps.Adapter, r.deps.Spec.ID, t, data.Hash,
		tasks.DefaultTxTimeout, func(*types.Receipt) string {
			return fmt.Sprintf("Withdrew position [%d, %d]", data.TickLower, data.TickUpper)
		}), nil
}

func (r *RemoveLiquidity) Stop(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	return t.Finished(tasks.StatusStopped, "Stopped"), nil
}

// findDriftedPosition returns the first non-empty position whose current
// tick sits outside the middle of its range.
func (r *RemoveLiquidity) findDriftedPosition(ctx context.Context) (chain.Position, int32, bool, error) {
	positions, err := r.deps.Adapter.PositionsOfManager(ctx, r.deps.Spec.ID)
	if err != nil {
		return chain.Position{}, 0, false, err
	}

	for _, position := range positions {
		if position.Liquidity == nil || position.Liquidity.Sign() == 0 {
			continue
		}
		if position.TickUpper <= position.TickLower {
			continue
		}

		currentTick, err := r.deps.Adapter.CurrentTick(ctx, r.deps.Spec.ID, position.PoolKey.ID())
		if err != nil {
			return chain.Position{}, 0, false, err
		}

		ratio := float64(currentTick-position.TickLower) / float64(position.TickUpper-position.TickLower)
		if ratio < rangePositionLow || ratio > rangePositionHigh {
			return position, currentTick, true, nil
		}
	}
	return chain.Position{}, 0, false, nil
}
