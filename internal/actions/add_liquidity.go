package actions

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// AddLiquidity deposits the manager's idle balances into the default
// pool around the current tick.
type AddLiquidity struct {
	deps Deps

	// rangeWidth is how many tick spacings the position extends on each
	// side of the rounded current tick.
	rangeWidth int32
}

// NewAddLiquidity creates a chain's deposit definition.
func NewAddLiquidity(deps Deps, rangeWidth int32) *AddLiquidity {
	return &AddLiquidity{deps: deps, rangeWidth: rangeWidth}
}

type addLiquidityData struct {
	tasks.TxData
	PoolKey    chain.PoolKey `json:"poolKey"`
	TickLower  int32         `json:"tickLower"`
	TickUpper  int32         `json:"tickUpper"`
	ETHAmount  *chain.BigInt `json:"ethAmount"`
	USDCAmount *chain.BigInt `json:"usdcAmount"`
}

func (a *AddLiquidity) Name() string {
	return fmt.Sprintf("add-liquidity-%d", a.deps.Spec.ID)
}

func (a *AddLiquidity) LockResources() []string {
	return []string{LiquidityResource(a.deps.Spec.ID)}
}

// ShouldStart requires both sides funded and roughly balanced.
func (a *AddLiquidity) ShouldStart(ctx context.Context, active []tasks.Task) (bool, error) {
	if a.deps.Spec.DefaultPool == nil {
		return false, nil
	}

	balances, err := managerBalances(ctx, a.deps)
	if err != nil {
		return false, err
	}
	if balances.ETHUSD < minSideUSD || balances.USDCUSD < minSideUSD {
		return false, nil
	}
	if balances.imbalanced() {
		return false, nil
	}
	return true, nil
}

func (a *AddLiquidity) Start(ctx context.Context, active []tasks.Task, force bool) (*tasks.Task, string, error) {
	if !force {
		ok, err := a.ShouldStart(ctx, active)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "balances are too small or imbalanced", nil
		}
	}
	if a.deps.Spec.DefaultPool == nil {
		return nil, "no default pool configured", nil
	}

	pool := *a.deps.Spec.DefaultPool
	currentTick, err := a.deps.Adapter.CurrentTick(ctx, a.deps.Spec.ID, pool.ID())
	if err != nil {
		return nil, "", err
	}

	// The query pool is an independent signal on the same pair; a large
	// divergence means one of the two is being quoted a bad price.
	if a.deps.Spec.QueryPool != nil {
		queryTick, err := a.deps.Adapter.CurrentTick(ctx, a.deps.Spec.ID, a.deps.Spec.QueryPool.ID())
		if err != nil {
			return nil, "", err
		}
		if diff := currentTick - queryTick; diff > maxTickDivergence || diff < -maxTickDivergence {
			return nil, "Current tick is too far from other tick", nil
		}
	}

	balances, err := managerBalances(ctx, a.deps)
	if err != nil {
		return nil, "", err
	}

	lower, upper := tickBounds(currentTick, pool.TickSpacing, a.rangeWidth)

	task, err := tasks.New(a.Name(), a.LockResources(), addLiquidityData{
		PoolKey:    pool,
		TickLower:  lower,
		TickUpper:  upper,
		ETHAmount:  chain.NewBigInt(balances.ETHWei),
		USDCAmount: chain.NewBigInt(balances.USDCUnits),
	})
	if err != nil {
		return nil, "", err
	}
	return &task, "", nil
}

func (a *AddLiquidity) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var data addLiquidityData
	if err := t.DecodeData(&data); err != nil {
		return t, err
	}

	if t.Status == tasks.StatusPreStart {
		hash, err := a.deps.Adapter.SubmitDeposit(ctx, a.deps.Spec.ID, data.PoolKey,
			data.TickLower, data.TickUpper, &data.ETHAmount.Int, &data.USDCAmount.Int)
		if err != nil {
			return t, fmt.Errorf("failed to submit deposit: %w", err)
		}
		h := hash.Hex()
		data.Hash = &h
		t, err = t.WithData(data)
		if err != nil {
			return t, err
		}
		return t.WithStatus(tasks.StatusRunning, "Deposit submitted"), nil
	}

	return tasks.AdvanceTx(ctx, a.deps.Adapter, a.deps.Spec.ID, t, data.Hash,
		tasks.DefaultTxTimeout, func(receipt *types.Receipt) string {
			// The deposit event carries what actually entered the
			// position; the snapshot amounts are only a fallback.
			if ev, err := a.deps.Adapter.DecodeDeposit(receipt); err == nil {
				return fmt.Sprintf("Deposited %s ETH and %s USDC in [%d, %d]",
					weiToEther(ev.ETHAmount), usdcToDollars(ev.USDCAmount),
					ev.TickLower, ev.TickUpper)
			}
			return fmt.Sprintf("Deposited %s ETH and %s USDC in [%d, %d]",
				weiToEther(&data.ETHAmount.Int), usdcToDollars(&data.USDCAmount.Int),
				data.TickLower, data.TickUpper)
		}), nil
}

func (a *AddLiquidity) Stop(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	return t.Finished(tasks.StatusStopped, "Stopped"), nil
}

// tickBounds rounds tick down to the pool's spacing and extends width
// spacings each side.
func tickBounds(tick, spacing, width int32) (int32, int32) {
	base := tick / spacing * spacing
	if tick < 0 && tick%spacing != 0 {
		base -= spacing
	}
	return base - width*spacing, base + width*spacing
}
