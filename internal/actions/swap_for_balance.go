package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/tasks"
)

// SwapForBalance equalizes the USD value of the manager's two sides so
// the next deposit can use both in full.
type SwapForBalance struct {
	deps Deps
}

// NewSwapForBalance creates a chain's rebalancing swap definition.
func NewSwapForBalance(deps Deps) *SwapForBalance {
	return &SwapForBalance{deps: deps}
}

type swapForBalanceData struct {
	tasks.TxData
	PoolKey    chain.PoolKey `json:"poolKey"`
	ZeroForOne bool          `json:"zeroForOne"`
	AmountIn   *chain.BigInt `json:"amountIn"`
}

func (s *SwapForBalance) Name() string {
	return fmt.Sprintf("swap-for-balance-%d", s.deps.Spec.ID)
}

func (s *SwapForBalance) LockResources() []string {
	return []string{LiquidityResource(s.deps.Spec.ID)}
}

func (s *SwapForBalance) ShouldStart(ctx context.Context, active []tasks.Task) (bool, error) {
	if s.deps.Spec.DefaultPool == nil {
		return false, nil
	}

	balances, err := managerBalances(ctx, s.deps)
	if err != nil {
		return false, err
	}
	return balances.total() >= minTotalUSD && balances.imbalanced(), nil
}

func (s *SwapForBalance) Start(ctx context.Context, active []tasks.Task, force bool) (*tasks.Task, string, error) {
	if !force {
		ok, err := s.ShouldStart(ctx, active)
		if err != nil {
			return nil, "", err
		}
		if !ok {
			return nil, "sides are balanced or too small", nil
		}
	}
	if s.deps.Spec.DefaultPool == nil {
		return nil, "no default pool configured", nil
	}

	balances, err := managerBalances(ctx, s.deps)
	if err != nil {
		return nil, "", err
	}
	if balances.Price == 0 {
		return nil, "pool price unavailable", nil
	}

	// Move half of the value gap from the heavy side to the light one.
	excessUSD := balances.ETHUSD - balances.total()/2
	zeroForOne := excessUSD > 0 // currency0 is native ETH
	if !zeroForOne {
		excessUSD = -excessUSD
	}

	var amountIn *big.Int
	if zeroForOne {
		amountIn, _ = new(big.Float).Mul(
			big.NewFloat(excessUSD/balances.Price), big.NewFloat(1e18)).Int(nil)
	} else {
		amountIn, _ = new(big.Float).Mul(
			big.NewFloat(excessUSD), big.NewFloat(1e6)).Int(nil)
	}
	if amountIn.Sign() <= 0 {
		return nil, "excess rounds to zero", nil
	}

	task, err := tasks.New(s.Name(), s.LockResources(), swapForBalanceData{
		PoolKey:    *s.deps.Spec.DefaultPool,
		ZeroForOne: zeroForOne,
		AmountIn:   chain.NewBigInt(amountIn),
	})
	if err != nil {
		return nil, "", err
	}
	return &task, "", nil
}

func (s *SwapForBalance) Update(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	var data swapForBalanceData
	if err := t.DecodeData(&data); err != nil {
		return t, err
	}

	if t.Status == tasks.StatusPreStart {
		quote, err := s.deps.Adapter.QuoteSwap(ctx, chain.SwapQuoteRequest{
			ChainID:    s.deps.Spec.ID,
			PoolKey:    data.PoolKey,
			ZeroForOne: data.ZeroForOne,
			AmountIn:   &data.AmountIn.Int,
		})
		if err != nil {
			return t, fmt.Errorf("failed to quote swap: %w", err)
		}

		minOut := new(big.Int).Mul(quote.AmountOut, big.NewInt(10_000-swapSlippageBps))
		minOut.Div(minOut, big.NewInt(10_000))

		hash, err := s.deps.Adapter.SubmitSwap(ctx, s.deps.Spec.ID, data.PoolKey,
			data.ZeroForOne, &data.AmountIn.Int, minOut)
		if err != nil {
			return t, fmt.Errorf("failed to submit swap: %w", err)
		}
		h := hash.Hex()
		data.Hash = &h
		t, err = t.WithData(data)
		if err != nil {
			return t, err
		}
		return t.WithStatus(tasks.StatusRunning, "Swap submitted"), nil
	}

	return tasks.AdvanceTx(ctx, s.deps.Adapter, s.deps.Spec.ID, t, data.Hash,
		tasks.DefaultTxTimeout, func(*types.Receipt) string {
			if data.ZeroForOne {
				return fmt.Sprintf("Swapped %s ETH for USDC", weiToEther(&data.AmountIn.Int))
			}
			return fmt.Sprintf("Swapped %s USDC for ETH", usdcToDollars(&data.AmountIn.Int))
		}), nil
}

func (s *SwapForBalance) Stop(ctx context.Context, t tasks.Task) (tasks.Task, error) {
	return t.Finished(tasks.StatusStopped, "Stopped"), nil
}
