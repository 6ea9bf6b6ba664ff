// Package actions holds the action definitions the runner schedules:
// vault sync, add/remove liquidity, swap-for-balance and cross-chain
// transfer, instantiated per chain.
package actions

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/metrics"
)

const (
	// minSideUSD is the smallest per-side value worth depositing.
	minSideUSD = 10.0
	// minTotalUSD is the smallest combined value worth rebalancing.
	minTotalUSD = 20.0
	// imbalanceFactor marks one side as heavy when it exceeds this
	// multiple of the other.
	imbalanceFactor = 2.0
	// maxTickDivergence bounds how far the default pool's tick may sit
	// from the query pool's before a deposit is refused.
	maxTickDivergence = 200
	// swapSlippageBps is the haircut applied to swap quotes.
	swapSlippageBps = 100
)

// ManagerResource tags the chain's manager contract.
func ManagerResource(chainID uint64) string {
	return fmt.Sprintf("chain:%d:manager", chainID)
}

// LiquidityResource tags the chain's liquidity positions.
func LiquidityResource(chainID uint64) string {
	return fmt.Sprintf("chain:%d:liquidity", chainID)
}

// BridgeResource tags the chain's bridge lane.
func BridgeResource(chainID uint64) string {
	return fmt.Sprintf("chain:%d:bridge", chainID)
}

// Deps is the shared dependency set of one chain's definitions.
type Deps struct {
	Adapter chain.Adapter
	Spec    *chain.Spec
	Log     zerolog.Logger
}

// sideBalances is a snapshot of the manager's two sides valued in USD at
// the default pool's spot price.
type sideBalances struct {
	ETHWei    *big.Int
	USDCUnits *big.Int
	Price     float64 // USDC per ETH
	ETHUSD    float64
	USDCUSD   float64
}

func (b *sideBalances) total() float64 {
	return b.ETHUSD + b.USDCUSD
}

// heavier reports which side dominates: true for ETH.
func (b *sideBalances) heavier() bool {
	return b.ETHUSD > b.USDCUSD
}

// imbalanced reports whether one side exceeds imbalanceFactor times the
// other.
func (b *sideBalances) imbalanced() bool {
	return b.ETHUSD > imbalanceFactor*b.USDCUSD || b.USDCUSD > imbalanceFactor*b.ETHUSD
}

// managerBalances reads the manager's native and USDC balances and
// values them at the default pool's current price.
func managerBalances(ctx context.Context, d Deps) (*sideBalances, error) {
	if d.Spec.DefaultPool == nil {
		return nil, fmt.Errorf("no default pool on chain %d", d.Spec.ID)
	}

	manager := d.Spec.Contracts.Manager

	ethWei, err := d.Adapter.BalanceNative(ctx, d.Spec.ID, manager)
	if err != nil {
		return nil, fmt.Errorf("failed to read native balance: %w", err)
	}

	usdcUnits, err := d.Adapter.BalanceERC20(ctx, d.Spec.ID, d.Spec.Contracts.USDC, manager)
	if err != nil {
		return nil, fmt.Errorf("failed to read usdc balance: %w", err)
	}

	slot0, err := d.Adapter.Slot0(ctx, d.Spec.ID, d.Spec.DefaultPool.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to read pool price: %w", err)
	}

	price := metrics.HumanPrice(slot0.SqrtPriceX96.String())

	return &sideBalances{
		ETHWei:    ethWei,
		USDCUnits: usdcUnits,
		Price:     price,
		ETHUSD:    bigFloat(ethWei) / 1e18 * price,
		USDCUSD:   bigFloat(usdcUnits) / 1e6,
	}, nil
}

func bigFloat(x *big.Int) float64 {
	f, _ := new(big.Float).SetInt(x).Float64()
	return f
}

// weiToEther renders a wei amount as a short ether string for status
// messages.
func weiToEther(wei *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	return f.Text('f', 6)
}

// usdcToDollars renders a USDC amount for status messages.
func usdcToDollars(units *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(units), big.NewFloat(1e6))
	return f.Text('f', 2)
}
