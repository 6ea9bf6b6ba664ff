// Package collector gathers per-chain pool observations and exchange
// rates into the time-series store and keeps the latest allocation
// picture for the action gates.
package collector

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/allocator"
	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/metrics"
	"github.com/aristath/liquidity-sentinel/internal/timeseries"
)

// oneEther is the probe size for exchange rate sampling.
var oneEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// retention bounds how much history the store keeps. Wider than the
// widest metrics window with margin to spare.
const retention = 7 * 24 * time.Hour

// ChainStatus is the last collection outcome for one chain.
type ChainStatus struct {
	ChainID     uint64    `json:"chainId"`
	USDCPerETH  string    `json:"usdcPerEth"`
	CollectedAt time.Time `json:"collectedAt"`
	LastError   string    `json:"lastError,omitempty"`
}

// Collector runs the stats side of the agent: observe, append, score.
type Collector struct {
	adapter chain.Reader
	chains  []*chain.Spec
	store   *timeseries.Store
	engine  *metrics.Engine
	alloc   *allocator.Allocator
	cache   *SnapshotCache
	log     zerolog.Logger

	mu        sync.RWMutex
	statuses  map[uint64]*ChainStatus
	lastRun   time.Time
	lastError string
}

// New creates a collector. cache may be nil to disable snapshot
// persistence.
func New(adapter chain.Reader, chains []*chain.Spec, store *timeseries.Store, engine *metrics.Engine, alloc *allocator.Allocator, cache *SnapshotCache, log zerolog.Logger) *Collector {
	c := &Collector{
		adapter:  adapter,
		chains:   chains,
		store:    store,
		engine:   engine,
		alloc:    alloc,
		cache:    cache,
		log:      log.With().Str("component", "collector").Logger(),
		statuses: make(map[uint64]*ChainStatus),
	}
	c.restore()
	return c
}

// CollectAll observes every chain in turn. Chain failures are isolated:
// logged, recorded in the chain's status and skipped.
func (c *Collector) CollectAll(ctx context.Context) {
	for _, spec := range c.chains {
		if ctx.Err() != nil {
			return
		}

		status := &ChainStatus{ChainID: spec.ID, CollectedAt: time.Now().UTC()}
		if err := c.collectChain(ctx, spec, status); err != nil {
			status.LastError = err.Error()
			c.log.Warn().Err(err).Uint64("chain", spec.ID).Msg("Collection failed")
		}

		c.mu.Lock()
		c.statuses[spec.ID] = status
		c.lastRun = time.Now().UTC()
		c.lastError = status.LastError
		c.mu.Unlock()
	}

	if pruned, err := c.store.PruneBefore(time.Now().UTC().Add(-retention)); err != nil {
		c.log.Warn().Err(err).Msg("Failed to prune old observations")
	} else if pruned > 0 {
		c.log.Debug().Int64("rows", pruned).Msg("Pruned old observations")
	}

	c.persist()
}

func (c *Collector) collectChain(ctx context.Context, spec *chain.Spec, status *ChainStatus) error {
	if spec.DefaultPool == nil {
		return nil
	}
	poolID := spec.DefaultPool.ID()

	slot0, err := c.adapter.Slot0(ctx, spec.ID, poolID)
	if err != nil {
		return fmt.Errorf("failed to read slot0: %w", err)
	}
	liquidity, err := c.adapter.Liquidity(ctx, spec.ID, poolID)
	if err != nil {
		return fmt.Errorf("failed to read liquidity: %w", err)
	}
	growth, err := c.adapter.FeeGrowthGlobals(ctx, spec.ID, poolID)
	if err != nil {
		return fmt.Errorf("failed to read fee growth: %w", err)
	}

	obs := timeseries.PoolObservation{
		Timestamp:        time.Now().UTC(),
		ChainID:          spec.ID,
		PoolAddress:      poolID.Hex(),
		SqrtPriceX96:     slot0.SqrtPriceX96.String(),
		Tick:             slot0.Tick,
		Liquidity:        liquidity.String(),
		Fee:              spec.DefaultPool.Fee,
		FeeGrowthGlobal0: growth.Global0.String(),
		FeeGrowthGlobal1: growth.Global1.String(),
	}
	if err := c.store.InsertPoolPrice(obs); err != nil {
		return err
	}

	// Exchange rate: what one ether buys through the default pool.
	quote, err := c.adapter.QuoteSwap(ctx, chain.SwapQuoteRequest{
		ChainID:    spec.ID,
		PoolKey:    *spec.DefaultPool,
		ZeroForOne: true,
		AmountIn:   oneEther,
	})
	if err != nil {
		return fmt.Errorf("failed to quote exchange rate: %w", err)
	}

	status.USDCPerETH = quote.AmountOut.String()
	return c.store.InsertExchangeRate(timeseries.ExchangeRateSample{
		Timestamp:  obs.Timestamp,
		ChainID:    spec.ID,
		USDCOutput: quote.AmountOut.String(),
	})
}

// Statuses returns a copy of the per-chain collection statuses plus the
// loop's last run time and error.
func (c *Collector) Statuses() (map[uint64]ChainStatus, time.Time, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[uint64]ChainStatus, len(c.statuses))
	for id, s := range c.statuses {
		out[id] = *s
	}
	return out, c.lastRun, c.lastError
}

// Rates returns recent exchange rate rows for the HTTP surface.
func (c *Collector) Rates(chainID *uint64, limit int) ([]timeseries.ExchangeRateSample, error) {
	return c.store.GetRecentRates(chainID, limit)
}

// PoolPrices returns recent pool observation rows for the HTTP surface.
func (c *Collector) PoolPrices(limit int) ([]timeseries.PoolObservation, error) {
	return c.store.GetRecentPoolPrices(limit)
}

// Scores computes the current LOS scores from stored observations.
func (c *Collector) Scores() []allocator.Score {
	ids := make([]uint64, 0, len(c.chains))
	for _, spec := range c.chains {
		ids = append(ids, spec.ID)
	}
	chainMetrics := c.engine.ComputeAll(ids, time.Now().UTC())
	return c.alloc.Compute(c.chains, chainMetrics)
}

// Metrics computes the per-chain metrics map for the HTTP surface.
func (c *Collector) Metrics() map[uint64]*metrics.ChainMetrics {
	ids := make([]uint64, 0, len(c.chains))
	for _, spec := range c.chains {
		ids = append(ids, spec.ID)
	}
	return c.engine.ComputeAll(ids, time.Now().UTC())
}

// Allocations implements the action gates' allocation view: LOS targets
// versus where the manager's capital actually sits, both in percent.
func (c *Collector) Allocations(ctx context.Context) (map[uint64]float64, map[uint64]float64, float64, error) {
	scores := c.Scores()
	targets := make(map[uint64]float64, len(scores))
	for _, s := range scores {
		targets[s.ChainID] = s.TargetAllocation
	}

	usd := make(map[uint64]float64, len(c.chains))
	var totalUSD float64
	for _, spec := range c.chains {
		if spec.DefaultPool == nil {
			continue
		}
		value, err := c.chainCapitalUSD(ctx, spec)
		if err != nil {
			return nil, nil, 0, fmt.Errorf("failed to value chain %d: %w", spec.ID, err)
		}
		usd[spec.ID] = value
		totalUSD += value
	}

	current := make(map[uint64]float64, len(usd))
	for id, value := range usd {
		if totalUSD > 0 {
			current[id] = value / totalUSD * 100
		}
	}
	return targets, current, totalUSD, nil
}

// chainCapitalUSD values the manager's idle balances at the pool's spot
// price. Deployed position value is approximated by the idle side; the
// drift threshold absorbs the error.
func (c *Collector) chainCapitalUSD(ctx context.Context, spec *chain.Spec) (float64, error) {
	manager := spec.Contracts.Manager

	ethWei, err := c.adapter.BalanceNative(ctx, spec.ID, manager)
	if err != nil {
		return 0, err
	}
	usdcUnits, err := c.adapter.BalanceERC20(ctx, spec.ID, spec.Contracts.USDC, manager)
	if err != nil {
		return 0, err
	}
	slot0, err := c.adapter.Slot0(ctx, spec.ID, spec.DefaultPool.ID())
	if err != nil {
		return 0, err
	}

	price := metrics.HumanPrice(slot0.SqrtPriceX96.String())
	ethF, _ := new(big.Float).SetInt(ethWei).Float64()
	usdcF, _ := new(big.Float).SetInt(usdcUnits).Float64()
	return ethF/1e18*price + usdcF/1e6, nil
}

func (c *Collector) persist() {
	if c.cache == nil {
		return
	}

	c.mu.RLock()
	snapshot := Snapshot{
		SavedAt:   time.Now().UTC(),
		LastRun:   c.lastRun,
		LastError: c.lastError,
		Statuses:  make(map[uint64]ChainStatus, len(c.statuses)),
	}
	for id, s := range c.statuses {
		snapshot.Statuses[id] = *s
	}
	c.mu.RUnlock()

	if err := c.cache.Save(&snapshot); err != nil {
		c.log.Warn().Err(err).Msg("Failed to save snapshot cache")
	}
}

func (c *Collector) restore() {
	if c.cache == nil {
		return
	}

	snapshot, err := c.cache.Load()
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to load snapshot cache")
		return
	}
	if snapshot == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRun = snapshot.LastRun
	c.lastError = snapshot.LastError
	for id := range snapshot.Statuses {
		s := snapshot.Statuses[id]
		c.statuses[id] = &s
	}
	c.log.Info().Time("saved_at", snapshot.SavedAt).Msg("Restored snapshot cache")
}
