// Package metrics turns raw pool observations into per-chain fee APR and
// price volatility figures over fixed look-back windows.
package metrics

import (
	"math"
	"math/big"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/timeseries"
	"github.com/aristath/liquidity-sentinel/pkg/formulas"
)

const (
	// secondsPerYear is the Julian year, the annualization basis.
	secondsPerYear = 31_557_600.0

	// minSpanSeconds is the smallest window span a fee APR may be
	// computed over.
	minSpanSeconds = 60.0

	// rsiLength is the standard 14-period RSI look-back.
	rsiLength = 14
)

// Look-back windows. The "1 day" window spans 25 hours on purpose so a
// slightly late collection still sees a full day of growth.
const (
	Window30Min = 30 * time.Minute
	Window4Hr   = 4 * time.Hour
	Window1Day  = 25 * time.Hour
)

// Volatility summarizes price movement over a window. The coefficient of
// variation is the number downstream consumers use; the rest are
// diagnostics.
type Volatility struct {
	Min                    float64 `json:"min"`
	Max                    float64 `json:"max"`
	Range                  float64 `json:"range"`
	Mean                   float64 `json:"mean"`
	StdDev                 float64 `json:"stddev"`
	CoefficientOfVariation float64 `json:"coefficientOfVariation"`
}

// ChainMetrics is the full per-chain metrics snapshot.
type ChainMetrics struct {
	ChainID uint64 `json:"chainId"`

	Apr30Min *float64 `json:"apr30min"`
	Apr4Hr   *float64 `json:"apr4hr"`
	Apr1Day  *float64 `json:"apr1day"`

	Volatility30Min *Volatility `json:"volatility30min"`
	Volatility4Hr   *Volatility `json:"volatility4hr"`
	Volatility1Day  *Volatility `json:"volatility1day"`

	// Rsi1Day is the 14-period RSI of the day's price series, a
	// momentum diagnostic for the HTTP surface.
	Rsi1Day *float64 `json:"rsi1day"`

	// LiquidityUSD estimates the pool's capital on the full-range basis,
	// taken from the newest usable window.
	LiquidityUSD *float64 `json:"liquidityUsd"`

	ObservationCount int        `json:"observationCount"`
	LatestTimestamp  *time.Time `json:"latestTimestamp"`
}

// PreferredFeeApr returns the fee APR on the agreed fallback order:
// 4h, then 30m, then 1d. Zero when no window produced a value.
func (m *ChainMetrics) PreferredFeeApr() float64 {
	for _, v := range []*float64{m.Apr4Hr, m.Apr30Min, m.Apr1Day} {
		if v != nil {
			return *v
		}
	}
	return 0
}

// PreferredVolatility returns the coefficient of variation on the same
// fallback order as PreferredFeeApr.
func (m *ChainMetrics) PreferredVolatility() float64 {
	for _, v := range []*Volatility{m.Volatility4Hr, m.Volatility30Min, m.Volatility1Day} {
		if v != nil {
			return v.CoefficientOfVariation
		}
	}
	return 0
}

// Engine computes metrics from the time-series store.
type Engine struct {
	store *timeseries.Store
	log   zerolog.Logger
}

// NewEngine creates a metrics engine over the time-series store.
func NewEngine(store *timeseries.Store, log zerolog.Logger) *Engine {
	return &Engine{
		store: store,
		log:   log.With().Str("component", "metrics").Logger(),
	}
}

// ComputeForChain computes all windows for one chain as of now.
// Observations after now are excluded so a window's value never changes
// once later rows are appended.
func (e *Engine) ComputeForChain(chainID uint64, now time.Time) (*ChainMetrics, error) {
	observations, err := e.store.GetPoolPricesForChain(chainID, now.Add(-Window1Day), &now)
	if err != nil {
		return nil, err
	}

	m := &ChainMetrics{ChainID: chainID, ObservationCount: len(observations)}
	if len(observations) > 0 {
		ts := observations[len(observations)-1].Timestamp
		m.LatestTimestamp = &ts
	}

	for _, w := range []struct {
		window time.Duration
		apr    **float64
		vol    **Volatility
	}{
		{Window30Min, &m.Apr30Min, &m.Volatility30Min},
		{Window4Hr, &m.Apr4Hr, &m.Volatility4Hr},
		{Window1Day, &m.Apr1Day, &m.Volatility1Day},
	} {
		windowed := clampWindow(observations, now.Add(-w.window))
		apr, liquidityUSD := FeeAPR(windowed)
		*w.apr = apr
		if apr != nil && m.LiquidityUSD == nil {
			m.LiquidityUSD = liquidityUSD
		}
		*w.vol = PriceVolatility(windowed)
	}

	m.Rsi1Day = PriceRSI(observations, rsiLength)

	return m, nil
}

// ComputeAll computes metrics for every chain id, skipping chains whose
// store reads fail.
func (e *Engine) ComputeAll(chainIDs []uint64, now time.Time) map[uint64]*ChainMetrics {
	out := make(map[uint64]*ChainMetrics, len(chainIDs))
	for _, id := range chainIDs {
		m, err := e.ComputeForChain(id, now)
		if err != nil {
			e.log.Warn().Err(err).Uint64("chain", id).Msg("Failed to compute metrics")
			continue
		}
		out[id] = m
	}
	return out
}

// FeeAPR computes the annualized per-unit-liquidity fee yield between the
// oldest and newest observations with nonzero fee growth. The second
// return is the pool's liquidity valued in USD on the same basis.
// Returns nil when the window cannot support an estimate.
func FeeAPR(observations []timeseries.PoolObservation) (*float64, *float64) {
	usable := make([]timeseries.PoolObservation, 0, len(observations))
	for _, obs := range observations {
		if !isZero(obs.FeeGrowthGlobal0) || !isZero(obs.FeeGrowthGlobal1) {
			usable = append(usable, obs)
		}
	}
	if len(usable) < 2 {
		return nil, nil
	}

	oldest, newest := usable[0], usable[len(usable)-1]
	span := newest.Timestamp.Sub(oldest.Timestamp).Seconds()
	if span < minSpanSeconds {
		return nil, nil
	}

	// Fee growth accumulators wrap mod 2^256; the delta is taken in the
	// same ring.
	dg0 := wrappedDelta(oldest.FeeGrowthGlobal0, newest.FeeGrowthGlobal0)
	dg1 := wrappedDelta(oldest.FeeGrowthGlobal1, newest.FeeGrowthGlobal1)
	if dg0 == 0 && dg1 == 0 {
		return nil, nil
	}

	twoPow128 := math.Pow(2, 128)
	g0 := dg0 / twoPow128
	g1 := dg1 / twoPow128

	price := rawPrice(newest.SqrtPriceX96)
	capital := 2 * math.Sqrt(price) // full-range capital per unit liquidity
	if capital == 0 {
		return nil, nil
	}

	fee := g0*price + g1
	apr := (fee / capital) / span * secondsPerYear

	liquidity := bigToFloat(newest.Liquidity)
	liquidityUSD := liquidity * capital / 1e6

	return &apr, &liquidityUSD
}

// PriceVolatility summarizes the human-price series of a window. Returns
// nil when the window has fewer than two observations.
func PriceVolatility(observations []timeseries.PoolObservation) *Volatility {
	if len(observations) < 2 {
		return nil
	}

	prices := make([]float64, 0, len(observations))
	for _, obs := range observations {
		prices = append(prices, HumanPrice(obs.SqrtPriceX96))
	}

	min, max := formulas.MinMax(prices)
	mean := formulas.Mean(prices)
	stddev := formulas.StdDev(prices)

	return &Volatility{
		Min:                    min,
		Max:                    max,
		Range:                  max - min,
		Mean:                   mean,
		StdDev:                 stddev,
		CoefficientOfVariation: formulas.CoefficientOfVariation(prices),
	}
}

// PriceRSI computes the RSI over a window's human-price series. Returns
// nil with fewer than length+1 observations.
func PriceRSI(observations []timeseries.PoolObservation, length int) *float64 {
	prices := make([]float64, 0, len(observations))
	for _, obs := range observations {
		prices = append(prices, HumanPrice(obs.SqrtPriceX96))
	}
	return formulas.CalculateRSI(prices, length)
}

// HumanPrice maps a sqrtPriceX96 to an ETH/USDC price, correcting for
// the 18 vs 6 decimal difference.
func HumanPrice(sqrtPriceX96 string) float64 {
	return rawPrice(sqrtPriceX96) * 1e12
}

// rawPrice is (sqrtPriceX96 / 2^96)^2, token1 per token0 in raw units.
func rawPrice(sqrtPriceX96 string) float64 {
	sqrt := bigToFloat(sqrtPriceX96) / math.Pow(2, 96)
	return sqrt * sqrt
}

// wrappedDelta computes (new - old) mod 2^256 as a float.
func wrappedDelta(oldVal, newVal string) float64 {
	o := parseUint256(oldVal)
	n := parseUint256(newVal)
	d := new(uint256.Int).Sub(n, o)
	f, _ := new(big.Float).SetInt(d.ToBig()).Float64()
	return f
}

func parseUint256(s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.NewInt(0)
	}
	return v
}

func bigToFloat(s string) float64 {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}

func isZero(s string) bool {
	for _, c := range s {
		if c != '0' {
			return false
		}
	}
	return true
}

// clampWindow keeps observations at or after cutoff; input is ascending
// by time.
func clampWindow(observations []timeseries.PoolObservation, cutoff time.Time) []timeseries.PoolObservation {
	for i, obs := range observations {
		if !obs.Timestamp.Before(cutoff) {
			return observations[i:]
		}
	}
	return nil
}
