// Package allocator turns per-chain metrics into a target capital
// allocation, the liquidity opportunity score (LOS).
package allocator

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/liquidity-sentinel/internal/chain"
	"github.com/aristath/liquidity-sentinel/internal/metrics"
)

const (
	feeAprWeight     = 0.7
	volatilityWeight = 0.2
	gasWeight        = 0.1

	feeAprScale     = 100
	volatilityScale = 500

	// excludedScore pushes policy-excluded chains far below any real
	// score so softmax starves them.
	excludedScore = -1000

	// allocationFloorPct zeroes shares too small to be worth deploying.
	allocationFloorPct = 5
)

// Score is one chain's opportunity score with its allocation target.
type Score struct {
	ChainID          uint64  `json:"chainId"`
	FeeApr           float64 `json:"feeApr"`
	Volatility       float64 `json:"volatility"`
	GasFactor        float64 `json:"gasFactor"`
	RawScore         float64 `json:"rawScore"`
	Excluded         bool    `json:"excluded"`
	TargetAllocation float64 `json:"targetAllocation"` // percent
}

// Allocator computes LOS scores from metrics and static gas scores.
type Allocator struct {
	gasScores map[uint64]float64
	log       zerolog.Logger
}

// New creates an allocator. gasScores is the static 0-10 table, higher
// meaning cheaper.
func New(gasScores map[uint64]float64, log zerolog.Logger) *Allocator {
	return &Allocator{
		gasScores: gasScores,
		log:       log.With().Str("component", "allocator").Logger(),
	}
}

// Compute scores every chain and distributes 100% across them. Scores
// come back ordered by chain id.
func (a *Allocator) Compute(chains []*chain.Spec, chainMetrics map[uint64]*metrics.ChainMetrics) []Score {
	scores := make([]Score, 0, len(chains))
	for _, spec := range chains {
		s := Score{
			ChainID:   spec.ID,
			GasFactor: a.gasScores[spec.ID],
			Excluded:  spec.Excluded,
		}
		if m := chainMetrics[spec.ID]; m != nil {
			s.FeeApr = m.PreferredFeeApr()
			s.Volatility = m.PreferredVolatility()
		}
		s.RawScore = feeAprScale*s.FeeApr*feeAprWeight +
			volatilityScale*s.Volatility*volatilityWeight +
			s.GasFactor*gasWeight
		scores = append(scores, s)
	}

	allocate(scores)

	sort.Slice(scores, func(i, j int) bool { return scores[i].ChainID < scores[j].ChainID })

	for _, s := range scores {
		a.log.Debug().
			Uint64("chain", s.ChainID).
			Float64("raw_score", s.RawScore).
			Float64("target_pct", s.TargetAllocation).
			Msg("LOS computed")
	}

	return scores
}

// allocate runs the shifted softmax, applies the floor and renormalizes
// the survivors to 100.
func allocate(scores []Score) {
	if len(scores) == 0 {
		return
	}

	effective := make([]float64, len(scores))
	maxScore := math.Inf(-1)
	for i, s := range scores {
		effective[i] = s.RawScore
		if s.Excluded {
			effective[i] = excludedScore
		}
		if effective[i] > maxScore {
			maxScore = effective[i]
		}
	}

	// Shifting by the max keeps exp in range regardless of score scale.
	weights := make([]float64, len(scores))
	var total float64
	for i, s := range effective {
		weights[i] = math.Exp(s - maxScore)
		total += weights[i]
	}
	if total == 0 {
		return
	}

	var surviving float64
	for i := range scores {
		pct := weights[i] / total * 100
		if pct < allocationFloorPct {
			pct = 0
		}
		scores[i].TargetAllocation = pct
		surviving += pct
	}
	if surviving == 0 {
		return
	}

	for i := range scores {
		scores[i].TargetAllocation = scores[i].TargetAllocation / surviving * 100
	}
}

// TargetFor returns the target percentage for a chain, zero when absent.
func TargetFor(scores []Score, chainID uint64) float64 {
	for _, s := range scores {
		if s.ChainID == chainID {
			return s.TargetAllocation
		}
	}
	return 0
}
