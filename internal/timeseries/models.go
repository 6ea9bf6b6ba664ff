// Package timeseries persists per-chain pool observations and exchange
// rate samples, the inputs of the metrics engine.
package timeseries

import "time"

// PoolObservation is one append-only pool state row. 256-bit quantities
// are carried as decimal strings end to end.
type PoolObservation struct {
	Timestamp        time.Time `json:"timestamp"`
	ChainID          uint64    `json:"chainId"`
	PoolAddress      string    `json:"poolAddress"`
	SqrtPriceX96     string    `json:"sqrtPriceX96"`
	Tick             int32     `json:"tick"`
	Liquidity        string    `json:"liquidity"`
	Fee              uint32    `json:"fee"` // ppm
	FeeGrowthGlobal0 string    `json:"feeGrowthGlobal0"`
	FeeGrowthGlobal1 string    `json:"feeGrowthGlobal1"`
}

// ExchangeRateSample is a simulated swap quote used as a sanity price
// signal: the USDC output of a fixed-size ETH sell.
type ExchangeRateSample struct {
	Timestamp  time.Time `json:"timestamp"`
	ChainID    uint64    `json:"chainId"`
	USDCOutput string    `json:"usdcOutput"`
}
