package timeseries

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Store handles pool observation and exchange rate persistence.
// Written by the stats loop only; read from any loop.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewStore creates the store and its schema.
func NewStore(db *sql.DB, log zerolog.Logger) (*Store, error) {
	s := &Store{
		db:  db,
		log: log.With().Str("repo", "timeseries").Logger(),
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Schema evolution is additive only; older rows surface missing columns
// as the "0" default.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pool_prices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			pool_address TEXT NOT NULL DEFAULT '0',
			sqrt_price_x96 TEXT NOT NULL DEFAULT '0',
			tick INTEGER NOT NULL DEFAULT 0,
			liquidity TEXT NOT NULL DEFAULT '0',
			fee INTEGER NOT NULL DEFAULT 0,
			fee_growth_global0 TEXT NOT NULL DEFAULT '0',
			fee_growth_global1 TEXT NOT NULL DEFAULT '0'
		);
		CREATE INDEX IF NOT EXISTS idx_pool_prices_chain_ts
			ON pool_prices(chain_id, timestamp);

		CREATE TABLE IF NOT EXISTS exchange_rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			chain_id INTEGER NOT NULL,
			usdc_output TEXT NOT NULL DEFAULT '0'
		);
		CREATE INDEX IF NOT EXISTS idx_exchange_rates_chain_ts
			ON exchange_rates(chain_id, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create timeseries schema: %w", err)
	}
	return nil
}

// InsertPoolPrice appends one observation.
func (s *Store) InsertPoolPrice(obs PoolObservation) error {
	query := `
		INSERT INTO pool_prices
		(timestamp, chain_id, pool_address, sqrt_price_x96, tick, liquidity,
		 fee, fee_growth_global0, fee_growth_global1)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		obs.Timestamp.UTC().Format(time.RFC3339),
		obs.ChainID,
		obs.PoolAddress,
		obs.SqrtPriceX96,
		obs.Tick,
		obs.Liquidity,
		obs.Fee,
		obs.FeeGrowthGlobal0,
		obs.FeeGrowthGlobal1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert pool price: %w", err)
	}
	return nil
}

// InsertExchangeRate appends one exchange rate sample.
func (s *Store) InsertExchangeRate(sample ExchangeRateSample) error {
	query := `
		INSERT INTO exchange_rates (timestamp, chain_id, usdc_output)
		VALUES (?, ?, ?)
	`

	_, err := s.db.Exec(query,
		sample.Timestamp.UTC().Format(time.RFC3339),
		sample.ChainID,
		sample.USDCOutput,
	)
	if err != nil {
		return fmt.Errorf("failed to insert exchange rate: %w", err)
	}
	return nil
}

// GetPoolPricesForChain returns observations for a chain in [minTs, maxTs],
// ascending by time. A nil maxTs means "until now".
func (s *Store) GetPoolPricesForChain(chainID uint64, minTs time.Time, maxTs *time.Time) ([]PoolObservation, error) {
	query := `
		SELECT timestamp, chain_id, pool_address, sqrt_price_x96, tick,
		       liquidity, fee, fee_growth_global0, fee_growth_global1
		FROM pool_prices
		WHERE chain_id = ? AND timestamp >= ?
	`
	args := []interface{}{chainID, minTs.UTC().Format(time.RFC3339)}
	if maxTs != nil {
		query += " AND timestamp <= ?"
		args = append(args, maxTs.UTC().Format(time.RFC3339))
	}
	// The id breaks same-second timestamp ties in insertion order.
	query += " ORDER BY timestamp ASC, id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool prices: %w", err)
	}
	defer rows.Close()

	return s.scanObservations(rows)
}

// GetRecentPoolPrices returns the newest observations across all chains.
func (s *Store) GetRecentPoolPrices(limit int) ([]PoolObservation, error) {
	query := `
		SELECT timestamp, chain_id, pool_address, sqrt_price_x96, tick,
		       liquidity, fee, fee_growth_global0, fee_growth_global1
		FROM pool_prices
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent pool prices: %w", err)
	}
	defer rows.Close()

	return s.scanObservations(rows)
}

// GetRecentRates returns the newest exchange rate samples, optionally
// filtered to one chain.
func (s *Store) GetRecentRates(chainID *uint64, limit int) ([]ExchangeRateSample, error) {
	query := `
		SELECT timestamp, chain_id, usdc_output
		FROM exchange_rates
	`
	var args []interface{}
	if chainID != nil {
		query += " WHERE chain_id = ?"
		args = append(args, *chainID)
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent rates: %w", err)
	}
	defer rows.Close()

	var samples []ExchangeRateSample
	for rows.Next() {
		var sample ExchangeRateSample
		var ts string
		if err := rows.Scan(&ts, &sample.ChainID, &sample.USDCOutput); err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		sample.Timestamp = t
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exchange rates: %w", err)
	}
	return samples, nil
}

// PruneBefore deletes observations older than cutoff. Retention only has
// to cover the widest metrics window.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	ts := cutoff.UTC().Format(time.RFC3339)
	res, err := s.db.Exec("DELETE FROM pool_prices WHERE timestamp < ?", ts)
	if err != nil {
		return 0, fmt.Errorf("failed to prune pool prices: %w", err)
	}
	n, _ := res.RowsAffected()
	if _, err := s.db.Exec("DELETE FROM exchange_rates WHERE timestamp < ?", ts); err != nil {
		return n, fmt.Errorf("failed to prune exchange rates: %w", err)
	}
	return n, nil
}

func (s *Store) scanObservations(rows *sql.Rows) ([]PoolObservation, error) {
	var observations []PoolObservation
	for rows.Next() {
		var obs PoolObservation
		var ts string
		err := rows.Scan(
			&ts,
			&obs.ChainID,
			&obs.PoolAddress,
			&obs.SqrtPriceX96,
			&obs.Tick,
			&obs.Liquidity,
			&obs.Fee,
			&obs.FeeGrowthGlobal0,
			&obs.FeeGrowthGlobal1,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pool price: %w", err)
		}
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		obs.Timestamp = t
		observations = append(observations, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pool prices: %w", err)
	}
	return observations, nil
}
