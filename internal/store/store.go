package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vasaquant/securities-ingest/internal/metrics"
	"github.com/vasaquant/securities-ingest/pkg/model"
)

// ErrNotFound is returned for lookups of names/symbols with no stored row.
var ErrNotFound = errors.New("not found")

// marketListCacheTTL bounds staleness of the Redis name→id cache. Market
// lists are never deleted, so a long TTL is safe.
const marketListCacheTTL = 24 * time.Hour

// Store defines the contract for the catalogue and price persistence layer.
type Store interface {
	ResolveMarketList(ctx context.Context, name string) (uuid.UUID, error)
	GetMarketListID(ctx context.Context, name string) (uuid.UUID, error)
	ListMarketLists(ctx context.Context) ([]model.MarketList, error)

	UpsertInstruments(ctx context.Context, marketListID uuid.UUID, records []model.InstrumentRecord) (model.InstrumentsAck, error)
	GetMarketListInstruments(ctx context.Context, marketListID uuid.UUID) ([]model.Instrument, error)
	GetInstrumentSymbols(ctx context.Context, marketListID uuid.UUID) ([]model.Instrument, error)
	GetSectors(ctx context.Context) ([]string, error)
	GetSectorInstruments(ctx context.Context, sector string) ([]model.Instrument, error)

	InsertPriceBars(ctx context.Context, instrumentID uuid.UUID, bars []model.PriceBar) (model.PriceInsertReport, error)
	GetPriceData(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceRow, error)
	GetFirstAvailableDate(ctx context.Context, symbol string) (time.Time, error)
	GetLastAvailableDate(ctx context.Context, symbol string) (time.Time, error)

	InsertQuote(ctx context.Context, quote model.Quote) (inserted bool, err error)

	HealthCheck(ctx context.Context) error
	Close() error
}

// HybridStore is a Redis-cached, Postgres-backed store. Postgres is the
// source of truth; Redis only caches market-list name→id resolution.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	logger *zap.Logger
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewHybrid creates the store and verifies both backends are reachable.
func NewHybrid(redisAddr string, redisDB int, pgURL string, poolCfg PGPoolConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   redisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &HybridStore{redis: rdb, PG: pool, logger: logger}, nil
}

// ResolveMarketList returns the id for a market-list name, creating the row
// on first reference. The insert is conditional on the unique name, so
// repeated calls never create duplicates. This is the idempotency anchor for
// the whole pipeline.
func (s *HybridStore) ResolveMarketList(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := s.cachedMarketListID(ctx, name); ok {
		return id, nil
	}

	_, err := s.PG.Exec(ctx, `
		INSERT INTO market_lists (id, market_list)
		VALUES ($1, $2)
		ON CONFLICT (market_list) DO NOTHING;
	`, uuid.New(), name)
	if err != nil {
		return uuid.Nil, fmt.Errorf("market list insert [%s]: %w", name, err)
	}

	id, err := s.selectMarketListID(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	s.cacheMarketListID(ctx, name, id)
	return id, nil
}

// GetMarketListID looks up an existing market list without creating it.
func (s *HybridStore) GetMarketListID(ctx context.Context, name string) (uuid.UUID, error) {
	if id, ok := s.cachedMarketListID(ctx, name); ok {
		return id, nil
	}
	id, err := s.selectMarketListID(ctx, name)
	if err != nil {
		return uuid.Nil, err
	}
	s.cacheMarketListID(ctx, name, id)
	return id, nil
}

func (s *HybridStore) selectMarketListID(ctx context.Context, name string) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.PG.QueryRow(ctx, `
		SELECT id FROM market_lists WHERE market_list = $1;
	`, name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("market list [%s]: %w", name, ErrNotFound)
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("market list select [%s]: %w", name, err)
	}
	return id, nil
}

func (s *HybridStore) cachedMarketListID(ctx context.Context, name string) (uuid.UUID, bool) {
	val, err := s.redis.Get(ctx, marketListKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false
	}
	if err != nil {
		s.logger.Warn("store.redis.get_failed", zap.String("market_list", name), zap.Error(err))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (s *HybridStore) cacheMarketListID(ctx context.Context, name string, id uuid.UUID) {
	if err := s.redis.Set(ctx, marketListKey(name), id.String(), marketListCacheTTL).Err(); err != nil {
		s.logger.Warn("store.redis.set_failed", zap.String("market_list", name), zap.Error(err))
	}
}

func marketListKey(name string) string {
	return "market_list:" + name
}

func (s *HybridStore) ListMarketLists(ctx context.Context) ([]model.MarketList, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT id, market_list FROM market_lists ORDER BY market_list;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []model.MarketList
	for rows.Next() {
		var ml model.MarketList
		if err := rows.Scan(&ml.ID, &ml.Name); err != nil {
			return nil, err
		}
		lists = append(lists, ml)
	}
	return lists, rows.Err()
}

// UpsertInstruments merges the batch into the catalogue: find-or-create by
// symbol, last-write-wins on scalar attributes (industry only when supplied),
// and set-union membership. Re-submitting the same batch is a no-op beyond
// the attribute overwrite. Per-record failures are collected, not fatal.
func (s *HybridStore) UpsertInstruments(ctx context.Context, marketListID uuid.UUID, records []model.InstrumentRecord) (model.InstrumentsAck, error) {
	ack := model.InstrumentsAck{Acknowledged: true}

	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			ack.Failed = append(ack.Failed, rec.Symbol)
			s.logger.Warn("store.pg.instrument_invalid", zap.Error(err))
			continue
		}

		var instrumentID uuid.UUID
		err := s.PG.QueryRow(ctx, `
			INSERT INTO instruments (id, symbol, instrument, industry)
			VALUES ($1, $2, $3, NULLIF($4, ''))
			ON CONFLICT (symbol) DO UPDATE SET
				instrument = EXCLUDED.instrument,
				industry = COALESCE(NULLIF(EXCLUDED.industry, ''), instruments.industry)
			RETURNING id;
		`, uuid.New(), rec.Symbol, rec.Name, rec.Industry).Scan(&instrumentID)
		if err != nil {
			ack.Failed = append(ack.Failed, rec.Symbol)
			s.logger.Error("store.pg.instrument_upsert_failed",
				zap.String("symbol", rec.Symbol), zap.Error(err))
			continue
		}

		// Membership is a set: re-adding an existing pair is a no-op.
		_, err = s.PG.Exec(ctx, `
			INSERT INTO instrument_market_lists (instrument_id, market_list_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING;
		`, instrumentID, marketListID)
		if err != nil {
			ack.Failed = append(ack.Failed, rec.Symbol)
			s.logger.Error("store.pg.membership_insert_failed",
				zap.String("symbol", rec.Symbol), zap.Error(err))
			continue
		}

		ack.Upserted++
	}

	return ack, nil
}

func (s *HybridStore) GetMarketListInstruments(ctx context.Context, marketListID uuid.UUID) ([]model.Instrument, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT i.id, i.symbol, i.instrument, COALESCE(i.industry, '')
		FROM instruments i
		JOIN instrument_market_lists iml ON iml.instrument_id = i.id
		WHERE iml.market_list_id = $1
		ORDER BY i.symbol;
	`, marketListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstruments(rows)
}

func (s *HybridStore) GetInstrumentSymbols(ctx context.Context, marketListID uuid.UUID) ([]model.Instrument, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT i.id, i.symbol
		FROM instruments i
		JOIN instrument_market_lists iml ON iml.instrument_id = i.id
		WHERE iml.market_list_id = $1
		ORDER BY i.symbol;
	`, marketListID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instruments []model.Instrument
	for rows.Next() {
		var ins model.Instrument
		if err := rows.Scan(&ins.ID, &ins.Symbol); err != nil {
			return nil, err
		}
		instruments = append(instruments, ins)
	}
	return instruments, rows.Err()
}

func (s *HybridStore) GetSectors(ctx context.Context) ([]string, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT DISTINCT industry FROM instruments
		WHERE industry IS NOT NULL
		ORDER BY industry;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sectors []string
	for rows.Next() {
		var sector string
		if err := rows.Scan(&sector); err != nil {
			return nil, err
		}
		sectors = append(sectors, sector)
	}
	return sectors, rows.Err()
}

func (s *HybridStore) GetSectorInstruments(ctx context.Context, sector string) ([]model.Instrument, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT id, symbol, instrument, COALESCE(industry, '')
		FROM instruments
		WHERE industry = $1
		ORDER BY symbol;
	`, sector)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstruments(rows)
}

func scanInstruments(rows pgx.Rows) ([]model.Instrument, error) {
	var instruments []model.Instrument
	for rows.Next() {
		var ins model.Instrument
		if err := rows.Scan(&ins.ID, &ins.Symbol, &ins.Name, &ins.Industry); err != nil {
			return nil, err
		}
		instruments = append(instruments, ins)
	}
	return instruments, rows.Err()
}

// InsertPriceBars writes OHLCV bars with a single conditional insert per bar.
// The (instrument_id, date_time) primary key makes the dedup atomic: there is
// no separate existence check to race against. Bars failing validation are
// routed to IncorrectData without touching the database.
func (s *HybridStore) InsertPriceBars(ctx context.Context, instrumentID uuid.UUID, bars []model.PriceBar) (model.PriceInsertReport, error) {
	report := model.PriceInsertReport{
		PrevExistingDates: []time.Time{},
		IncorrectData:     []model.PriceBar{},
	}

	for _, bar := range bars {
		if err := bar.Validate(); err != nil {
			report.IncorrectData = append(report.IncorrectData, bar)
			continue
		}

		ct, err := s.PG.Exec(ctx, `
			INSERT INTO price_data (
				instrument_id, open_price, high_price,
				low_price, close_price, volume, date_time
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (instrument_id, date_time) DO NOTHING;
		`, instrumentID, *bar.Open, *bar.High, *bar.Low, *bar.Close, *bar.Volume, bar.Date.UTC())
		if err != nil {
			s.logger.Error("store.pg.price_insert_failed",
				zap.String("instrument_id", instrumentID.String()),
				zap.Time("date_time", *bar.Date),
				zap.Error(err))
			return report, err
		}

		if ct.RowsAffected() == 0 {
			report.PrevExistingDates = append(report.PrevExistingDates, bar.Date.UTC())
			metrics.PriceBarsDuplicate.Inc()
		} else {
			report.Inserted++
			metrics.PriceBarsInserted.Inc()
		}
	}

	return report, nil
}

func (s *HybridStore) GetPriceData(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceRow, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT i.symbol,
			p.open_price, p.high_price, p.low_price, p.close_price,
			p.volume, p.date_time AT TIME ZONE 'UTC'
		FROM instruments i
		JOIN price_data p ON p.instrument_id = i.id
		WHERE UPPER(i.symbol) = UPPER($1)
		AND p.date_time >= $2
		AND p.date_time <= $3
		ORDER BY p.date_time;
	`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prices []model.PriceRow
	for rows.Next() {
		var row model.PriceRow
		if err := rows.Scan(&row.Symbol, &row.Open, &row.High, &row.Low,
			&row.Close, &row.Volume, &row.Date); err != nil {
			return nil, err
		}
		prices = append(prices, row)
	}
	return prices, rows.Err()
}

func (s *HybridStore) GetFirstAvailableDate(ctx context.Context, symbol string) (time.Time, error) {
	return s.boundaryDate(ctx, symbol, "MIN")
}

func (s *HybridStore) GetLastAvailableDate(ctx context.Context, symbol string) (time.Time, error) {
	return s.boundaryDate(ctx, symbol, "MAX")
}

func (s *HybridStore) boundaryDate(ctx context.Context, symbol, agg string) (time.Time, error) {
	if agg != "MIN" && agg != "MAX" {
		return time.Time{}, fmt.Errorf("invalid aggregate %q", agg)
	}
	var dt *time.Time
	err := s.PG.QueryRow(ctx, `
		SELECT `+agg+`(p.date_time)
		FROM instruments i
		JOIN price_data p ON p.instrument_id = i.id
		WHERE UPPER(i.symbol) = UPPER($1);
	`, symbol).Scan(&dt)
	if err != nil {
		return time.Time{}, err
	}
	if dt == nil {
		return time.Time{}, fmt.Errorf("no price data for [%s]: %w", symbol, ErrNotFound)
	}
	return dt.UTC(), nil
}

// InsertQuote stores a single quote observation, deduplicated on
// (symbol, date_time) the same way price bars are.
func (s *HybridStore) InsertQuote(ctx context.Context, quote model.Quote) (bool, error) {
	if err := quote.Validate(); err != nil {
		return false, err
	}
	ct, err := s.PG.Exec(ctx, `
		INSERT INTO quotes (symbol, price, date_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol, date_time) DO NOTHING;
	`, quote.Symbol, quote.Price, quote.DateTime.UTC())
	if err != nil {
		return false, fmt.Errorf("quote insert [%s]: %w", quote.Symbol, err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
