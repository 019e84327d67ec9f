// Package sqlite is the durable tier: one ticks table and one candles table
// per symbol/side, created lazily on first write, plus a markups table read
// at process start. It is the source of truth behind the Redis cache.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"fxcandles/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Config configures the SQLite store.
type Config struct {
	DBPath string // path to SQLite database file, e.g. "data/candles.db"
}

// Store wraps a single SQLite database holding ticks, candles and markups.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	created map[string]bool // table names already ensured this process
}

// DB returns the underlying sql.DB for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// New opens the database with WAL mode and creates the static schema.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single-writer: serializes the per-bucket upserts at the pool level too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS markups (
			symbol          TEXT    NOT NULL,
			trader_type     TEXT    NOT NULL,
			side            TEXT    NOT NULL,
			pips            REAL    NOT NULL,
			points_per_unit REAL    NOT NULL,
			effective_date  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_markups_effective
			ON markups (symbol, trader_type, side, effective_date);
	`); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened database at %s", cfg.DBPath)
	return &Store{db: db, created: make(map[string]bool)}, nil
}

// tickTable and candleTable build per symbol/side table names. Symbols come
// from config and the feed; strip anything that is not alphanumeric so a
// symbol can never splice DDL.
func tickTable(symbol string, side model.Side) string {
	return "ticks_" + sanitize(symbol) + "_" + string(side)
}

func candleTable(symbol string, side model.Side) string {
	return "candles_" + sanitize(symbol) + "_" + string(side)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ensureTickTable creates the ticks table for a symbol/side if absent.
func (s *Store) ensureTickTable(ctx context.Context, symbol string, side model.Side) (string, error) {
	table := tickTable(symbol, side)

	s.mu.Lock()
	done := s.created[table]
	s.mu.Unlock()
	if done {
		return table, nil
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			ticktime INTEGER NOT NULL,
			lots     INTEGER NOT NULL,
			price    REAL    NOT NULL,
			PRIMARY KEY (ticktime, lots)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_time ON %[1]s (ticktime);
	`, table))
	if err != nil {
		return "", fmt.Errorf("sqlite create %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return table, nil
}

// ensureCandleTable creates the candles table for a symbol/side if absent.
func (s *Store) ensureCandleTable(ctx context.Context, symbol string, side model.Side) (string, error) {
	table := candleTable(symbol, side)

	s.mu.Lock()
	done := s.created[table]
	s.mu.Unlock()
	if done {
		return table, nil
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			candlesize TEXT    NOT NULL,
			candletime INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			lots       INTEGER NOT NULL,
			PRIMARY KEY (candlesize, candletime)
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_time ON %[1]s (candletime);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_size ON %[1]s (candlesize);
	`, table))
	if err != nil {
		return "", fmt.Errorf("sqlite create %s: %w", table, err)
	}

	s.mu.Lock()
	s.created[table] = true
	s.mu.Unlock()
	return table, nil
}

// InsertTick persists a raw tick. The primary key (ticktime, lots) is the
// dedup key: redelivery of the same tick job is a no-op here.
func (s *Store) InsertTick(ctx context.Context, t *model.Tick) error {
	table, err := s.ensureTickTable(ctx, t.Symbol, t.Side)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT OR IGNORE INTO %s (ticktime, lots, price) VALUES (?, ?, ?)`, table),
		t.Timestamp.Unix(), t.Lots, t.Price,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert tick %s: %w", t.Symbol, err)
	}
	return nil
}

// UpsertCandle inserts the candle or merges it into the existing row in one
// atomic statement. Open is never touched on conflict; high/low converge via
// MAX/MIN so re-applying the same tick is idempotent.
func (s *Store) UpsertCandle(ctx context.Context, side model.Side, c *model.Candle) error {
	table, err := s.ensureCandleTable(ctx, c.Symbol, side)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (candlesize, candletime, open, high, low, close, lots)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (candlesize, candletime) DO UPDATE SET
			high  = MAX(high, excluded.high),
			low   = MIN(low, excluded.low),
			close = excluded.close,
			lots  = excluded.lots
	`, table),
		string(c.Resolution), c.BucketStart.Unix(),
		c.Open, c.High, c.Low, c.Close, c.Lots,
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert candle %s %s: %w", c.Symbol, c.Resolution, err)
	}
	return nil
}

// ReadCandles returns candles with from <= candletime < to, ascending.
func (s *Store) ReadCandles(ctx context.Context, symbol string, side model.Side, res model.Resolution, from, to int64) ([]model.Candle, error) {
	table, err := s.ensureCandleTable(ctx, symbol, side)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT candletime, open, high, low, close, lots
		FROM %s
		WHERE candlesize = ? AND candletime >= ? AND candletime < ?
		ORDER BY candletime ASC
	`, table), string(res), from, to)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanCandles(rows, symbol, res)
}

// ReadAllCandles returns the full series for (symbol, side, resolution), ascending.
func (s *Store) ReadAllCandles(ctx context.Context, symbol string, side model.Side, res model.Resolution) ([]model.Candle, error) {
	table, err := s.ensureCandleTable(ctx, symbol, side)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT candletime, open, high, low, close, lots
		FROM %s
		WHERE candlesize = ?
		ORDER BY candletime ASC
	`, table), string(res))
	if err != nil {
		return nil, fmt.Errorf("sqlite query all candles %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanCandles(rows, symbol, res)
}

func scanCandles(rows *sql.Rows, symbol string, res model.Resolution) ([]model.Candle, error) {
	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var ts int64
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Lots); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.Symbol = symbol
		c.Resolution = res
		c.BucketStart = time.Unix(ts, 0).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// LatestMarkups returns the most recent effective-dated row per
// (symbol, traderType, side).
func (s *Store) LatestMarkups(ctx context.Context) ([]model.MarkupConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.symbol, m.trader_type, m.side, m.pips, m.points_per_unit
		FROM markups m
		JOIN (
			SELECT symbol, trader_type, side, MAX(effective_date) AS eff
			FROM markups
			GROUP BY symbol, trader_type, side
		) latest
		ON  m.symbol = latest.symbol
		AND m.trader_type = latest.trader_type
		AND m.side = latest.side
		AND m.effective_date = latest.eff
	`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query markups: %w", err)
	}
	defer rows.Close()

	var out []model.MarkupConfig
	for rows.Next() {
		var r model.MarkupConfig
		if err := rows.Scan(&r.Symbol, &r.TraderType, &r.Side, &r.Pips, &r.PointsPerUnit); err != nil {
			return nil, fmt.Errorf("sqlite scan markup: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
