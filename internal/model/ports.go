package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the aggregation and query logic from the concrete
// storage implementations (Redis, SQLite). Each implementation satisfies one
// or more of these interfaces.

// CandleCache is the fast sorted-set tier keyed by (symbol, resolution).
type CandleCache interface {
	// CandleAt returns the candle stored at the exact bucket score, or
	// nil if the series has no entry there.
	CandleAt(ctx context.Context, symbol string, res Resolution, score int64) (*Candle, error)

	// ReplaceCandle removes any entry at the candle's score and inserts the
	// candle, in one round trip.
	ReplaceCandle(ctx context.Context, c *Candle) error

	// RangeCandles returns candles with from <= score < to, ascending.
	RangeCandles(ctx context.Context, symbol string, res Resolution, from, to int64) ([]Candle, error)

	// LatestCandles returns up to limit candles, newest first. limit <= 0
	// returns the whole series.
	LatestCandles(ctx context.Context, symbol string, res Resolution, limit int64) ([]Candle, error)

	// Backfill bulk-inserts candles into a series (cache-aside write-back).
	Backfill(ctx context.Context, symbol string, res Resolution, candles []Candle) error

	// PushTick records a raw tick in the ticks_{symbol}_{side} set.
	PushTick(ctx context.Context, t *Tick) error

	// TicksRange returns raw ticks with from <= score < to, ascending.
	TicksRange(ctx context.Context, symbol string, side Side, from, to int64) ([]Tick, error)

	// FlushSeries drops a cached candle series before repopulation.
	FlushSeries(ctx context.Context, symbol string, res Resolution) error

	// Markup returns the precomputed markup scalar. A missing key yields
	// zero, not an error.
	Markup(ctx context.Context, symbol string, tt TraderType, side Side) (float64, error)

	// SetMarkup stores a precomputed markup scalar.
	SetMarkup(ctx context.Context, m Markup) error

	// Close releases underlying resources.
	Close() error
}

// CandleStore is the durable relational tier, source of truth.
type CandleStore interface {
	// InsertTick persists a raw tick, deduplicating on (ticktime, lots).
	InsertTick(ctx context.Context, t *Tick) error

	// UpsertCandle inserts the candle or merges it into the existing row:
	// high=max, low=min, close=new; open is never touched on conflict.
	UpsertCandle(ctx context.Context, side Side, c *Candle) error

	// ReadCandles returns candles with from <= bucket < to, ascending.
	ReadCandles(ctx context.Context, symbol string, side Side, res Resolution, from, to int64) ([]Candle, error)

	// ReadAllCandles returns the full series, ascending.
	ReadAllCandles(ctx context.Context, symbol string, side Side, res Resolution) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}
