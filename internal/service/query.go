// Package service answers historical-candle requests. Reads come from the
// cache; the full-history variant falls back to the durable store on a cold
// cache and writes the rows back (cache-aside). Markup is applied last, at
// read time, so the stored series stays unadjusted.
package service

import (
	"context"
	"fmt"
	"log"

	"fxcandles/internal/markup"
	"fxcandles/internal/model"
)

// Request is a resolved, validated candle query. Exactly one of the range
// (HasRange) or the count limit is in effect.
type Request struct {
	Symbol     string
	Resolution model.Resolution
	From, To   int64 // half-open [From, To), epoch seconds
	HasRange   bool
	Limit      int64
	TraderType model.TraderType // empty means no markup
}

// Query serves candle reads over the cache and durable store.
type Query struct {
	cache   model.CandleCache
	store   model.CandleStore
	markups *markup.Service

	// Metrics hooks (optional, set externally)
	OnBackfill func()
}

// NewQuery creates the query service.
func NewQuery(cache model.CandleCache, store model.CandleStore, markups *markup.Service) *Query {
	return &Query{cache: cache, store: store, markups: markups}
}

// Candles resolves the request and returns candles in ascending bucket order.
// Callers that contract descending order reverse the slice themselves.
func (q *Query) Candles(ctx context.Context, req Request) ([]model.Candle, error) {
	var (
		candles []model.Candle
		err     error
	)
	if req.HasRange {
		candles, err = q.cache.RangeCandles(ctx, req.Symbol, req.Resolution, req.From, req.To)
	} else {
		candles, err = q.latest(ctx, req.Symbol, req.Resolution, req.Limit)
	}
	if err != nil {
		return nil, err
	}

	m, err := q.markups.For(ctx, req.Symbol, req.TraderType)
	if err != nil {
		return nil, fmt.Errorf("markup lookup %s/%s: %w", req.Symbol, req.TraderType, err)
	}
	return markup.ApplyAll(candles, m), nil
}

// latest serves the count-limited variant: newest limit candles, ascending.
// On a cold cache it reads the full series from the durable store, backfills
// the cache with it, and serves from that.
func (q *Query) latest(ctx context.Context, symbol string, res model.Resolution, limit int64) ([]model.Candle, error) {
	newest, err := q.cache.LatestCandles(ctx, symbol, res, limit)
	if err != nil {
		return nil, err
	}
	if len(newest) > 0 {
		return reverse(newest), nil
	}

	// Cold cache: the durable store is the source of truth.
	all, err := q.store.ReadAllCandles(ctx, symbol, model.SideBid, res)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}

	if err := q.cache.Backfill(ctx, symbol, res, all); err != nil {
		// Serve the read anyway; the next cold read retries the backfill.
		log.Printf("[query] backfill %s %s: %v", symbol, res, err)
	} else if q.OnBackfill != nil {
		q.OnBackfill()
	}

	if limit > 0 && int64(len(all)) > limit {
		all = all[int64(len(all))-limit:]
	}
	return all, nil
}

// reverse flips newest-first cache output into ascending order, in place.
func reverse(candles []model.Candle) []model.Candle {
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles
}
