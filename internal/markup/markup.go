// Package markup derives and applies per-trader-type price offsets. Raw
// configuration rows live in the durable store; at process start Refresh
// precomputes one scalar per (symbol, traderType, side) into the cache, and
// the query path subtracts that scalar from every candle price field.
package markup

import (
	"context"
	"log"
	"strconv"

	"fxcandles/internal/model"
)

// Service resolves and applies markups via the cache's scalar keys.
type Service struct {
	cache model.CandleCache
}

// New creates a markup service over the cache.
func New(cache model.CandleCache) *Service {
	return &Service{cache: cache}
}

// Value derives the applied markup from a raw configuration row:
// 10 * pips / pointsPerUnit. A zero pointsPerUnit yields zero rather than
// dividing.
func Value(pips, pointsPerUnit float64) float64 {
	if pointsPerUnit == 0 {
		return 0
	}
	return 10 * pips / pointsPerUnit
}

// Refresh precomputes the markup scalar for every configuration row and
// stores it in the cache. Rows that fail to store are logged and skipped so
// one bad row cannot block startup.
func (s *Service) Refresh(ctx context.Context, rows []model.MarkupConfig) error {
	for _, r := range rows {
		m := model.Markup{
			Symbol:     r.Symbol,
			TraderType: r.TraderType,
			Side:       r.Side,
			Value:      Value(r.Pips, r.PointsPerUnit),
		}
		if err := s.cache.SetMarkup(ctx, m); err != nil {
			log.Printf("[markup] set %s/%s/%s: %v", r.Symbol, r.TraderType, r.Side, err)
			continue
		}
	}
	return nil
}

// For returns the markup scalar for a symbol and trader type on the BID side.
// Missing keys yield zero: an unconfigured pair is served unadjusted.
func (s *Service) For(ctx context.Context, symbol string, tt model.TraderType) (float64, error) {
	if tt == "" {
		return 0, nil
	}
	return s.cache.Markup(ctx, symbol, tt, model.SideBid)
}

// Apply subtracts the markup from every price field of the candle and rounds
// each result to 10 decimal places. The input candle is not modified.
func Apply(c model.Candle, markup float64) model.Candle {
	if markup == 0 {
		return c
	}
	c.Open = round10(c.Open - markup)
	c.High = round10(c.High - markup)
	c.Low = round10(c.Low - markup)
	c.Close = round10(c.Close - markup)
	return c
}

// ApplyAll applies the markup to every candle in the slice.
func ApplyAll(candles []model.Candle, markup float64) []model.Candle {
	if markup == 0 {
		return candles
	}
	out := make([]model.Candle, len(candles))
	for i, c := range candles {
		out[i] = Apply(c, markup)
	}
	return out
}

// round10 rounds to 10 decimal places by formatting and re-parsing, which
// matches the precision the wire format carries.
func round10(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 10, 64), 64)
	if err != nil {
		return v
	}
	return r
}
