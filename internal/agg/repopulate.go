package agg

import (
	"context"
	"log"
	"time"

	"fxcandles/internal/model"
)

// Repopulate rebuilds cached candle series from the raw BID ticks held in the
// cache tick sets. Each series is flushed first so the rebuild starts from an
// empty bucket map. Pairs without a contract size are skipped entirely.
func (a *Aggregator) Repopulate(ctx context.Context, pairs []model.CurrencyPairInfo) error {
	now := time.Now().UTC().Unix() + 1

	for _, pair := range pairs {
		if !pair.HasContract {
			log.Printf("[agg] skipping repopulation for %s: no contract size", pair.Symbol)
			continue
		}

		ticks, err := a.cache.TicksRange(ctx, pair.Symbol, model.SideBid, 0, now)
		if err != nil {
			return err
		}
		if len(ticks) == 0 {
			continue
		}

		for _, res := range model.AllResolutions {
			if err := a.cache.FlushSeries(ctx, pair.Symbol, res); err != nil {
				return err
			}
		}
		for _, t := range ticks {
			if err := a.ApplyAll(ctx, t); err != nil {
				return err
			}
		}
		log.Printf("[agg] repopulated %s from %d ticks", pair.Symbol, len(ticks))
	}
	return nil
}
