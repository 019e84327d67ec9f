// Package agg implements the bucket-update algorithm: a BID tick is floored
// to its resolution bucket and merged into the candle at that bucket in both
// the cache and the durable store.
//
// Updates for the same (symbol, resolution) are serialized through a keyed
// mutex, so the cache read-modify-write can never lose an update between two
// concurrently processed ticks for the same bucket. The durable side is a
// single ON CONFLICT upsert and needs no extra locking.
package agg

import (
	"context"
	"fmt"
	"sync"

	"fxcandles/internal/model"
)

// Aggregator merges ticks into candles across both storage tiers.
type Aggregator struct {
	cache model.CandleCache
	store model.CandleStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // key = "symbol_resolution"

	// Metrics hooks (optional, set externally)
	OnUpsert func()
}

// New creates an Aggregator over the two storage tiers.
func New(cache model.CandleCache, store model.CandleStore) *Aggregator {
	return &Aggregator{
		cache: cache,
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (a *Aggregator) keyLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lk, ok := a.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		a.locks[key] = lk
	}
	return lk
}

// Apply merges one BID tick into the candle for (tick.Symbol, res, bucket).
// Non-BID ticks are ignored. Apply is idempotent: re-applying the same tick
// converges high/low via max/min and rewrites close with the same price.
func (a *Aggregator) Apply(ctx context.Context, tick model.Tick, res model.Resolution) error {
	if tick.Side != model.SideBid {
		return nil
	}

	bucket := res.BucketStart(tick.Timestamp)
	key := model.CandleSetKey(tick.Symbol, res)

	lk := a.keyLock(key)
	lk.Lock()
	defer lk.Unlock()

	existing, err := a.cache.CandleAt(ctx, tick.Symbol, res, bucket.Unix())
	if err != nil {
		return fmt.Errorf("agg: read %s@%d: %w", key, bucket.Unix(), err)
	}

	var c model.Candle
	if existing == nil {
		c = model.Candle{
			Symbol:      tick.Symbol,
			Resolution:  res,
			BucketStart: bucket,
			Open:        tick.Price,
			High:        tick.Price,
			Low:         tick.Price,
			Close:       tick.Price,
			Lots:        tick.Lots,
		}
	} else {
		c = *existing
		if tick.Price > c.High {
			c.High = tick.Price
		}
		if tick.Price < c.Low {
			c.Low = tick.Price
		}
		c.Close = tick.Price
		c.Lots = tick.Lots
		// Open stays whatever the first tick in this bucket set it to.
	}

	if err := a.cache.ReplaceCandle(ctx, &c); err != nil {
		return fmt.Errorf("agg: cache upsert %s@%d: %w", key, bucket.Unix(), err)
	}
	if err := a.store.UpsertCandle(ctx, tick.Side, &c); err != nil {
		return fmt.Errorf("agg: store upsert %s@%d: %w", key, bucket.Unix(), err)
	}

	if a.OnUpsert != nil {
		a.OnUpsert()
	}
	return nil
}

// ApplyAll merges one BID tick into every resolution.
func (a *Aggregator) ApplyAll(ctx context.Context, tick model.Tick) error {
	for _, res := range model.AllResolutions {
		if err := a.Apply(ctx, tick, res); err != nil {
			return err
		}
	}
	return nil
}
