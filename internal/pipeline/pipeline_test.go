package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"fxcandles/internal/agg"
	"fxcandles/internal/model"
	"fxcandles/internal/queue"
)

// memQueue records enqueued payloads per stream.
type memQueue struct {
	mu      sync.Mutex
	streams map[string][][]byte
}

func newMemQueue() *memQueue {
	return &memQueue{streams: make(map[string][][]byte)}
}

func (m *memQueue) Enqueue(_ context.Context, stream string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[stream] = append(m.streams[stream], payload)
	return nil
}

// memCache implements model.CandleCache in memory.
type memCache struct {
	mu      sync.Mutex
	candles map[string]map[int64]model.Candle
	ticks   map[string][]model.Tick
}

func newMemCache() *memCache {
	return &memCache{
		candles: make(map[string]map[int64]model.Candle),
		ticks:   make(map[string][]model.Tick),
	}
}

func (m *memCache) CandleAt(_ context.Context, symbol string, res model.Resolution, score int64) (*model.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.candles[model.CandleSetKey(symbol, res)][score]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

func (m *memCache) ReplaceCandle(_ context.Context, c *model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.candles[c.Key()] == nil {
		m.candles[c.Key()] = make(map[int64]model.Candle)
	}
	m.candles[c.Key()][c.Score()] = *c
	return nil
}

func (m *memCache) RangeCandles(context.Context, string, model.Resolution, int64, int64) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCache) LatestCandles(context.Context, string, model.Resolution, int64) ([]model.Candle, error) {
	return nil, nil
}

func (m *memCache) Backfill(context.Context, string, model.Resolution, []model.Candle) error {
	return nil
}

func (m *memCache) PushTick(_ context.Context, t *model.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.TickSetKey(t.Symbol, t.Side)
	m.ticks[key] = append(m.ticks[key], *t)
	return nil
}

func (m *memCache) TicksRange(context.Context, string, model.Side, int64, int64) ([]model.Tick, error) {
	return nil, nil
}

func (m *memCache) FlushSeries(context.Context, string, model.Resolution) error { return nil }

func (m *memCache) Markup(context.Context, string, model.TraderType, model.Side) (float64, error) {
	return 0, nil
}

func (m *memCache) SetMarkup(context.Context, model.Markup) error { return nil }
func (m *memCache) Close() error                                  { return nil }

// memStore implements model.CandleStore in memory with PK-style tick dedup.
type memStore struct {
	mu      sync.Mutex
	ticks   map[string]model.Tick
	candles map[string]model.Candle
}

func newMemStore() *memStore {
	return &memStore{
		ticks:   make(map[string]model.Tick),
		candles: make(map[string]model.Candle),
	}
}

func (m *memStore) InsertTick(_ context.Context, t *model.Tick) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%s|%d|%d", model.TickSetKey(t.Symbol, t.Side), t.Timestamp.Unix(), t.Lots)
	if _, exists := m.ticks[key]; exists {
		return nil // INSERT OR IGNORE
	}
	m.ticks[key] = *t
	return nil
}

func (m *memStore) UpsertCandle(_ context.Context, side model.Side, c *model.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := string(side) + "|" + c.Key() + "|" + c.BucketStart.UTC().Format(time.RFC3339)
	if existing, ok := m.candles[key]; ok {
		if c.High > existing.High {
			existing.High = c.High
		}
		if c.Low < existing.Low {
			existing.Low = c.Low
		}
		existing.Close = c.Close
		m.candles[key] = existing
		return nil
	}
	m.candles[key] = *c
	return nil
}

func (m *memStore) ReadCandles(context.Context, string, model.Side, model.Resolution, int64, int64) ([]model.Candle, error) {
	return nil, nil
}

func (m *memStore) ReadAllCandles(context.Context, string, model.Side, model.Resolution) ([]model.Candle, error) {
	return nil, nil
}

func (m *memStore) Close() error { return nil }

func newTestPipeline() (*Pipeline, *memQueue, *memCache, *memStore) {
	jobs := newMemQueue()
	cache := newMemCache()
	store := newMemStore()
	p := New(jobs, cache, store, agg.New(cache, store))
	return p, jobs, cache, store
}

func TestHandleTickJob_BidFansOutPerResolution(t *testing.T) {
	p, jobs, cache, store := newTestPipeline()
	ctx := context.Background()

	tick := model.Tick{
		Symbol:    "EURUSD",
		Price:     1.1,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Lots:      2,
		Side:      model.SideBid,
	}
	payload, _ := json.Marshal(TickJob{Tick: tick})

	if err := p.HandleTickJob(ctx, payload); err != nil {
		t.Fatalf("handle tick job: %v", err)
	}

	if len(store.ticks) != 1 {
		t.Errorf("expected 1 durable tick, got %d", len(store.ticks))
	}
	if len(cache.ticks[model.TickSetKey("EURUSD", model.SideBid)]) != 1 {
		t.Errorf("expected 1 cached raw tick")
	}

	got := jobs.streams[queue.CandleStream]
	if len(got) != len(model.AllResolutions) {
		t.Fatalf("expected %d candle jobs, got %d", len(model.AllResolutions), len(got))
	}
	seen := map[model.Resolution]bool{}
	for _, raw := range got {
		var job CandleJob
		if err := json.Unmarshal(raw, &job); err != nil {
			t.Fatalf("unmarshal candle job: %v", err)
		}
		seen[job.Resolution] = true
	}
	for _, res := range model.AllResolutions {
		if !seen[res] {
			t.Errorf("missing candle job for %s", res)
		}
	}
}

func TestHandleTickJob_AskPersistsWithoutFanout(t *testing.T) {
	p, jobs, _, store := newTestPipeline()
	ctx := context.Background()

	tick := model.Tick{
		Symbol:    "EURUSD",
		Price:     1.2,
		Timestamp: time.Now().UTC(),
		Lots:      1,
		Side:      model.SideAsk,
	}
	payload, _ := json.Marshal(TickJob{Tick: tick})

	if err := p.HandleTickJob(ctx, payload); err != nil {
		t.Fatalf("handle tick job: %v", err)
	}
	if len(store.ticks) != 1 {
		t.Errorf("ASK ticks must still be persisted")
	}
	if len(jobs.streams[queue.CandleStream]) != 0 {
		t.Errorf("ASK ticks must not produce candle jobs")
	}
}

func TestHandleTickJob_RedeliveryIsIdempotentAtDurableTier(t *testing.T) {
	p, _, _, store := newTestPipeline()
	ctx := context.Background()

	tick := model.Tick{
		Symbol:    "EURUSD",
		Price:     1.3,
		Timestamp: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Lots:      7,
		Side:      model.SideBid,
	}
	payload, _ := json.Marshal(TickJob{Tick: tick})

	// At-least-once: the same job may be delivered twice.
	if err := p.HandleTickJob(ctx, payload); err != nil {
		t.Fatal(err)
	}
	if err := p.HandleTickJob(ctx, payload); err != nil {
		t.Fatal(err)
	}
	if len(store.ticks) != 1 {
		t.Errorf("duplicate delivery must dedup on (ticktime, lots), got %d rows", len(store.ticks))
	}
}

func TestHandleCandleJob_AppliesAggregator(t *testing.T) {
	p, _, cache, _ := newTestPipeline()
	ctx := context.Background()

	ts := time.Date(2024, 3, 1, 10, 0, 30, 0, time.UTC)
	tick := model.Tick{Symbol: "EURUSD", Price: 1.4, Timestamp: ts, Lots: 1, Side: model.SideBid}
	payload, _ := json.Marshal(CandleJob{Tick: tick, Resolution: model.M1})

	if err := p.HandleCandleJob(ctx, payload); err != nil {
		t.Fatalf("handle candle job: %v", err)
	}

	c, _ := cache.CandleAt(ctx, "EURUSD", model.M1, model.M1.BucketStart(ts).Unix())
	if c == nil {
		t.Fatal("expected candle in cache")
	}
	if c.Open != 1.4 || c.Close != 1.4 {
		t.Errorf("unexpected candle %+v", c)
	}
}

func TestHandleJobs_DropMalformedPayloads(t *testing.T) {
	p, jobs, _, store := newTestPipeline()
	ctx := context.Background()

	if err := p.HandleTickJob(ctx, []byte("{not json")); err != nil {
		t.Errorf("malformed tick job must be dropped, not retried: %v", err)
	}
	if err := p.HandleCandleJob(ctx, []byte("{not json")); err != nil {
		t.Errorf("malformed candle job must be dropped, not retried: %v", err)
	}
	if len(store.ticks) != 0 || len(jobs.streams[queue.CandleStream]) != 0 {
		t.Errorf("malformed payloads must have no side effects")
	}
}
