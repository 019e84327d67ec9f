// Package pipeline defines the job payloads and handlers that connect the
// stream client, the work queue, the storage tiers and the aggregator.
//
// Call graph: stream client → IngestTick → tick-persistence job →
// HandleTickJob (durable tick insert + raw tick cache push) → one
// candle-processing job per resolution → HandleCandleJob → Aggregator.
// The candle job is the only path into the Aggregator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"fxcandles/internal/agg"
	"fxcandles/internal/model"
	"fxcandles/internal/queue"
)

// JobQueue is the slice of the work queue the pipeline enqueues into.
type JobQueue interface {
	Enqueue(ctx context.Context, stream string, payload []byte) error
}

// TickJob is the payload of a tick-persistence job.
type TickJob struct {
	Tick model.Tick `json:"tick"`
}

// CandleJob is the payload of a candle-processing job.
type CandleJob struct {
	Tick       model.Tick       `json:"tick"`
	Resolution model.Resolution `json:"resolution"`
}

// Pipeline holds the handlers for both job streams.
type Pipeline struct {
	jobs  JobQueue
	cache model.CandleCache
	store model.CandleStore
	agg   *agg.Aggregator

	// Metrics hooks (optional, set externally)
	OnTickPersisted func()
}

// New wires the pipeline over its collaborators.
func New(jobs JobQueue, cache model.CandleCache, store model.CandleStore, aggregator *agg.Aggregator) *Pipeline {
	return &Pipeline{jobs: jobs, cache: cache, store: store, agg: aggregator}
}

// IngestTick is the stream client's sink: every decoded tick becomes one
// tick-persistence job.
func (p *Pipeline) IngestTick(ctx context.Context, t model.Tick) error {
	payload, err := json.Marshal(TickJob{Tick: t})
	if err != nil {
		return fmt.Errorf("marshal tick job: %w", err)
	}
	return p.jobs.Enqueue(ctx, queue.TickStream, payload)
}

// HandleTickJob persists the tick to the durable store and the raw tick set,
// then enqueues one candle job per resolution for BID ticks. Both persistence
// steps are idempotent, so a retried or redelivered job converges.
func (p *Pipeline) HandleTickJob(ctx context.Context, payload []byte) error {
	var job TickJob
	if err := json.Unmarshal(payload, &job); err != nil {
		// Malformed payloads would fail every retry; drop them now.
		log.Printf("[pipeline] dropping undecodable tick job: %v", err)
		return nil
	}

	if err := p.store.InsertTick(ctx, &job.Tick); err != nil {
		return err
	}
	if err := p.cache.PushTick(ctx, &job.Tick); err != nil {
		return err
	}
	if p.OnTickPersisted != nil {
		p.OnTickPersisted()
	}

	if job.Tick.Side != model.SideBid {
		return nil
	}
	for _, res := range model.AllResolutions {
		cp, err := json.Marshal(CandleJob{Tick: job.Tick, Resolution: res})
		if err != nil {
			return fmt.Errorf("marshal candle job: %w", err)
		}
		if err := p.jobs.Enqueue(ctx, queue.CandleStream, cp); err != nil {
			return err
		}
	}
	return nil
}

// HandleCandleJob merges the job's tick into one resolution's candle.
func (p *Pipeline) HandleCandleJob(ctx context.Context, payload []byte) error {
	var job CandleJob
	if err := json.Unmarshal(payload, &job); err != nil {
		log.Printf("[pipeline] dropping undecodable candle job: %v", err)
		return nil
	}
	return p.agg.Apply(ctx, job.Tick, job.Resolution)
}
