// Package queue is a durable work queue on Redis Streams with consumer
// groups. Jobs are delivered at least once: a message stays in the pending
// entries list until XACK, so a crash mid-job redelivers it on restart via
// RecoverPending. Handlers must therefore tolerate duplicate application.
package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// TickStream carries tick-persistence jobs.
	TickStream = "jobs:ticks"
	// CandleStream carries candle-processing jobs.
	CandleStream = "jobs:candles"

	// TickWorkers bounds tick-persistence concurrency.
	TickWorkers = 5
	// CandleWorkers is the default candle-processing concurrency.
	CandleWorkers = 3

	maxRetries  = 3
	baseBackoff = 1 * time.Second
	jobTimeout  = 30 * time.Second

	streamMaxLen = 100000
	readBlock    = 2 * time.Second
	readCount    = 10
)

// Handler processes one job payload. A nil return acknowledges the job.
type Handler func(ctx context.Context, payload []byte) error

// Queue wraps one consumer group over the job streams.
type Queue struct {
	client   *goredis.Client
	group    string
	consumer string

	wg sync.WaitGroup

	// Metrics hooks (optional, set externally)
	OnRetry   func(stream string)
	OnDrop    func(stream string)
	OnReclaim func()
}

// New creates a Queue on an existing Redis client.
func New(client *goredis.Client, group, consumer string) *Queue {
	if group == "" {
		group = "candled"
	}
	if consumer == "" {
		consumer = "worker-1"
	}
	return &Queue{client: client, group: group, consumer: consumer}
}

// EnsureGroups creates the consumer group on both job streams. Start ID "0"
// keeps any backlog enqueued before the group existed.
func (q *Queue) EnsureGroups(ctx context.Context) error {
	for _, stream := range []string{TickStream, CandleStream} {
		err := q.client.XGroupCreateMkStream(ctx, stream, q.group, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// Enqueue appends one job to a stream.
func (q *Queue) Enqueue(ctx context.Context, stream string, payload []byte) error {
	err := q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": string(payload)},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// RunWorkers starts n workers draining a stream. Each message is processed
// with the retry policy and acknowledged when done. Returns immediately;
// workers stop when ctx is cancelled and are awaited by Wait.
func (q *Queue) RunWorkers(ctx context.Context, stream string, n int, h Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.readLoop(ctx, stream, h)
		}()
	}
}

// Wait blocks until every worker has drained its in-flight job.
func (q *Queue) Wait() {
	q.wg.Wait()
}

func (q *Queue) readLoop(ctx context.Context, stream string, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{stream, ">"},
			Count:    readCount,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[queue] xreadgroup %s error: %v", stream, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		for _, res := range results {
			for _, msg := range res.Messages {
				q.processMessage(ctx, stream, msg, h)
			}
		}
	}
}

// processMessage runs the handler with up to maxRetries retries, exponential
// backoff from baseBackoff and a per-attempt timeout. Success and exhausted
// retries both acknowledge: there is no dead-letter stream, a terminally
// failed job is logged and dropped.
func (q *Queue) processMessage(ctx context.Context, stream string, msg goredis.XMessage, h Handler) {
	payload, ok := msg.Values["data"].(string)
	if !ok {
		log.Printf("[queue] %s: message %s has no data field, dropping", stream, msg.ID)
		q.ack(stream, msg.ID)
		return
	}

	var lastErr error
	backoff := baseBackoff
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			if q.OnRetry != nil {
				q.OnRetry(stream)
			}
			select {
			case <-ctx.Done():
				// Unacked: redelivered after restart via RecoverPending.
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		lastErr = h(attemptCtx, []byte(payload))
		cancel()

		if lastErr == nil {
			q.ack(stream, msg.ID)
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Printf("[queue] %s: job %s attempt %d failed: %v", stream, msg.ID, attempt+1, lastErr)
	}

	log.Printf("[queue] %s: job %s failed terminally after %d retries: %v", stream, msg.ID, maxRetries, lastErr)
	if q.OnDrop != nil {
		q.OnDrop(stream)
	}
	q.ack(stream, msg.ID)
}

func (q *Queue) ack(stream, id string) {
	// Use a fresh context: the job finished, the ACK should happen even
	// while the process is shutting down.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.client.XAck(ctx, stream, q.group, id).Err(); err != nil {
		log.Printf("[queue] xack %s %s error: %v", stream, id, err)
	}
}

// RecoverPending claims and reprocesses messages left unacknowledged by a
// previous run of this consumer group.
func (q *Queue) RecoverPending(ctx context.Context, stream string, h Handler) error {
	for {
		pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
			Stream: stream,
			Group:  q.group,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if err == goredis.Nil {
				return nil
			}
			return fmt.Errorf("xpending %s: %w", stream, err)
		}
		if len(pending) == 0 {
			return nil
		}

		ids := make([]string, len(pending))
		for i, p := range pending {
			ids[i] = p.ID
		}

		claimed, err := q.client.XClaim(ctx, &goredis.XClaimArgs{
			Stream:   stream,
			Group:    q.group,
			Consumer: q.consumer,
			MinIdle:  0,
			Messages: ids,
		}).Result()
		if err != nil {
			return fmt.Errorf("xclaim %s: %w", stream, err)
		}

		log.Printf("[queue] %s: recovered %d pending jobs", stream, len(claimed))
		q.replayClaimed(ctx, stream, claimed, h)

		if len(claimed) < len(ids) {
			return nil
		}
	}
}

// replayClaimed reprocesses reclaimed messages with the normal retry policy.
func (q *Queue) replayClaimed(ctx context.Context, stream string, msgs []goredis.XMessage, h Handler) {
	for _, msg := range msgs {
		if q.OnReclaim != nil {
			q.OnReclaim()
		}
		q.processMessage(ctx, stream, msg, h)
	}
}
