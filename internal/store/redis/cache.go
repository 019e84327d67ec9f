// Package redis is the fast cache tier: candle series live in sorted sets
// scored by bucket start, raw ticks in sorted sets scored by tick time, and
// markup values in plain scalar keys.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"fxcandles/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis cache client.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Cache implements model.CandleCache on a Redis client.
type Cache struct {
	client *goredis.Client
}

// Client returns the underlying Redis client for health checks and the queue.
func (c *Cache) Client() *goredis.Client { return c.client }

// New creates a new Cache and pings the server.
func New(cfg Config) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Cache{client: client}, nil
}

func score(n int64) string {
	return strconv.FormatInt(n, 10)
}

// CandleAt returns the candle stored at the exact bucket score, or nil if the
// series has no entry there.
func (c *Cache) CandleAt(ctx context.Context, symbol string, res model.Resolution, sc int64) (*model.Candle, error) {
	key := model.CandleSetKey(symbol, res)
	members, err := c.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: score(sc),
		Max: score(sc),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", key, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var candle model.Candle
	if err := json.Unmarshal([]byte(members[0]), &candle); err != nil {
		return nil, fmt.Errorf("unmarshal candle %s@%d: %w", key, sc, err)
	}
	return &candle, nil
}

// ReplaceCandle removes whatever sits at the candle's score and inserts the
// candle, in a single MULTI/EXEC round trip so readers never observe the gap.
func (c *Cache) ReplaceCandle(ctx context.Context, candle *model.Candle) error {
	key := candle.Key()
	sc := candle.Score()

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, score(sc), score(sc))
	pipe.ZAdd(ctx, key, &goredis.Z{Score: float64(sc), Member: string(candle.JSON())})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis replace candle %s@%d: %w", key, sc, err)
	}
	return nil
}

// RangeCandles returns candles with from <= score < to, ascending.
func (c *Cache) RangeCandles(ctx context.Context, symbol string, res model.Resolution, from, to int64) ([]model.Candle, error) {
	key := model.CandleSetKey(symbol, res)
	members, err := c.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: score(from),
		Max: "(" + score(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", key, err)
	}
	return decodeCandles(key, members)
}

// LatestCandles returns up to limit candles, newest first. limit <= 0 returns
// the whole series.
func (c *Cache) LatestCandles(ctx context.Context, symbol string, res model.Resolution, limit int64) ([]model.Candle, error) {
	key := model.CandleSetKey(symbol, res)
	stop := int64(-1)
	if limit > 0 {
		stop = limit - 1
	}
	members, err := c.client.ZRevRange(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrevrange %s: %w", key, err)
	}
	return decodeCandles(key, members)
}

// Backfill bulk-inserts candles into a series after a cold-cache read from
// the durable store.
func (c *Cache) Backfill(ctx context.Context, symbol string, res model.Resolution, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	key := model.CandleSetKey(symbol, res)

	zs := make([]*goredis.Z, len(candles))
	for i := range candles {
		zs[i] = &goredis.Z{
			Score:  float64(candles[i].Score()),
			Member: string(candles[i].JSON()),
		}
	}
	if err := c.client.ZAdd(ctx, key, zs...).Err(); err != nil {
		return fmt.Errorf("redis backfill %s: %w", key, err)
	}
	return nil
}

// FlushSeries drops a cached series, used before repopulating a resolution.
func (c *Cache) FlushSeries(ctx context.Context, symbol string, res model.Resolution) error {
	return c.client.Del(ctx, model.CandleSetKey(symbol, res)).Err()
}

// PushTick records a raw tick, scored by its epoch-seconds timestamp.
func (c *Cache) PushTick(ctx context.Context, t *model.Tick) error {
	key := model.TickSetKey(t.Symbol, t.Side)
	err := c.client.ZAdd(ctx, key, &goredis.Z{
		Score:  float64(t.Timestamp.Unix()),
		Member: string(t.JSON()),
	}).Err()
	if err != nil {
		return fmt.Errorf("redis push tick %s: %w", key, err)
	}
	return nil
}

// TicksRange returns raw ticks with from <= score < to, ascending. Used by
// the repopulation routine only.
func (c *Cache) TicksRange(ctx context.Context, symbol string, side model.Side, from, to int64) ([]model.Tick, error) {
	key := model.TickSetKey(symbol, side)
	members, err := c.client.ZRangeByScore(ctx, key, &goredis.ZRangeBy{
		Min: score(from),
		Max: "(" + score(to),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis zrangebyscore %s: %w", key, err)
	}

	ticks := make([]model.Tick, 0, len(members))
	for _, m := range members {
		var t model.Tick
		if err := json.Unmarshal([]byte(m), &t); err != nil {
			log.Printf("[redis] skipping undecodable tick in %s: %v", key, err)
			continue
		}
		ticks = append(ticks, t)
	}
	return ticks, nil
}

// Markup returns the precomputed markup scalar. A missing key yields zero.
func (c *Cache) Markup(ctx context.Context, symbol string, tt model.TraderType, side model.Side) (float64, error) {
	key := model.MarkupKey(symbol, tt, side)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get %s: %w", key, err)
	}

	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse markup %s=%q: %w", key, val, err)
	}
	return f, nil
}

// SetMarkup stores a precomputed markup scalar.
func (c *Cache) SetMarkup(ctx context.Context, m model.Markup) error {
	key := model.MarkupKey(m.Symbol, m.TraderType, m.Side)
	if err := c.client.Set(ctx, key, strconv.FormatFloat(m.Value, 'f', -1, 64), 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func decodeCandles(key string, members []string) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, len(members))
	for _, m := range members {
		var c model.Candle
		if err := json.Unmarshal([]byte(m), &c); err != nil {
			// A corrupt member should not poison the whole series read.
			log.Printf("[redis] skipping undecodable candle in %s: %v", key, err)
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}
