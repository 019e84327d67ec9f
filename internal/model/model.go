package model

import (
	"encoding/json"
	"time"
)

// Side marks a tick as bid or ask, using the feed's single-letter encoding.
type Side string

const (
	SideBid Side = "B"
	SideAsk Side = "A"
)

// Valid reports whether the side is one of the two feed values.
func (s Side) Valid() bool {
	return s == SideBid || s == SideAsk
}

// TraderType selects the markup bucket applied at query time.
type TraderType string

const (
	TraderRetail        TraderType = "R"
	TraderInstitutional TraderType = "I"
	TraderScalper       TraderType = "S"
	TraderTest          TraderType = "T"
)

// ParseTraderType validates a tt query parameter. Empty means "no markup".
func ParseTraderType(s string) (TraderType, bool) {
	switch TraderType(s) {
	case TraderRetail, TraderInstitutional, TraderScalper, TraderTest:
		return TraderType(s), true
	}
	return "", false
}

// Tick is a single priced quote event from the stream. Immutable once received.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"` // UTC
	Lots      int64     `json:"lots"`
	Side      Side      `json:"side"`
}

// JSON returns the JSON-encoded tick (errors ignored for hot-path usage).
func (t *Tick) JSON() []byte {
	b, _ := json.Marshal(t)
	return b
}

// Candle is an OHLC bar for one (symbol, resolution, bucket start).
// Open is fixed at first write; High/Low/Close mutate as ticks arrive.
type Candle struct {
	Symbol      string     `json:"symbol"`
	Resolution  Resolution `json:"resolution"`
	BucketStart time.Time  `json:"bucket_start"` // UTC, resolution-aligned
	Open        float64    `json:"open"`
	High        float64    `json:"high"`
	Low         float64    `json:"low"`
	Close       float64    `json:"close"`
	Lots        int64      `json:"lots"`
}

// Score returns the sorted-set score for this candle: epoch seconds of the
// bucket start.
func (c *Candle) Score() int64 {
	return c.BucketStart.Unix()
}

// Key returns "symbol_resolution", the cache series key this candle lives in.
func (c *Candle) Key() string {
	return CandleSetKey(c.Symbol, c.Resolution)
}

// JSON returns the JSON-encoded candle.
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CurrencyPairInfo describes a configured pair. Pairs without a contract size
// are excluded from subscription, aggregation and repopulation.
type CurrencyPairInfo struct {
	Symbol       string  `json:"symbol"`
	ContractSize float64 `json:"contract_size"`
	HasContract  bool    `json:"has_contract"`
}

// MarkupConfig is one raw markup configuration row from the durable store;
// the markup service derives the applied value as 10*pips/pointsPerUnit from
// the most recent effective-dated row per (symbol, traderType, side).
type MarkupConfig struct {
	Symbol        string     `json:"symbol"`
	TraderType    TraderType `json:"trader_type"`
	Side          Side       `json:"side"`
	Pips          float64    `json:"pips"`
	PointsPerUnit float64    `json:"points_per_unit"`
}

// Markup is a per-(symbol, traderType, side) price offset subtracted from
// candle prices at query time. Value is derived as 10*pips/pointsPerUnit.
type Markup struct {
	Symbol     string     `json:"symbol"`
	TraderType TraderType `json:"trader_type"`
	Side       Side       `json:"side"`
	Value      float64    `json:"value"`
}

// ── Cache key space ──

// CandleSetKey returns the sorted-set key for a candle series.
func CandleSetKey(symbol string, res Resolution) string {
	return symbol + "_" + string(res)
}

// TickSetKey returns the sorted-set key for raw ticks of one symbol/side.
func TickSetKey(symbol string, side Side) string {
	return "ticks_" + symbol + "_" + string(side)
}

// MarkupKey returns the scalar key holding a precomputed markup value.
func MarkupKey(symbol string, tt TraderType, side Side) string {
	return "markup_" + symbol + "_" + string(tt) + "_" + string(side)
}
