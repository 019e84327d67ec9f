package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"fxcandles/internal/model"
)

// subAdd is the outbound subscription control message.
type subAdd struct {
	Action string   `json:"action"`
	Subs   []string `json:"subs"`
}

// SubscribeMessage builds the SubAdd control message for every pair with a
// present contract size. Pairs without one are excluded from subscription.
func SubscribeMessage(pairs []model.CurrencyPairInfo) interface{} {
	subs := make([]string, 0, len(pairs))
	for _, p := range pairs {
		if !p.HasContract {
			continue
		}
		subs = append(subs, "0~"+p.Symbol)
	}
	return subAdd{Action: "SubAdd", Subs: subs}
}

// wireTick is the inbound tick message: a flat object where bora marks
// bid/ask and timestamp is epoch seconds.
type wireTick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Lots      int64   `json:"lots"`
	Bora      string  `json:"bora"`
}

// DecodeTick parses an inbound message into a model.Tick.
func DecodeTick(raw []byte) (model.Tick, error) {
	var w wireTick
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Tick{}, fmt.Errorf("unmarshal tick: %w", err)
	}
	if w.Symbol == "" {
		return model.Tick{}, fmt.Errorf("tick missing symbol")
	}
	if w.Price <= 0 {
		return model.Tick{}, fmt.Errorf("tick %s has non-positive price %v", w.Symbol, w.Price)
	}
	side := model.Side(w.Bora)
	if !side.Valid() {
		return model.Tick{}, fmt.Errorf("tick %s has invalid bora %q", w.Symbol, w.Bora)
	}

	ts := time.Unix(w.Timestamp, 0).UTC()
	if w.Timestamp <= 0 {
		ts = time.Now().UTC()
	}

	return model.Tick{
		Symbol:    w.Symbol,
		Price:     w.Price,
		Timestamp: ts,
		Lots:      w.Lots,
		Side:      side,
	}, nil
}
