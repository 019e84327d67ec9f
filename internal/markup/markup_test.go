package markup

import (
	"context"
	"math"
	"testing"
	"time"

	"fxcandles/internal/model"
)

// markupCache implements just the markup slice of the cache port.
type markupCache struct {
	model.CandleCache
	values map[string]float64
}

func newMarkupCache() *markupCache {
	return &markupCache{values: make(map[string]float64)}
}

func (c *markupCache) SetMarkup(_ context.Context, m model.Markup) error {
	c.values[model.MarkupKey(m.Symbol, m.TraderType, m.Side)] = m.Value
	return nil
}

func (c *markupCache) Markup(_ context.Context, symbol string, tt model.TraderType, side model.Side) (float64, error) {
	return c.values[model.MarkupKey(symbol, tt, side)], nil
}

func TestValue(t *testing.T) {
	cases := []struct {
		pips, ppu, want float64
	}{
		{1, 100000, 0.0001},
		{5, 100000, 0.0005},
		{2, 1000, 0.02},
		{3, 0, 0}, // zero pointsPerUnit must not divide
	}
	for _, tc := range cases {
		if got := Value(tc.pips, tc.ppu); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("Value(%v, %v) = %v, want %v", tc.pips, tc.ppu, got, tc.want)
		}
	}
}

func TestApply_SubtractsAndRounds(t *testing.T) {
	c := model.Candle{
		Symbol:      "EURUSD",
		Resolution:  model.M1,
		BucketStart: time.Unix(1709290020, 0).UTC(),
		Open:        1.23456,
		High:        1.23470,
		Low:         1.23440,
		Close:       1.23460,
		Lots:        7,
	}

	got := Apply(c, 0.0001)
	if got.Open != 1.23446 {
		t.Errorf("open = %v, want 1.23446", got.Open)
	}
	if got.High != 1.23460 {
		t.Errorf("high = %v, want 1.23460", got.High)
	}
	if got.Low != 1.23430 {
		t.Errorf("low = %v, want 1.23430", got.Low)
	}
	if got.Close != 1.23450 {
		t.Errorf("close = %v, want 1.23450", got.Close)
	}

	// The original is untouched and non-price fields carry over.
	if c.Open != 1.23456 {
		t.Errorf("input candle mutated: open = %v", c.Open)
	}
	if got.Lots != 7 || got.Symbol != "EURUSD" {
		t.Errorf("non-price fields lost: %+v", got)
	}
}

func TestApply_ZeroMarkupIsIdentity(t *testing.T) {
	c := model.Candle{Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15}
	if got := Apply(c, 0); got != c {
		t.Errorf("zero markup changed candle: %+v", got)
	}
}

func TestApply_RoundsToTenDecimals(t *testing.T) {
	// 1.1 - 0.03 accumulates binary error well past the 10th decimal.
	c := model.Candle{Open: 1.1, High: 1.1, Low: 1.1, Close: 1.1}
	got := Apply(c, 0.03)
	if got.Open != 1.07 {
		t.Errorf("open = %.17f, want exactly 1.07", got.Open)
	}
}

func TestRefreshAndFor(t *testing.T) {
	cache := newMarkupCache()
	svc := New(cache)

	rows := []model.MarkupConfig{
		{Symbol: "EURUSD", TraderType: model.TraderRetail, Side: model.SideBid, Pips: 1, PointsPerUnit: 100000},
		{Symbol: "EURUSD", TraderType: model.TraderInstitutional, Side: model.SideBid, Pips: 0.5, PointsPerUnit: 100000},
	}
	if err := svc.Refresh(context.Background(), rows); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	got, err := svc.For(context.Background(), "EURUSD", model.TraderRetail)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.0001) > 1e-12 {
		t.Errorf("retail markup = %v, want 0.0001", got)
	}

	// Unknown trader type resolves to zero, not an error.
	got, err = svc.For(context.Background(), "EURUSD", model.TraderScalper)
	if err != nil || got != 0 {
		t.Errorf("unconfigured markup = %v, %v; want 0, nil", got, err)
	}

	// Empty trader type means "no markup" without touching the cache.
	got, err = svc.For(context.Background(), "EURUSD", "")
	if err != nil || got != 0 {
		t.Errorf("empty trader type markup = %v, %v; want 0, nil", got, err)
	}
}
