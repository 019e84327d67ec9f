package model

import (
	"testing"
	"time"
)

func TestBucketStart_M1(t *testing.T) {
	ts := time.Unix(125, 0).UTC()
	got := M1.BucketStart(ts)
	if got.Unix() != 120 {
		t.Errorf("expected bucket 120, got %d", got.Unix())
	}
}

func TestBucketStart_H1(t *testing.T) {
	ts := time.Unix(3661, 0).UTC()
	got := H1.BucketStart(ts)
	if got.Unix() != 3600 {
		t.Errorf("expected bucket 3600, got %d", got.Unix())
	}
}

func TestBucketStart_D1(t *testing.T) {
	ts := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got := D1.BucketStart(ts)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBucketStart_D1_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 01:30 local on March 2nd is still March 1st in UTC.
	ts := time.Date(2024, 3, 2, 1, 30, 0, 0, loc)
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := D1.BucketStart(ts); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestParseResolutionToken(t *testing.T) {
	cases := map[string]Resolution{
		"1M": M1,
		"1H": H1,
		"1D": D1,
	}
	for tok, want := range cases {
		got, ok := ParseResolutionToken(tok)
		if !ok || got != want {
			t.Errorf("token %q: expected %s, got %s (ok=%v)", tok, want, got, ok)
		}
	}

	for _, tok := range []string{"2M", "", "m1", "1d", "5M"} {
		if _, ok := ParseResolutionToken(tok); ok {
			t.Errorf("token %q: expected rejection", tok)
		}
	}
}

func TestParseTraderType(t *testing.T) {
	for _, s := range []string{"R", "I", "S", "T"} {
		if _, ok := ParseTraderType(s); !ok {
			t.Errorf("trader type %q: expected acceptance", s)
		}
	}
	for _, s := range []string{"X", "", "r", "RI"} {
		if _, ok := ParseTraderType(s); ok {
			t.Errorf("trader type %q: expected rejection", s)
		}
	}
}
