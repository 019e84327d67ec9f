package model

import "time"

// Resolution is a candle timeframe. The stored identifiers (M1/H1/D1) differ
// from the query-parameter tokens (1M/1H/1D); ParseResolutionToken maps them.
type Resolution string

const (
	M1 Resolution = "M1"
	H1 Resolution = "H1"
	D1 Resolution = "D1"
)

// AllResolutions lists every resolution a BID tick is aggregated into.
var AllResolutions = []Resolution{M1, H1, D1}

// resolutionTokens maps query tokens to resolutions. Unknown tokens are a
// validation error at the API layer, never a storage access.
var resolutionTokens = map[string]Resolution{
	"1M": M1,
	"1H": H1,
	"1D": D1,
}

// ParseResolutionToken maps a query token ("1M", "1H", "1D") to a Resolution.
func ParseResolutionToken(tok string) (Resolution, bool) {
	r, ok := resolutionTokens[tok]
	return r, ok
}

// BucketStart floors ts to the start of the bucket it falls in.
// M1 and H1 floor on epoch seconds; D1 is the start of the UTC calendar day.
func (r Resolution) BucketStart(ts time.Time) time.Time {
	switch r {
	case M1:
		sec := ts.Unix()
		return time.Unix(sec-sec%60, 0).UTC()
	case H1:
		sec := ts.Unix()
		return time.Unix(sec-sec%3600, 0).UTC()
	case D1:
		y, m, d := ts.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return ts.UTC()
}
