package api

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fxcandles/internal/model"
	"fxcandles/internal/service"
)

// isoDateLayout is the date format the v2 contract accepts.
const isoDateLayout = "2006-01-02"

// maxLimit caps count-limited queries.
const maxLimit = 5000

// Validator turns raw query parameters into a resolved service.Request.
// Validation never touches storage; every failure here is a 400.
type Validator struct {
	symbolRegex *regexp.Regexp
}

// NewValidator creates the request validator.
func NewValidator() *Validator {
	return &Validator{
		symbolRegex: regexp.MustCompile(`^[A-Za-z0-9]{3,20}$`),
	}
}

// v1Params are the raw GET /api/candles query parameters.
type v1Params struct {
	Symbol, Fsym, Tsym string
	Resolution         string
	FrTs, ToTs         string
	Limit              string
	TT                 string
}

// v2Params are the raw GET /api/v2/candles query parameters.
type v2Params struct {
	Symbol, Fsym, Tsym string
	Resolution         string
	StartDate, EndDate string
	Limit              string
	TT                 string
}

// ValidateV1 resolves the v1 contract: epoch-second frTs/toTs range XOR a
// count limit, exactly one of the two.
func (v *Validator) ValidateV1(p v1Params) (service.Request, error) {
	req, err := v.common(p.Symbol, p.Fsym, p.Tsym, p.Resolution, p.TT)
	if err != nil {
		return service.Request{}, err
	}

	hasRange := p.FrTs != "" || p.ToTs != ""
	hasLimit := p.Limit != ""
	if hasRange == hasLimit {
		return service.Request{}, errors.New("exactly one of frTs/toTs or limit is required")
	}

	if hasRange {
		from, err := parseEpoch("frTs", p.FrTs)
		if err != nil {
			return service.Request{}, err
		}
		to, err := parseEpoch("toTs", p.ToTs)
		if err != nil {
			return service.Request{}, err
		}
		if from >= to {
			return service.Request{}, errors.New("frTs must be before toTs")
		}
		req.From, req.To, req.HasRange = from, to, true
		return req, nil
	}

	req.Limit, err = parseLimit(p.Limit)
	if err != nil {
		return service.Request{}, err
	}
	return req, nil
}

// ValidateV2 resolves the v2 contract: ISO startDate/endDate (endDate day
// inclusive) XOR a count limit.
func (v *Validator) ValidateV2(p v2Params) (service.Request, error) {
	req, err := v.common(p.Symbol, p.Fsym, p.Tsym, p.Resolution, p.TT)
	if err != nil {
		return service.Request{}, err
	}

	hasRange := p.StartDate != "" || p.EndDate != ""
	hasLimit := p.Limit != ""
	if hasRange == hasLimit {
		return service.Request{}, errors.New("exactly one of startDate/endDate or limit is required")
	}

	if hasRange {
		start, err := parseISODate("startDate", p.StartDate)
		if err != nil {
			return service.Request{}, err
		}
		end, err := parseISODate("endDate", p.EndDate)
		if err != nil {
			return service.Request{}, err
		}
		if !start.Before(end.Add(24 * time.Hour)) {
			return service.Request{}, errors.New("startDate must not be after endDate")
		}
		req.From = start.Unix()
		req.To = end.Add(24 * time.Hour).Unix() // endDate is inclusive of that day
		req.HasRange = true
		return req, nil
	}

	req.Limit, err = parseLimit(p.Limit)
	if err != nil {
		return service.Request{}, err
	}
	return req, nil
}

// common validates the parameters both contracts share: symbol (direct or
// composed from fsym+tsym), resolution token, optional trader type.
func (v *Validator) common(symbol, fsym, tsym, resolution, tt string) (service.Request, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		symbol = strings.TrimSpace(fsym) + strings.TrimSpace(tsym)
	}
	if symbol == "" {
		return service.Request{}, errors.New("symbol (or fsym and tsym) is required")
	}
	if !v.symbolRegex.MatchString(symbol) {
		return service.Request{}, fmt.Errorf("invalid symbol %q", symbol)
	}

	res, ok := model.ParseResolutionToken(strings.TrimSpace(resolution))
	if !ok {
		return service.Request{}, fmt.Errorf("resolution must be one of 1M, 1H, 1D, got %q", resolution)
	}

	req := service.Request{Symbol: symbol, Resolution: res}
	if tt != "" {
		parsed, ok := model.ParseTraderType(tt)
		if !ok {
			return service.Request{}, fmt.Errorf("tt must be one of R, I, S, T, got %q", tt)
		}
		req.TraderType = parsed
	}
	return req, nil
}

func parseEpoch(name, raw string) (int64, error) {
	if raw == "" {
		return 0, fmt.Errorf("%s is required when querying by time range", name)
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ts < 0 {
		return 0, fmt.Errorf("%s must be epoch seconds, got %q", name, raw)
	}
	return ts, nil
}

func parseISODate(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required when querying by date range", name)
	}
	t, err := time.ParseInLocation(isoDateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an ISO date (YYYY-MM-DD), got %q", name, raw)
	}
	return t, nil
}

func parseLimit(raw string) (int64, error) {
	limit, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("limit must be a number, got %q", raw)
	}
	if limit <= 0 || limit > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return limit, nil
}
