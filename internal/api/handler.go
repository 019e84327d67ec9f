package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"fxcandles/internal/model"
	"fxcandles/internal/service"

	"github.com/gin-gonic/gin"
)

// bar is the candle object both endpoint versions return.
type bar struct {
	Time  int64   `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// GetCandlesV1 handles GET /api/candles: frTs/toTs epoch range or limit,
// bars returned newest first.
func (h *Handler) GetCandlesV1(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	req, err := h.validator.ValidateV1(v1Params{
		Symbol:     c.Query("symbol"),
		Fsym:       c.Query("fsym"),
		Tsym:       c.Query("tsym"),
		Resolution: c.Query("resolution"),
		FrTs:       c.Query("frTs"),
		ToTs:       c.Query("toTs"),
		Limit:      c.Query("limit"),
		TT:         c.Query("tt"),
	})
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	candles, err := h.query(ctx, "/api/candles", req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	// v1 contract: newest bar first.
	bars := make([]bar, 0, len(candles))
	for i := len(candles) - 1; i >= 0; i-- {
		bars = append(bars, toBar(candles[i]))
	}
	c.JSON(http.StatusOK, gin.H{"bars": bars})
}

// GetCandlesV2 handles GET /api/v2/candles: ISO startDate/endDate or limit,
// data returned oldest first.
func (h *Handler) GetCandlesV2(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultTimeout)
	defer cancel()

	req, err := h.validator.ValidateV2(v2Params{
		Symbol:     c.Query("symbol"),
		Fsym:       c.Query("fsym"),
		Tsym:       c.Query("tsym"),
		Resolution: c.Query("resolution"),
		StartDate:  c.Query("startDate"),
		EndDate:    c.Query("endDate"),
		Limit:      c.Query("limit"),
		TT:         c.Query("tt"),
	})
	if err != nil {
		h.handleValidationError(c, err)
		return
	}

	candles, err := h.query(ctx, "/api/v2/candles", req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	data := make([]bar, 0, len(candles))
	for _, cd := range candles {
		data = append(data, toBar(cd))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (h *Handler) query(ctx context.Context, endpoint string, req service.Request) ([]model.Candle, error) {
	start := time.Now()
	candles, err := h.candles.Candles(ctx, req)
	if h.OnQueryDuration != nil {
		h.OnQueryDuration(endpoint, time.Since(start).Seconds())
	}
	return candles, err
}

func toBar(c model.Candle) bar {
	return bar{
		Time:  c.Score(),
		Open:  c.Open,
		High:  c.High,
		Low:   c.Low,
		Close: c.Close,
	}
}

// handleError logs the storage failure and answers with a generic 500. The
// internal cause never reaches the caller.
func (h *Handler) handleError(c *gin.Context, err error) {
	requestID := "unknown"
	if id, ok := c.Get(RequestIDContextKey); ok {
		if s, ok := id.(string); ok {
			requestID = s
		}
	}

	h.logger.Error("candle query failed",
		slog.String("request_id", requestID),
		slog.String("path", c.Request.URL.Path),
		slog.String("error", err.Error()),
	)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "internal server error",
	})
}

// handleValidationError answers with the descriptive message; validation
// never touches storage.
func (h *Handler) handleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": err.Error(),
	})
}
