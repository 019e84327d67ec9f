// Package api exposes the two versioned candle query endpoints over gin.
// The package is split by concern:
// - api.go: handler struct, dependencies and routing
// - handler.go: HTTP request handlers
// - middleware.go: request ID, logging, CORS
// - validator.go: query-parameter validation (no HTTP concerns)
package api

import (
	"context"
	"log/slog"
	"time"

	"fxcandles/internal/model"
	"fxcandles/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	DefaultTimeout      = 30 * time.Second
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// CandleReader is the slice of the query service the API depends on.
type CandleReader interface {
	Candles(ctx context.Context, req service.Request) ([]model.Candle, error)
}

// Handler handles HTTP requests using the Gin framework.
type Handler struct {
	candles   CandleReader
	validator *Validator
	logger    *slog.Logger

	// Metrics hooks (optional, set externally)
	OnQueryDuration func(endpoint string, seconds float64)
}

// NewHandler creates the API handler.
func NewHandler(candles CandleReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		candles:   candles,
		validator: NewValidator(),
		logger:    logger,
	}
}

// Router configures the gin engine with middleware and both endpoint versions.
func (h *Handler) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(ginLoggerMiddleware())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	router.GET("/api/candles", h.GetCandlesV1)
	router.GET("/api/v2/candles", h.GetCandlesV2)

	return router
}
