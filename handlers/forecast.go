package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cityflow/services"

	"github.com/gin-gonic/gin"
)

const (
	forecastCacheTTL = 30 * time.Second
	maxForecastHours = 24
)

type ForecastHandler struct {
	svc   *services.RiskService
	cache *services.CacheService
}

func NewForecastHandler(svc *services.RiskService, cache *services.CacheService) *ForecastHandler {
	return &ForecastHandler{svc: svc, cache: cache}
}

// GetForecast returns samples from the last "hours" hours, or from the last
// week when that window is empty.
func (h *ForecastHandler) GetForecast(c *gin.Context) {
	window, err := parseHours(c, 2, maxForecastHours)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.serve(c, fmt.Sprintf("%dh", int(window.Hours())), services.ForecastQuery{
		SegmentID: c.Query("segment_id"),
		SignalID:  c.Query("signal_id"),
		Since:     time.Now().Add(-window),
		Fallback:  services.FallbackLookback,
	})
}

// GetCurrent returns the newest sample per segment or signal.
func (h *ForecastHandler) GetCurrent(c *gin.Context) {
	h.serve(c, "current", services.ForecastQuery{
		SegmentID: c.Query("segment_id"),
		Since:     time.Now().Add(-services.CurrentWindow),
		Fallback:  services.CurrentFallback,
		Latest:    true,
	})
}

func (h *ForecastHandler) serve(c *gin.Context, variant string, q services.ForecastQuery) {
	cacheKey := fmt.Sprintf("forecast:%s:%s:%s", variant, q.SegmentID, q.SignalID)
	var cached gin.H
	if hit, _ := h.cache.Get(c.Request.Context(), cacheKey, &cached); hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	rows, err := h.svc.GetForecast(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"data": rows}
	go h.cache.Set(context.Background(), cacheKey, resp, forecastCacheTTL)

	c.JSON(http.StatusOK, resp)
}
