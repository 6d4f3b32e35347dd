package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cityflow/models"
	"cityflow/services"

	"github.com/gin-gonic/gin"
)

const (
	riskCacheTTL = 30 * time.Second
	maxRiskHours = 168
)

type RiskHandler struct {
	svc   *services.RiskService
	cache *services.CacheService
}

func NewRiskHandler(svc *services.RiskService, cache *services.CacheService) *RiskHandler {
	return &RiskHandler{svc: svc, cache: cache}
}

// GetRisk lists risk snapshots newest first, filtered by segment_id and
// risk_level, over the last "hours" hours.
func (h *RiskHandler) GetRisk(c *gin.Context) {
	p := ParsePagination(c)
	window, err := parseHours(c, 24, maxRiskHours)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	segmentID := c.Query("segment_id")
	level := c.Query("risk_level")

	cacheKey := fmt.Sprintf("risk:%s:%s:%d:%s", segmentID, level, int(window.Hours()), p.cacheKey())
	var cached CursorResponse
	if hit, _ := h.cache.Get(c.Request.Context(), cacheKey, &cached); hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	rows, err := h.svc.GetRisk(c.Request.Context(), services.RiskQuery{
		SegmentID: segmentID,
		Level:     models.RiskLevel(level),
		Since:     time.Now().Add(-window),
		Before:    p.Before,
		Limit:     p.Limit + 1,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := page(rows, p.Limit, func(s models.Snapshot) time.Time { return s.TS })
	go h.cache.Set(context.Background(), cacheKey, resp, riskCacheTTL)

	c.JSON(http.StatusOK, resp)
}

// GetSeries returns the density and risk trend of one segment.
func (h *RiskHandler) GetSeries(c *gin.Context) {
	window, err := parseHours(c, 24, maxRiskHours)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	segmentID := c.Param("id")

	points, err := h.svc.GetSeries(c.Request.Context(), segmentID, time.Now().Add(-window))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segment_id": segmentID, "series": points})
}
