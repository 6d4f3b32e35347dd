package handlers

import (
	"net/http"
	"time"

	"cityflow/models"
	"cityflow/scenario"
	"cityflow/services"
	"cityflow/store"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the operator id set by the upstream gateway.
const UserHeader = "X-User-ID"

type ScenarioHandler struct {
	svc *services.RiskService
}

func NewScenarioHandler(svc *services.RiskService) *ScenarioHandler {
	return &ScenarioHandler{svc: svc}
}

func (h *ScenarioHandler) Create(c *gin.Context) {
	var req scenario.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req.CreatedBy = c.GetHeader(UserHeader)

	run, err := h.svc.RunScenario(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

func (h *ScenarioHandler) List(c *gin.Context) {
	p := ParsePagination(c)

	runs, err := h.svc.ListScenarios(c.Request.Context(), store.ScenarioQuery{
		SegmentID: c.Query("segment_id"),
		Before:    p.Before,
		Limit:     p.Limit + 1,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, page(runs, p.Limit, func(r models.ScenarioRun) time.Time { return r.CreatedAt }))
}
