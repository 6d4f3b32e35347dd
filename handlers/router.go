package handlers

import (
	"net/http"

	"cityflow/config"
	"cityflow/metrics"
	"cityflow/middleware"
	"cityflow/services"

	"github.com/gin-gonic/gin"
)

// NewRouter wires every API route onto a gin engine.
func NewRouter(svc *services.RiskService, cache *services.CacheService, corsCfg config.CORSConfig) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.SetupCORS(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "UP",
			"message": "CityFlow risk engine is running",
			"redis":   cache.Available(),
		})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	risk := NewRiskHandler(svc, cache)
	scenarios := NewScenarioHandler(svc)
	forecast := NewForecastHandler(svc, cache)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/segments/risk", risk.GetRisk)
		v1.GET("/segments/:id/series", risk.GetSeries)
		v1.POST("/scenarios", scenarios.Create)
		v1.GET("/scenarios", scenarios.List)
		v1.GET("/forecast", forecast.GetForecast)
		v1.GET("/forecast/current", forecast.GetCurrent)
		v1.GET("/live", LiveWebSocket(cache, corsCfg))
	}
	return router
}
