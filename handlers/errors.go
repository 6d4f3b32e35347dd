package handlers

import (
	"errors"
	"log"
	"net/http"

	"cityflow/scenario"
	"cityflow/store"

	"github.com/gin-gonic/gin"
)

func writeError(c *gin.Context, err error) {
	var (
		verr *scenario.ValidationError
		perr *store.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": verr.Field})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &perr):
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		if !perr.Retryable() {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage rejected the request", "retryable": false})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry the request", "retryable": true})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
