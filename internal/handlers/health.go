package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports database reachability, the scheduler state and how
// many accounts can send right now
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Database:  "ok",
		Scheduler: map[string]string{"status": "stopped"},
	}

	if err := h.store.Ping(ctx); err != nil {
		logrus.WithError(err).Error("Database health check failed")
		resp.Status = "error"
		resp.Database = "error"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	if h.scheduler.IsRunning() {
		resp.Scheduler["status"] = "running"
		for name, next := range h.scheduler.NextRuns() {
			resp.Scheduler[name+"_next_run"] = next.Format(time.RFC3339)
		}
	}

	n, err := h.pool.CountAvailable(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to count available accounts")
	}
	resp.AvailableAccounts = n

	c.JSON(http.StatusOK, resp)
}
