package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"outreach-relay-go/internal/scheduler"
)

// StartScheduler starts the cron triggers
func (h *Handlers) StartScheduler(c *gin.Context) {
	if err := h.scheduler.Start(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "scheduler_error", Message: err.Error(), Code: http.StatusInternalServerError})
		return
	}
	c.Status(http.StatusOK)
}

// StopScheduler stops the cron triggers
func (h *Handlers) StopScheduler(c *gin.Context) {
	if err := h.scheduler.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "scheduler_error", Message: err.Error(), Code: http.StatusInternalServerError})
		return
	}
	c.Status(http.StatusOK)
}

// RunOnce runs one job now, the queue job unless ?job= names another
func (h *Handlers) RunOnce(c *gin.Context) {
	job := c.DefaultQuery("job", scheduler.JobQueue)
	if err := h.scheduler.RunOnce(c.Request.Context(), job); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "status": "completed"})
}

// GetSchedulerStatus returns scheduler status
func (h *Handlers) GetSchedulerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Status())
}
