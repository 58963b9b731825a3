// Package handlers exposes the admin HTTP API.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/campaign"
	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/pool"
	"outreach-relay-go/internal/queue"
	"outreach-relay-go/internal/scheduler"
	"outreach-relay-go/internal/store"
	"outreach-relay-go/internal/transport"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	store      store.Store
	pool       *pool.Pool
	engine     *campaign.Engine
	dispatcher *queue.Dispatcher
	scheduler  *scheduler.Scheduler
	tester     transport.Tester
}

// NewHandlers creates new HTTP handlers
func NewHandlers(s store.Store, p *pool.Pool, e *campaign.Engine, d *queue.Dispatcher, sch *scheduler.Scheduler, t transport.Tester) *Handlers {
	return &Handlers{
		store:      s,
		pool:       p,
		engine:     e,
		dispatcher: d,
		scheduler:  sch,
		tester:     t,
	}
}

// SetupRoutes sets up all HTTP routes
func (h *Handlers) SetupRoutes(router *gin.Engine) {
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		api.GET("/providers", h.GetProviders)
		api.POST("/providers", h.CreateProvider)
		api.GET("/providers/:id/accounts", h.GetProviderAccounts)
		api.POST("/accounts", h.CreateAccount)
		api.POST("/accounts/:id/test", h.TestAccount)

		api.GET("/queue", h.GetQueue)
		api.POST("/queue", h.EnqueueEmail)
		api.POST("/queue/:id/retry", h.RetryEmail)
		api.POST("/queue/:id/cancel", h.CancelEmail)

		api.POST("/distribute", h.Distribute)
		api.GET("/limits", h.GetLimits)

		api.POST("/scheduler/start", h.StartScheduler)
		api.POST("/scheduler/stop", h.StopScheduler)
		api.POST("/scheduler/run-once", h.RunOnce)
		api.GET("/scheduler/status", h.GetSchedulerStatus)
	}
}

// fail maps engine errors onto HTTP status codes
func fail(c *gin.Context, err error) {
	code, kind := http.StatusInternalServerError, "internal_error"
	switch {
	case model.IsValidationError(err):
		code, kind = http.StatusBadRequest, "validation_error"
	case errors.Is(err, scheduler.ErrUnknownJob):
		code, kind = http.StatusBadRequest, "unknown_job"
	case errors.Is(err, store.ErrNotFound):
		code, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, queue.ErrInvalidTransition):
		code, kind = http.StatusConflict, "invalid_transition"
	case errors.Is(err, queue.ErrRetryExhausted):
		code, kind = http.StatusConflict, "retry_exhausted"
	case errors.Is(err, campaign.ErrLimitsReached):
		code, kind = http.StatusConflict, "limits_reached"
	case errors.Is(err, scheduler.ErrJobRunning):
		code, kind = http.StatusConflict, "job_running"
	default:
		logrus.WithError(err).Errorf("%s %s failed", c.Request.Method, c.FullPath())
	}
	c.JSON(code, ErrorResponse{Error: kind, Message: err.Error(), Code: code})
}

func badRequest(c *gin.Context, kind, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: kind, Message: msg, Code: http.StatusBadRequest})
}

func idParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid_id", "Invalid ID")
		return 0, false
	}
	return uint(id), true
}
