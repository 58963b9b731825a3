// Package server builds the gin engine of the admin API.
package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/handlers"
)

// RequestIDHeader carries the request ID, echoed back when the client sends one
const RequestIDHeader = "X-Request-ID"

// SetupRouter configures routes and middleware
func SetupRouter(h *handlers.Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logrus.StandardLogger()))
	h.SetupRoutes(router)
	return router
}

// requestLogger writes one access entry per request. Health checks and
// metric scrapes are logged at debug.
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		c.Next()

		entry := log.WithFields(logrus.Fields{
			"request_id": id,
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency":    time.Since(start).String(),
			"user_agent": c.Request.UserAgent(),
		})
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			entry = entry.WithField("error", msg)
		}

		switch path := c.Request.URL.Path; {
		case c.Writer.Status() >= 500:
			entry.Error("Request failed")
		case path == "/health" || path == "/metrics":
			entry.Debug("Request handled")
		default:
			entry.Info("Request handled")
		}
	}
}
