package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"outreach-relay-go/internal/model"
	"outreach-relay-go/internal/store"
)

var queueStatuses = map[model.QueueStatus]bool{
	model.StatusQueued: true, model.StatusScheduled: true, model.StatusSending: true,
	model.StatusSent: true, model.StatusError: true, model.StatusCancelled: true, model.StatusExpired: true,
}

// GetQueue lists queue items, filtered by ?status=, ?campaign_id= and ?limit=
func (h *Handlers) GetQueue(c *gin.Context) {
	var f store.QueueFilter
	if s := c.Query("status"); s != "" {
		f.Status = model.QueueStatus(s)
		if !queueStatuses[f.Status] {
			badRequest(c, "invalid_status", "Unknown queue status "+s)
			return
		}
	}
	if s := c.Query("campaign_id"); s != "" {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			badRequest(c, "invalid_id", "Invalid campaign ID")
			return
		}
		cid := uint(id)
		f.CampaignID = &cid
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			badRequest(c, "invalid_limit", "Invalid limit")
			return
		}
		f.Limit = n
	}

	items, err := h.store.ListQueueItems(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// EnqueueEmail queues a directly submitted email
func (h *Handlers) EnqueueEmail(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}
	item := req.toModel()
	if err := h.dispatcher.Enqueue(c.Request.Context(), item); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// RetryEmail re-dispatches a failed email
func (h *Handlers) RetryEmail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := h.dispatcher.Retry(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// CancelEmail cancels an email that has not been sent
func (h *Handlers) CancelEmail(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := h.dispatcher.Cancel(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}
