package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"outreach-relay-go/internal/scheduler"
)

// Distribute queues the next due emails of one campaign, or of every active
// campaign when campaign_id is omitted
func (h *Handlers) Distribute(c *gin.Context) {
	var req DistributeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "validation_error", "Invalid request body")
			return
		}
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	resp := DistributeResponse{Counts: map[uint]int{}}
	err := h.scheduler.Exclusive(c.Request.Context(), scheduler.JobDistribution, func(ctx context.Context) error {
		if req.CampaignID != nil {
			n, err := h.engine.Distribute(ctx, *req.CampaignID, req.Limit)
			if err != nil {
				return err
			}
			resp.Counts[*req.CampaignID] = n
			return nil
		}
		counts, err := h.engine.DistributeAll(ctx, req.Limit, req.Force)
		if err != nil {
			return err
		}
		resp.Counts = counts
		return nil
	})
	if err != nil {
		fail(c, err)
		return
	}
	for _, n := range resp.Counts {
		resp.Total += n
	}
	c.JSON(http.StatusOK, resp)
}

// GetLimits reports the remaining capacity per active provider
func (h *Handlers) GetLimits(c *gin.Context) {
	ctx := c.Request.Context()
	providers, err := h.store.ListProviders(ctx, true)
	if err != nil {
		fail(c, err)
		return
	}

	resp := LimitsResponse{Providers: make([]ProviderLimits, 0, len(providers))}
	for _, p := range providers {
		available, err := h.pool.AvailableAccounts(ctx, p.ID)
		if err != nil {
			fail(c, err)
			return
		}
		reached, err := h.pool.AllLimitsReached(ctx, &p.ID)
		if err != nil {
			fail(c, err)
			return
		}
		resp.Providers = append(resp.Providers, ProviderLimits{
			ProviderID:        p.ID,
			Name:              p.Name,
			AvailableAccounts: len(available),
			LimitsReached:     reached,
		})
	}
	resp.AllLimitsReached, err = h.pool.AllLimitsReached(ctx, nil)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
