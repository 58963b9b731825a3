package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"outreach-relay-go/internal/store"
)

// GetProviders returns all providers, only active ones with ?active=true
func (h *Handlers) GetProviders(c *gin.Context) {
	providers, err := h.store.ListProviders(c.Request.Context(), c.Query("active") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, providers)
}

// CreateProvider validates and stores a new provider
func (h *Handlers) CreateProvider(c *gin.Context) {
	var req ProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	p := req.toModel()
	if err := p.Validate(); err != nil {
		fail(c, err)
		return
	}
	if err := h.store.CreateProvider(c.Request.Context(), p); err != nil {
		fail(c, fmt.Errorf("failed to create provider: %w", err))
		return
	}
	logrus.Infof("Created provider %s", p.Name)
	c.JSON(http.StatusCreated, p)
}

// GetProviderAccounts returns the accounts of one provider
func (h *Handlers) GetProviderAccounts(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.store.GetProvider(ctx, id); err != nil {
		fail(c, err)
		return
	}
	accounts, err := h.store.ListAccounts(ctx, store.AccountFilter{ProviderID: &id})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, accounts)
}

// CreateAccount validates and stores a new account under an existing provider
func (h *Handlers) CreateAccount(c *gin.Context) {
	var req AccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "validation_error", "Invalid request body")
		return
	}

	ctx := c.Request.Context()
	provider, err := h.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		fail(c, err)
		return
	}

	a := req.toModel()
	a.ApplyProviderDefaults(provider)
	if err := a.Validate(); err != nil {
		fail(c, err)
		return
	}
	if err := h.store.CreateAccount(ctx, a); err != nil {
		fail(c, fmt.Errorf("failed to create account: %w", err))
		return
	}
	logrus.Infof("Created account %s for provider %s", a.Email, provider.Name)
	c.JSON(http.StatusCreated, a)
}

// TestAccount checks the account credentials against its transport
func (h *Handlers) TestAccount(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	acc, err := h.store.GetAccount(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.tester.TestConnection(ctx, acc); err != nil {
		logrus.Warnf("Connection test failed for %s: %v", acc.Email, err)
		c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "success": true, "message": "Connection successful"})
}
