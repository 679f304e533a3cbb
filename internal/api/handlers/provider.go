package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// ProviderHandler manages mailbox and model providers
type ProviderHandler struct {
	registry   *services.ProviderRegistry
	scheduler  *services.FetchScheduler
	logService *services.LogService
}

// NewProviderHandler creates a new ProviderHandler instance
func NewProviderHandler(registry *services.ProviderRegistry, scheduler *services.FetchScheduler, logService *services.LogService) *ProviderHandler {
	return &ProviderHandler{
		registry:   registry,
		scheduler:  scheduler,
		logService: logService,
	}
}

// CreateMailboxRequest represents the request to register a mailbox provider.
// Secret fields such as password go in Config and are never echoed back.
type CreateMailboxRequest struct {
	Name        string            `json:"name"`
	Kind        string            `json:"kind" binding:"required"`
	MailboxKind string            `json:"mailbox_kind"`
	Config      map[string]string `json:"config"`
	Inactive    bool              `json:"inactive"`
}

// CreateModelRequest represents the request to register a model provider
type CreateModelRequest struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind" binding:"required"`
	Config   map[string]string `json:"config"`
	Priority int               `json:"priority"`
	Inactive bool              `json:"inactive"`
}

// UpdateProviderRequest represents a partial provider update. Config entries
// are merged; an empty value removes the key.
type UpdateProviderRequest struct {
	Name        *string           `json:"name"`
	MailboxKind *string           `json:"mailbox_kind"`
	Priority    *int              `json:"priority"`
	Config      map[string]string `json:"config"`
}

// MailboxResponse is a mailbox provider with its fetch health
type MailboxResponse struct {
	models.MailboxProvider
	CanSend   bool                     `json:"can_send"`
	Fetching  bool                     `json:"fetching"`
	SyncState models.ProviderSyncState `json:"sync_state"`
}

func (h *ProviderHandler) toMailboxResponse(p models.MailboxProvider) MailboxResponse {
	return MailboxResponse{
		MailboxProvider: p,
		CanSend:         p.CanSend(),
		Fetching:        h.scheduler.IsProviderFetching(p.ID),
		SyncState:       h.scheduler.SyncState(p.ID),
	}
}

// ListMailboxes returns every mailbox provider
// GET /api/providers/mailbox
func (h *ProviderHandler) ListMailboxes(c *gin.Context) {
	providers := h.registry.ListMailboxes()
	response := make([]MailboxResponse, 0, len(providers))
	for _, p := range providers {
		response = append(response, h.toMailboxResponse(p))
	}
	respondOK(c, response)
}

// CreateMailbox registers a mailbox provider
// POST /api/providers/mailbox
func (h *ProviderHandler) CreateMailbox(c *gin.Context) {
	var req CreateMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	p, err := h.registry.RegisterMailbox(services.RegisterMailboxInput{
		Name:        req.Name,
		Kind:        models.MailboxProviderKind(req.Kind),
		MailboxKind: models.MailboxKind(req.MailboxKind),
		Config:      req.Config,
		Inactive:    req.Inactive,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    h.toMailboxResponse(*p),
	})
}

// UpdateMailbox changes a mailbox provider
// PUT /api/providers/mailbox/:id
func (h *ProviderHandler) UpdateMailbox(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	input := services.UpdateProviderInput{Name: req.Name, Config: req.Config}
	if req.MailboxKind != nil {
		kind := models.MailboxKind(*req.MailboxKind)
		input.MailboxKind = &kind
	}

	p, err := h.registry.UpdateMailbox(id, input)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, h.toMailboxResponse(*p))
}

// EnableMailbox activates a mailbox provider after revalidating it
// PUT /api/providers/mailbox/:id/enable
func (h *ProviderHandler) EnableMailbox(c *gin.Context) {
	h.setMailboxActive(c, true)
}

// DisableMailbox deactivates a mailbox provider
// PUT /api/providers/mailbox/:id/disable
func (h *ProviderHandler) DisableMailbox(c *gin.Context) {
	h.setMailboxActive(c, false)
}

func (h *ProviderHandler) setMailboxActive(c *gin.Context, active bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.registry.SetMailboxActive(id, active); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"id": id, "active": active})
}

// TestMailbox checks connectivity and credentials of a mailbox provider
// POST /api/providers/mailbox/:id/test
func (h *ProviderHandler) TestMailbox(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	result, err := h.registry.TestMailbox(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, result)
}

// ListModels returns every model provider, preferred first
// GET /api/providers/model
func (h *ProviderHandler) ListModels(c *gin.Context) {
	respondOK(c, h.registry.ListModels())
}

// CreateModel registers a model provider
// POST /api/providers/model
func (h *ProviderHandler) CreateModel(c *gin.Context) {
	var req CreateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	p, err := h.registry.RegisterModel(services.RegisterModelInput{
		Name:     req.Name,
		Kind:     models.ModelProviderKind(req.Kind),
		Config:   req.Config,
		Priority: req.Priority,
		Inactive: req.Inactive,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    p,
	})
}

// UpdateModel changes a model provider
// PUT /api/providers/model/:id
func (h *ProviderHandler) UpdateModel(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	p, err := h.registry.UpdateModel(id, services.UpdateProviderInput{
		Name:     req.Name,
		Priority: req.Priority,
		Config:   req.Config,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, p)
}

// EnableModel activates a model provider
// PUT /api/providers/model/:id/enable
func (h *ProviderHandler) EnableModel(c *gin.Context) {
	h.setModelActive(c, true)
}

// DisableModel deactivates a model provider
// PUT /api/providers/model/:id/disable
func (h *ProviderHandler) DisableModel(c *gin.Context) {
	h.setModelActive(c, false)
}

func (h *ProviderHandler) setModelActive(c *gin.Context, active bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.registry.SetModelActive(id, active); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"id": id, "active": active})
}
