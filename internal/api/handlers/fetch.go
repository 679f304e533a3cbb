package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// FetchHandler triggers fetch passes and reports provider sync state
type FetchHandler struct {
	scheduler *services.FetchScheduler
	registry  *services.ProviderRegistry
}

// NewFetchHandler creates a new FetchHandler instance
func NewFetchHandler(scheduler *services.FetchScheduler, registry *services.ProviderRegistry) *FetchHandler {
	return &FetchHandler{scheduler: scheduler, registry: registry}
}

// FetchStatus is the sync state of one mailbox provider
type FetchStatus struct {
	ProviderID uint                     `json:"provider_id"`
	Name       string                   `json:"name"`
	Active     bool                     `json:"active"`
	Fetching   bool                     `json:"fetching"`
	SyncState  models.ProviderSyncState `json:"sync_state"`
}

// TriggerFetch runs one fetch pass over every active provider, or over the
// provider named by provider_id
// POST /api/fetch
func (h *FetchHandler) TriggerFetch(c *gin.Context) {
	if raw := c.Query("provider_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || id == 0 {
			respondError(c, 400, "INVALID_ID", "Invalid provider_id")
			return
		}
		report, err := h.scheduler.FetchProvider(c.Request.Context(), uint(id))
		if err != nil {
			respondServiceError(c, err)
			return
		}
		respondOK(c, report)
		return
	}

	report := h.scheduler.RunOnce(c.Request.Context())
	created, duplicates, failed := report.Totals()
	respondOK(c, gin.H{
		"report":     report,
		"created":    created,
		"duplicates": duplicates,
		"failed":     failed,
	})
}

// GetStatus returns the sync state of every mailbox provider
// GET /api/fetch/status
func (h *FetchHandler) GetStatus(c *gin.Context) {
	providers := h.registry.ListMailboxes()
	statuses := make([]FetchStatus, 0, len(providers))
	for _, p := range providers {
		statuses = append(statuses, FetchStatus{
			ProviderID: p.ID,
			Name:       p.Name,
			Active:     p.Active,
			Fetching:   h.scheduler.IsProviderFetching(p.ID),
			SyncState:  h.scheduler.SyncState(p.ID),
		})
	}

	respondOK(c, gin.H{
		"scheduler_running": h.scheduler.IsRunning(),
		"providers":         statuses,
	})
}
