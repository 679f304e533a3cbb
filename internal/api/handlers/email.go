package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/api/middleware"
	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// EmailHandler serves the review surface: listing, detail, workflow
// transitions, draft edits and sending
type EmailHandler struct {
	emails     *services.EmailService
	workflow   *services.Workflow
	analysis   *services.AnalysisStage
	drafts     *services.DraftStage
	sender     *services.SendPipeline
	logService *services.LogService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emails *services.EmailService, workflow *services.Workflow, analysis *services.AnalysisStage,
	drafts *services.DraftStage, sender *services.SendPipeline, logService *services.LogService) *EmailHandler {
	return &EmailHandler{
		emails:     emails,
		workflow:   workflow,
		analysis:   analysis,
		drafts:     drafts,
		sender:     sender,
		logService: logService,
	}
}

// UpdateStatusRequest represents a workflow transition
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

// UpdateDraftRequest represents a reviewer edit of the current draft.
// An empty subject keeps the current one.
type UpdateDraftRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body" binding:"required"`
}

// MarkReadRequest represents the request to change the read flag
type MarkReadRequest struct {
	IsRead *bool `json:"is_read"`
}

// ListEmails returns a page of emails
// GET /api/emails
func (h *EmailHandler) ListEmails(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	providerID, _ := strconv.ParseUint(c.Query("provider_id"), 10, 32)

	result, err := h.emails.ListEmails(c.Request.Context(), services.EmailListOptions{
		ProviderID: uint(providerID),
		Status:     c.Query("status"),
		Page:       page,
		Limit:      limit,
		SortBy:     c.DefaultQuery("sort", "date"),
		SortOrder:  c.DefaultQuery("order", "desc"),
		Search:     c.Query("search"),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, result)
}

// GetStatusCounts returns the number of emails per workflow status
// GET /api/emails/counts
func (h *EmailHandler) GetStatusCounts(c *gin.Context) {
	counts, err := h.emails.StatusCounts(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, counts)
}

// GetEmail returns an email with its latest analysis and current draft
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	detail, err := h.emails.GetEmailDetail(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, detail)
}

// ListActivity returns the audit trail of an email
// GET /api/emails/:id/activity
func (h *EmailHandler) ListActivity(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	entries, err := h.emails.ListActivity(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, entries)
}

// ListAnalyses returns every analysis of an email, newest first
// GET /api/emails/:id/analyses
func (h *EmailHandler) ListAnalyses(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	analyses, err := h.emails.ListAnalyses(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, analyses)
}

// UpdateStatus moves an email along the review workflow
// PUT /api/emails/:id/status
func (h *EmailHandler) UpdateStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	email, err := h.workflow.Transition(c.Request.Context(), id, models.EmailStatus(req.Status), middleware.Actor(c), req.Note)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, email)
}

// UpdateDraft records a reviewer edit of the current draft
// PUT /api/emails/:id/draft
func (h *EmailHandler) UpdateDraft(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req UpdateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err)
		return
	}

	draft, err := h.workflow.EditDraft(c.Request.Context(), id, req.Subject, req.Body, middleware.Actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, draft)
}

// RegenerateDraft asks the model provider for a new draft, replacing a
// reviewer edit
// POST /api/emails/:id/draft/regenerate
func (h *EmailHandler) RegenerateDraft(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	draft, err := h.drafts.RegenerateDraft(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, draft)
}

// Analyze runs the analysis stage again and records a new analysis
// POST /api/emails/:id/analyze
func (h *EmailHandler) Analyze(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	analysis, err := h.analysis.Reanalyze(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, analysis)
}

// SendReply delivers the current draft through the email's provider
// POST /api/emails/:id/send
func (h *EmailHandler) SendReply(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	result, err := h.sender.Send(c.Request.Context(), id, middleware.Actor(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	respondOK(c, gin.H{
		"email":      result.Email,
		"draft":      result.Draft,
		"message_id": result.MessageID,
	})
}

// MarkAsRead sets the read flag. The body is optional and defaults to read.
// PUT /api/emails/:id/read
func (h *EmailHandler) MarkAsRead(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req MarkReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidation(c, err)
			return
		}
	}
	read := true
	if req.IsRead != nil {
		read = *req.IsRead
	}

	if err := h.workflow.MarkRead(c.Request.Context(), id, read); err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"id": id, "is_read": read})
}

// DownloadAttachment streams a stored attachment
// GET /api/emails/:id/attachments/:attachment_id
func (h *EmailHandler) DownloadAttachment(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	attachmentID, ok := idParam(c, "attachment_id")
	if !ok {
		return
	}

	att, content, err := h.emails.DownloadAttachment(c.Request.Context(), id, attachmentID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", "attachment; filename=\""+att.Filename+"\"")
	c.Data(http.StatusOK, contentType, content)
}
