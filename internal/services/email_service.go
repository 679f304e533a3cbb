package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/storage"
)

// EmailService serves the read side of the review surface
type EmailService struct {
	db         *gorm.DB
	activity   *ActivityLog
	store      storage.AttachmentStore
	logService *LogService
}

// NewEmailService creates an EmailService
func NewEmailService(db *gorm.DB, activity *ActivityLog, store storage.AttachmentStore, logService *LogService) *EmailService {
	if store == nil {
		store = storage.NoneStore{}
	}
	return &EmailService{db: db, activity: activity, store: store, logService: logService}
}

// EmailListOptions represents options for listing emails
type EmailListOptions struct {
	ProviderID uint
	Status     string
	Page       int
	Limit      int
	SortBy     string // date, from, subject or urgency
	SortOrder  string // asc or desc
	Search     string
}

// EmailListItem is an email with the headline fields of its latest analysis
type EmailListItem struct {
	models.Email
	Urgency    *int   `json:"urgency,omitempty"`
	Department string `json:"department,omitempty"`
	HasDraft   bool   `json:"has_draft"`
}

// EmailListResult represents the result of listing emails
type EmailListResult struct {
	Total  int64           `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
	Emails []EmailListItem `json:"emails"`
}

// latestUrgency orders by the urgency of the most recent analysis
const latestUrgency = "(SELECT a.urgency FROM email_analyses a WHERE a.email_id = emails.id ORDER BY a.created_at DESC, a.id DESC LIMIT 1)"

// ListEmails lists emails with pagination and filtering
func (s *EmailService) ListEmails(ctx context.Context, opts EmailListOptions) (*EmailListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	// limit=-1 disables pagination
	if opts.Limit == 0 {
		opts.Limit = 20
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}
	if opts.SortBy == "" {
		opts.SortBy = "date"
	}
	desc := !strings.EqualFold(opts.SortOrder, "asc")

	query := s.db.WithContext(ctx).Model(&models.Email{})

	if opts.ProviderID > 0 {
		query = query.Where("mailbox_provider_id = ?", opts.ProviderID)
	}
	if opts.Status != "" && opts.Status != "all" {
		status := models.EmailStatus(opts.Status)
		if !status.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, opts.Status)
		}
		query = query.Where("status = ?", status)
	}
	if opts.Search != "" {
		pattern := "%" + opts.Search + "%"
		query = query.Where("subject LIKE ? OR from_addr LIKE ? OR body LIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, err
	}

	dir := " DESC"
	if !desc {
		dir = " ASC"
	}
	switch opts.SortBy {
	case "from":
		query = query.Order("from_addr" + dir)
	case "subject":
		query = query.Order("subject" + dir)
	case "urgency":
		query = query.Order(latestUrgency + dir)
	default:
		query = query.Order("received_at" + dir)
	}
	query = query.Order("id" + dir)

	if opts.Limit > 0 {
		query = query.Offset((opts.Page - 1) * opts.Limit).Limit(opts.Limit)
	}

	var emails []models.Email
	if err := query.Find(&emails).Error; err != nil {
		return nil, err
	}

	items, err := s.decorate(ctx, emails)
	if err != nil {
		return nil, err
	}

	return &EmailListResult{Total: total, Page: opts.Page, Limit: opts.Limit, Emails: items}, nil
}

// decorate attaches the latest analysis summary and draft presence
func (s *EmailService) decorate(ctx context.Context, emails []models.Email) ([]EmailListItem, error) {
	items := make([]EmailListItem, len(emails))
	if len(emails) == 0 {
		return items, nil
	}

	ids := make([]uint, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
		items[i].Email = e
	}

	var analyses []models.EmailAnalysis
	if err := s.db.WithContext(ctx).Where("email_id IN ?", ids).
		Order("created_at ASC").Order("id ASC").Find(&analyses).Error; err != nil {
		return nil, err
	}
	latest := make(map[uint]models.EmailAnalysis, len(analyses))
	for _, a := range analyses {
		latest[a.EmailID] = a
	}

	var drafted []uint
	if err := s.db.WithContext(ctx).Model(&models.DraftReply{}).
		Where("email_id IN ?", ids).Distinct().Pluck("email_id", &drafted).Error; err != nil {
		return nil, err
	}
	hasDraft := make(map[uint]bool, len(drafted))
	for _, id := range drafted {
		hasDraft[id] = true
	}

	for i := range items {
		if a, ok := latest[items[i].ID]; ok {
			u := a.Urgency
			items[i].Urgency = &u
			items[i].Department = a.Department
		}
		items[i].HasDraft = hasDraft[items[i].ID]
	}
	return items, nil
}

// EmailDetail is an email with its latest analysis and current draft
type EmailDetail struct {
	Email    *models.Email         `json:"email"`
	Analysis *models.EmailAnalysis `json:"analysis"`
	Draft    *models.DraftReply    `json:"draft"`
}

// GetEmail gets an email by ID
func (s *EmailService) GetEmail(ctx context.Context, id uint) (*models.Email, error) {
	var email models.Email
	if err := s.db.WithContext(ctx).Preload("Attachments").First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	return &email, nil
}

// GetEmailDetail returns the email, its latest analysis and its current draft
func (s *EmailService) GetEmailDetail(ctx context.Context, id uint) (*EmailDetail, error) {
	email, err := s.GetEmail(ctx, id)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	analysis, err := LatestAnalysis(db, id)
	if err != nil {
		return nil, err
	}
	draft, err := CurrentDraft(db, id)
	if err != nil {
		return nil, err
	}

	return &EmailDetail{Email: email, Analysis: analysis, Draft: draft}, nil
}

// ListActivity returns the audit trail of an email
func (s *EmailService) ListActivity(ctx context.Context, id uint) ([]models.ActivityLogEntry, error) {
	if _, err := s.GetEmail(ctx, id); err != nil {
		return nil, err
	}
	return s.activity.ListForEmail(id)
}

// ListAnalyses returns every analysis of an email, newest first
func (s *EmailService) ListAnalyses(ctx context.Context, id uint) ([]models.EmailAnalysis, error) {
	var analyses []models.EmailAnalysis
	err := s.db.WithContext(ctx).Where("email_id = ?", id).
		Order("created_at DESC").Order("id DESC").Find(&analyses).Error
	return analyses, err
}

// StatusCounts returns the number of emails in each workflow status
func (s *EmailService) StatusCounts(ctx context.Context) (map[models.EmailStatus]int64, error) {
	var rows []struct {
		Status models.EmailStatus
		Count  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Email{}).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := map[models.EmailStatus]int64{
		models.StatusPendingReview: 0,
		models.StatusInProgress:    0,
		models.StatusResolved:      0,
		models.StatusSent:          0,
	}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// DownloadAttachment returns the metadata and stored content of an attachment
func (s *EmailService) DownloadAttachment(ctx context.Context, emailID, attachmentID uint) (*models.Attachment, []byte, error) {
	var att models.Attachment
	err := s.db.WithContext(ctx).Where("id = ? AND email_id = ?", attachmentID, emailID).First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrAttachmentNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if att.StoragePath == "" {
		return nil, nil, ErrAttachmentNotFound
	}

	content, err := s.store.Get(ctx, att.StoragePath)
	if err != nil {
		s.logService.LogError(models.LogModuleWorkflow, "download_attachment", "Failed to get attachment", map[string]interface{}{
			"email_id":      emailID,
			"attachment_id": attachmentID,
			"error":         err.Error(),
		})
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, nil, ErrAttachmentNotFound
		}
		return nil, nil, err
	}
	return &att, content, nil
}
