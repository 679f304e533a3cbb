package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
)

// DraftStage generates reply drafts
type DraftStage struct {
	db         *gorm.DB
	engines    engineSource
	workflow   *Workflow
	logService *LogService
	timeout    time.Duration
}

// NewDraftStage creates a DraftStage
func NewDraftStage(db *gorm.DB, registry *ProviderRegistry, workflow *Workflow, logService *LogService, timeout time.Duration) *DraftStage {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &DraftStage{
		db:         db,
		engines:    engineSource{registry: registry},
		workflow:   workflow,
		logService: logService,
		timeout:    timeout,
	}
}

// Generate drafts a reply for email and attaches it. analysis may be nil.
// supersedeEdit is set only for explicit reviewer requests.
func (s *DraftStage) Generate(ctx context.Context, email *models.Email, analysis *functions.AnalysisResult, actor string, supersedeEdit bool) (*models.DraftReply, error) {
	engine, providerID, err := s.engines.resolve(ctx)
	if err != nil {
		s.logService.LogDraftFailed(email.ID, "", err)
		return nil, fmt.Errorf("%w: %v", ErrModelProvider, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := engine.Draft(cctx, functions.DraftRequest{
		Subject:     email.Subject,
		Body:        email.Body,
		From:        email.FromAddr,
		FromName:    email.FromName,
		MailboxKind: string(email.MailboxKind),
		Analysis:    analysis,
	})
	if err == nil && (result == nil || result.Body == "") {
		err = errors.New("engine returned an empty draft")
	}
	if err != nil {
		s.logService.LogDraftFailed(email.ID, "", err)
		return nil, fmt.Errorf("%w: %v", ErrModelProvider, err)
	}

	return s.workflow.AttachGeneratedDraft(ctx, email.ID, GeneratedDraft{
		Subject:         result.Subject,
		Body:            result.Body,
		Confidence:      result.Confidence,
		Model:           result.Model,
		ModelProviderID: providerID,
		Actor:           actor,
		SupersedeEdit:   supersedeEdit,
	})
}

// RegenerateDraft drafts a fresh reply on a reviewer's request, using the
// latest analysis. It may replace an edited draft but never after the reply
// was sent.
func (s *DraftStage) RegenerateDraft(ctx context.Context, emailID uint, actor string) (*models.DraftReply, error) {
	var email models.Email
	if err := s.db.WithContext(ctx).First(&email, emailID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}
	switch email.Status {
	case models.StatusSent:
		return nil, ErrDraftLocked
	case models.StatusResolved:
		return nil, fmt.Errorf("%w: email is resolved", ErrInvalidTransition)
	}

	latest, err := LatestAnalysis(s.db.WithContext(ctx), emailID)
	if err != nil {
		return nil, err
	}

	return s.Generate(ctx, &email, analysisResultFrom(latest), actor, true)
}
