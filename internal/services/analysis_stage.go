package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/functions/local"
)

// DefaultModelTimeout bounds one classify or draft call
const DefaultModelTimeout = 30 * time.Second

// engineSource resolves the engine used for analysis and drafting
type engineSource struct {
	registry *ProviderRegistry
}

// resolve returns the preferred active model provider's engine. With no model
// provider configured the local heuristic engine is used.
func (e engineSource) resolve(ctx context.Context) (functions.Engine, *uint, error) {
	p, err := e.registry.PrimaryModel()
	if errors.Is(err, ErrProviderNotFound) {
		return local.NewEngine(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	engine, err := e.registry.OpenModel(ctx, p)
	if err != nil {
		return nil, nil, err
	}
	id := p.ID
	return engine, &id, nil
}

// AnalysisStage classifies emails and stores immutable analyses
type AnalysisStage struct {
	db         *gorm.DB
	engines    engineSource
	workflow   *Workflow
	logService *LogService
	timeout    time.Duration
}

// NewAnalysisStage creates an AnalysisStage
func NewAnalysisStage(db *gorm.DB, registry *ProviderRegistry, workflow *Workflow, logService *LogService, timeout time.Duration) *AnalysisStage {
	if timeout <= 0 {
		timeout = DefaultModelTimeout
	}
	return &AnalysisStage{
		db:         db,
		engines:    engineSource{registry: registry},
		workflow:   workflow,
		logService: logService,
		timeout:    timeout,
	}
}

// Analyze classifies email and records the result. On failure the email is
// left untouched and one analysis_failed system log entry is written. Engine
// failures return ErrModelProvider; a result that cannot be stored returns
// the storage error, such as ErrEmailNotFound.
func (s *AnalysisStage) Analyze(ctx context.Context, email *models.Email, actor string) (*models.EmailAnalysis, *functions.AnalysisResult, error) {
	start := time.Now()

	engine, providerID, err := s.engines.resolve(ctx)
	if err != nil {
		return nil, nil, s.fail(email.ID, "", start, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := engine.Classify(cctx, functions.ClassifyRequest{
		Subject:     email.Subject,
		Body:        email.Body,
		From:        email.FromAddr,
		FromName:    email.FromName,
		MailboxKind: string(email.MailboxKind),
	})
	if err == nil && result == nil {
		err = errors.New("engine returned no result")
	}
	if err != nil {
		return nil, nil, s.fail(email.ID, "", start, err)
	}

	result.Clamp()
	analysis := &models.EmailAnalysis{
		EmailID:         email.ID,
		Categories:      result.Categories,
		Sentiment:       models.Sentiment(result.Sentiment),
		Intent:          result.Intent,
		Urgency:         result.Urgency,
		RequiredInfo:    result.RequiredInfo,
		Summary:         result.Summary,
		Confidence:      result.Confidence,
		ContainsPII:     result.ContainsPII,
		Department:      result.Department,
		SuggestedAction: result.SuggestedAction,
		ModelProviderID: providerID,
		Model:           result.Model,
	}
	if err := s.workflow.RecordAnalysis(ctx, analysis, actor); err != nil {
		s.logService.LogAnalysisFailed(email.ID, result.Model, time.Since(start).Milliseconds(), err)
		return nil, nil, fmt.Errorf("record analysis: %w", err)
	}

	return analysis, result, nil
}

// Reanalyze runs a new analysis for a stored email. Earlier analyses are kept.
func (s *AnalysisStage) Reanalyze(ctx context.Context, emailID uint, actor string) (*models.EmailAnalysis, error) {
	var email models.Email
	if err := s.db.WithContext(ctx).First(&email, emailID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}

	analysis, _, err := s.Analyze(ctx, &email, actor)
	return analysis, err
}

func (s *AnalysisStage) fail(emailID uint, model string, start time.Time, err error) error {
	s.logService.LogAnalysisFailed(emailID, model, time.Since(start).Milliseconds(), err)
	return fmt.Errorf("%w: %v", ErrModelProvider, err)
}

// analysisResultFrom converts a stored analysis back to engine input
func analysisResultFrom(a *models.EmailAnalysis) *functions.AnalysisResult {
	if a == nil {
		return nil
	}
	return &functions.AnalysisResult{
		Categories:      a.Categories,
		Sentiment:       string(a.Sentiment),
		Intent:          a.Intent,
		Urgency:         a.Urgency,
		RequiredInfo:    a.RequiredInfo,
		Summary:         a.Summary,
		Confidence:      a.Confidence,
		ContainsPII:     a.ContainsPII,
		Department:      a.Department,
		SuggestedAction: a.SuggestedAction,
		Model:           a.Model,
	}
}
