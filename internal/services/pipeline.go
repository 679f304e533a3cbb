package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// Per-message outcomes reported by ProcessRaw
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeError     = "error"
)

// ProcessResult describes what happened to one raw message
type ProcessResult struct {
	Status        string `json:"status"`
	EmailID       uint   `json:"email_id,omitempty"`
	ExternalID    string `json:"external_id,omitempty"`
	MailboxKind   string `json:"mailbox_type,omitempty"`
	AnalysisError string `json:"analysis_error,omitempty"`
	DraftError    string `json:"draft_error,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Pipeline runs normalize, ingest, analyze and draft for one message
type Pipeline struct {
	registry   *ProviderRegistry
	ingestor   *Ingestor
	analysis   *AnalysisStage
	drafts     *DraftStage
	logService *LogService
	log        *slog.Logger
}

// NewPipeline creates a Pipeline
func NewPipeline(registry *ProviderRegistry, ingestor *Ingestor, analysis *AnalysisStage, drafts *DraftStage, logService *LogService, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		registry:   registry,
		ingestor:   ingestor,
		analysis:   analysis,
		drafts:     drafts,
		logService: logService,
		log:        log,
	}
}

// ProcessRaw handles one fetched message. Analysis and draft failures are
// reported in the result without an error; the email stays reviewable.
// Malformed messages are logged, dropped and returned as ErrMalformedMessage.
func (p *Pipeline) ProcessRaw(ctx context.Context, provider *models.MailboxProvider, raw mailbox.RawMessage) (*ProcessResult, error) {
	msg, err := Normalize(raw)
	if err != nil {
		p.logService.LogMalformedDropped(provider.ID, raw.ExternalID, err)
		return &ProcessResult{Status: OutcomeError, ExternalID: raw.ExternalID, Error: err.Error()}, err
	}

	email, created, err := p.ingestor.Ingest(ctx, provider, msg)
	if err != nil {
		return &ProcessResult{Status: OutcomeError, ExternalID: msg.ExternalID, Error: err.Error()}, err
	}

	result := &ProcessResult{
		EmailID:     email.ID,
		ExternalID:  email.ExternalID,
		MailboxKind: string(email.MailboxKind),
	}
	if !created {
		result.Status = OutcomeDuplicate
		return result, nil
	}
	result.Status = OutcomeProcessed

	_, analysis, err := p.analysis.Analyze(ctx, email, models.ActorSystem)
	if err != nil {
		result.AnalysisError = err.Error()
	}

	if _, err := p.drafts.Generate(ctx, email, analysis, models.ActorSystem, false); err != nil {
		result.DraftError = err.Error()
	}

	p.log.Debug("message processed",
		"provider_id", provider.ID, "email_id", email.ID,
		"analysis_ok", result.AnalysisError == "", "draft_ok", result.DraftError == "")
	return result, nil
}

// BatchDetail is the per-file entry of a BatchReport
type BatchDetail struct {
	File   string         `json:"file"`
	Result *ProcessResult `json:"result"`
}

// BatchReport summarizes a directory or file run
type BatchReport struct {
	Processed  int           `json:"processed"`
	Duplicates int           `json:"duplicates"`
	Errors     int           `json:"errors"`
	Details    []BatchDetail `json:"details"`
}

func (r *BatchReport) add(file string, res *ProcessResult) {
	switch res.Status {
	case OutcomeProcessed:
		r.Processed++
	case OutcomeDuplicate:
		r.Duplicates++
	default:
		r.Errors++
	}
	r.Details = append(r.Details, BatchDetail{File: file, Result: res})
}

// DirectoryProvider returns the directory provider for dir, registering one
// when none exists. providerID, when non-zero, must name an active provider.
func (p *Pipeline) DirectoryProvider(dir string, providerID uint) (*models.MailboxProvider, error) {
	if providerID != 0 {
		return p.registry.GetMailbox(providerID)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	for _, mp := range p.registry.ListActiveMailboxes(CapabilityFetch) {
		if mp.Kind == models.MailboxKindDirectory && mp.Config["path"] == abs {
			return &mp, nil
		}
	}

	return p.registry.RegisterMailbox(RegisterMailboxInput{
		Kind:   models.MailboxKindDirectory,
		Config: map[string]string{"path": abs},
	})
}

// ProcessDirectory runs every .eml file in dir through the pipeline. It does
// not touch the fetch scheduler or the provider's sync state.
func (p *Pipeline) ProcessDirectory(ctx context.Context, dir string, providerID uint) (*BatchReport, error) {
	provider, err := p.DirectoryProvider(dir, providerID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	report := &BatchReport{Details: []BatchDetail{}}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(name, p.processFile(ctx, provider, filepath.Join(dir, name)))
	}
	return report, nil
}

// ProcessFile runs a single .eml file through the pipeline
func (p *Pipeline) ProcessFile(ctx context.Context, path string, providerID uint) (*ProcessResult, error) {
	provider, err := p.DirectoryProvider(filepath.Dir(path), providerID)
	if err != nil {
		return nil, err
	}
	return p.processFile(ctx, provider, path), nil
}

func (p *Pipeline) processFile(ctx context.Context, provider *models.MailboxProvider, path string) *ProcessResult {
	raw, err := mailbox.ReadFile(path)
	if err != nil {
		return &ProcessResult{Status: OutcomeError, Error: err.Error()}
	}
	res, err := p.ProcessRaw(ctx, provider, raw)
	if err != nil && !errors.Is(err, ErrMalformedMessage) {
		p.log.Error("failed to process file", "file", path, "error", err)
	}
	if res == nil {
		res = &ProcessResult{Status: OutcomeError, Error: fmt.Sprint(err)}
	}
	return res
}
