// Package app wires the services shared by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/config"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/services"
	"github.com/Brownster/email-ai-assistant/internal/storage"
)

// App holds one instance of every service
type App struct {
	Config *config.Config
	DB     *gorm.DB
	Log    *slog.Logger

	Logs      *services.LogService
	Registry  *services.ProviderRegistry
	Activity  *services.ActivityLog
	Workflow  *services.Workflow
	Analysis  *services.AnalysisStage
	Drafts    *services.DraftStage
	Ingestor  *services.Ingestor
	Pipeline  *services.Pipeline
	Sender    *services.SendPipeline
	Emails    *services.EmailService
	Users     *services.UserService
	Scheduler *services.FetchScheduler
}

// New builds the service graph and loads the provider registry
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	creds, err := services.NewCredentialStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("attachment store: %w", err)
	}

	a := &App{Config: cfg, DB: db, Log: log}
	a.Logs = services.NewLogServiceWithLevel(db, cfg.LogLevel, log.With("component", "logs"))

	opener := &services.DefaultOpener{
		RedactPII: cfg.RedactPII,
		Breaker:   functions.DefaultBreakerSettings,
		Logger:    log.With("component", "engine"),
	}
	a.Registry = services.NewProviderRegistry(db, creds, opener, a.Logs)
	if err := a.Registry.Load(); err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	a.Activity = services.NewActivityLog(db)
	a.Workflow = services.NewWorkflow(db, a.Activity)
	a.Analysis = services.NewAnalysisStage(db, a.Registry, a.Workflow, a.Logs, cfg.ModelTimeout)
	a.Drafts = services.NewDraftStage(db, a.Registry, a.Workflow, a.Logs, cfg.ModelTimeout)
	a.Ingestor = services.NewIngestor(db, a.Activity, store, log.With("component", "ingestor"))
	a.Pipeline = services.NewPipeline(a.Registry, a.Ingestor, a.Analysis, a.Drafts, a.Logs, log.With("component", "pipeline"))
	a.Sender = services.NewSendPipeline(db, a.Registry, a.Workflow, a.Logs, cfg.SendTimeout)
	a.Emails = services.NewEmailService(db, a.Activity, store, a.Logs)
	a.Users = services.NewUserService(db)
	a.Scheduler = services.NewFetchScheduler(db, a.Registry, a.Pipeline, a.Logs,
		services.FetchOptionsFromConfig(cfg), log)

	return a, nil
}
