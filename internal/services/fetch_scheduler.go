package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Brownster/email-ai-assistant/internal/config"
	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// FetchOptions tunes the fetch scheduler
type FetchOptions struct {
	Interval       time.Duration
	FetchTimeout   time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	EmailAgeLimit  time.Duration
	BatchSize      int
	MarkAsRead     bool
	MaxConcurrent  int
}

// FetchOptionsFromConfig maps the fetch settings of cfg
func FetchOptionsFromConfig(cfg *config.Config) FetchOptions {
	return FetchOptions{
		Interval:       cfg.FetchInterval,
		FetchTimeout:   cfg.FetchTimeout,
		MaxAttempts:    cfg.MaxFetchAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		EmailAgeLimit:  cfg.EmailAgeLimit,
		BatchSize:      cfg.BatchSize,
		MarkAsRead:     cfg.MarkAsRead,
		MaxConcurrent:  cfg.MaxConcurrentProviders,
	}
}

func (o *FetchOptions) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = config.DefaultFetchInterval
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = config.DefaultFetchTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = config.DefaultMaxFetchAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = config.DefaultRetryBaseDelay
	}
	if o.EmailAgeLimit <= 0 {
		o.EmailAgeLimit = config.DefaultEmailAgeLimit
	}
	if o.BatchSize <= 0 {
		o.BatchSize = config.DefaultBatchSize
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = config.DefaultMaxConcurrentProviders
	}
}

// ProviderReport is the outcome of one provider unit in a cycle
type ProviderReport struct {
	ProviderID uint   `json:"provider_id"`
	Name       string `json:"name"`
	Skipped    bool   `json:"skipped,omitempty"`
	Attempts   int    `json:"attempts"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Duplicates int    `json:"duplicates"`
	Malformed  int    `json:"malformed"`
	Failed     int    `json:"failed"`
	Error      string `json:"error,omitempty"`
}

// CycleReport summarizes one fetch pass over all providers
type CycleReport struct {
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Providers  []ProviderReport `json:"providers"`
}

// Totals sums created, duplicate and failed provider counts
func (r *CycleReport) Totals() (created, duplicates, failed int) {
	for _, p := range r.Providers {
		created += p.Created
		duplicates += p.Duplicates
		if p.Error != "" {
			failed++
		}
	}
	return
}

// FetchScheduler pulls new mail from every active provider, once or on a
// ticker
type FetchScheduler struct {
	db         *gorm.DB
	registry   *ProviderRegistry
	pipeline   *Pipeline
	logService *LogService
	log        *slog.Logger
	opts       FetchOptions

	stopChan      chan struct{}
	running       bool
	mu            sync.Mutex
	cycling       sync.Mutex // a cycle still running makes the next tick a no-op
	providerLocks sync.Map   // one unit per provider at a time
	wg            sync.WaitGroup
}

// NewFetchScheduler creates a FetchScheduler
func NewFetchScheduler(db *gorm.DB, registry *ProviderRegistry, pipeline *Pipeline, logService *LogService, opts FetchOptions, log *slog.Logger) *FetchScheduler {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &FetchScheduler{
		db:         db,
		registry:   registry,
		pipeline:   pipeline,
		logService: logService,
		log:        log.With("component", "fetch_scheduler"),
		opts:       opts,
		stopChan:   make(chan struct{}),
	}
}

// Start begins periodic fetching. The first cycle runs immediately.
func (s *FetchScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("starting", "interval", s.opts.Interval, "max_concurrent", s.opts.MaxConcurrent)

	go func() {
		defer s.wg.Done()

		s.runCycle(stop)

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runCycle(stop)
			case <-stop:
				s.log.Info("stopping")
				return
			}
		}
	}()
}

// Stop ends periodic fetching and waits for in-flight provider units to
// finish the message they are processing
func (s *FetchScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("stopped")
}

// IsRunning reports whether the background loop is active
func (s *FetchScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// IsProviderFetching reports whether a unit for the provider is in flight
func (s *FetchScheduler) IsProviderFetching(providerID uint) bool {
	_, loaded := s.providerLocks.Load(providerID)
	return loaded
}

func (s *FetchScheduler) tryLockProvider(providerID uint) bool {
	_, loaded := s.providerLocks.LoadOrStore(providerID, true)
	return !loaded
}

func (s *FetchScheduler) unlockProvider(providerID uint) {
	s.providerLocks.Delete(providerID)
}

// RunOnce runs a single pass over all active providers and returns its report
func (s *FetchScheduler) RunOnce(ctx context.Context) *CycleReport {
	stop := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			close(stop)
		case <-done:
		}
	}()
	return s.runCycle(stop)
}

// FetchProvider runs one unit for a single provider on demand
func (s *FetchScheduler) FetchProvider(ctx context.Context, providerID uint) (*ProviderReport, error) {
	provider, err := s.registry.GetMailbox(providerID)
	if err != nil {
		return nil, err
	}
	if !s.tryLockProvider(providerID) {
		return nil, ErrFetchInProgress
	}
	defer s.unlockProvider(providerID)

	report := s.runUnit(ctx.Done(), provider)
	return &report, nil
}

// runCycle fetches every active provider concurrently, bounded by
// MaxConcurrent. stop abandons retry waits.
func (s *FetchScheduler) runCycle(stop <-chan struct{}) *CycleReport {
	report := &CycleReport{StartedAt: time.Now(), Providers: []ProviderReport{}}

	if !s.cycling.TryLock() {
		s.log.Warn("previous cycle still running, skipping")
		report.FinishedAt = time.Now()
		return report
	}
	defer s.cycling.Unlock()

	providers := s.registry.ListActiveMailboxes(CapabilityFetch)
	if len(providers) == 0 {
		s.log.Debug("no active providers")
		report.FinishedAt = time.Now()
		return report
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sem = make(chan struct{}, s.opts.MaxConcurrent)
	)
	for i := range providers {
		p := providers[i]
		if !s.tryLockProvider(p.ID) {
			s.log.Info("provider already fetching, skipping", "provider_id", p.ID, "name", p.Name)
			mu.Lock()
			report.Providers = append(report.Providers, ProviderReport{ProviderID: p.ID, Name: p.Name, Skipped: true})
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.unlockProvider(p.ID)

			sem <- struct{}{}
			defer func() { <-sem }()

			r := s.runUnit(stop, &p)
			mu.Lock()
			report.Providers = append(report.Providers, r)
			mu.Unlock()
		}()
	}
	wg.Wait()

	report.FinishedAt = time.Now()
	created, dups, failed := report.Totals()
	s.log.Info("cycle completed",
		"providers", len(providers), "created", created, "duplicates", dups, "failed", failed,
		"duration", report.FinishedAt.Sub(report.StartedAt))
	return report
}

// runUnit fetches and processes one provider with retries. Panics are
// recovered so one provider cannot take the loop down.
func (s *FetchScheduler) runUnit(stop <-chan struct{}, provider *models.MailboxProvider) (report ProviderReport) {
	report = ProviderReport{ProviderID: provider.ID, Name: provider.Name}
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.log.Error("provider unit panicked", "provider_id", provider.ID, "panic", r)
			report.Error = err.Error()
			s.recordFailure(provider, err)
		}
	}()

	state := s.syncState(provider.ID)
	cursor := mailbox.Cursor{At: state.CursorAt, Key: state.CursorKey}
	if cursor.IsZero() {
		cursor = mailbox.Cursor{At: time.Now().Add(-s.opts.EmailAgeLimit)}
	}
	fetchStarted := time.Now()

	var (
		mb   mailbox.Mailbox
		msgs []mailbox.RawMessage
		err  error
	)
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := s.opts.RetryBaseDelay * time.Duration(1<<uint(attempt-2))
			s.log.Info("retrying fetch", "provider_id", provider.ID, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-stop:
				report.Error = fmt.Sprintf("stopped before retry: %v", err)
				s.recordFailure(provider, err)
				return report
			}
		}

		report.Attempts = attempt
		mb, msgs, err = s.fetch(provider, cursor)
		if err == nil || !mailbox.IsTransient(err) {
			break
		}
		s.log.Warn("fetch attempt failed", "provider_id", provider.ID, "attempt", attempt, "error", err)
	}

	details := FetchOperationDetails{ProviderID: provider.ID, Attempts: report.Attempts}
	if err != nil {
		report.Error = err.Error()
		if mailbox.IsAuthError(err) {
			s.logService.LogProviderAuthFailed(provider.ID, provider.Name, err)
		}
		s.logService.LogFetch(details, err)
		s.recordFailure(provider, err)
		return report
	}

	// The cursor follows stored messages in arrival order and stops before the
	// first failure, so a failed message is fetched again next cycle. Only
	// stored messages are marked as read.
	report.Fetched = len(msgs)
	stored := make([]mailbox.RawMessage, 0, len(msgs))
	advancing := true
	var firstFailure error
	for _, raw := range msgs {
		res, err := s.pipeline.ProcessRaw(context.Background(), provider, raw)
		switch {
		case errors.Is(err, ErrMalformedMessage):
			report.Malformed++
		case err != nil:
			report.Failed++
			advancing = false
			if firstFailure == nil {
				firstFailure = err
			}
			s.log.Error("failed to process message", "provider_id", provider.ID, "external_id", raw.ExternalID, "error", err)
			s.logService.LogProcessFailed(provider.ID, raw.ExternalID, err)
			continue
		case res.Status == OutcomeDuplicate:
			report.Duplicates++
		default:
			report.Created++
		}
		stored = append(stored, raw)
		if advancing && !raw.ReceivedAt.IsZero() {
			cursor = mailbox.CursorOf(raw)
		}
	}

	if s.opts.MarkAsRead && len(stored) > 0 {
		s.acknowledge(provider, mb, stored)
	}

	details.Fetched, details.Created, details.Duplicates = report.Fetched, report.Created, report.Duplicates
	details.Malformed, details.Failed = report.Malformed, report.Failed
	s.logService.LogFetch(details, nil)
	s.recordSuccess(provider.ID, fetchStarted, cursor, firstFailure)
	return report
}

// fetch opens the provider and runs one attempt under FetchTimeout. The
// context is not tied to the stop signal so an in-flight fetch completes
// during shutdown.
func (s *FetchScheduler) fetch(provider *models.MailboxProvider, after mailbox.Cursor) (mailbox.Mailbox, []mailbox.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()

	mb, err := s.registry.OpenMailbox(ctx, provider)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := mb.Fetch(ctx, mailbox.FetchRequest{
		After: after,
		Limit: s.opts.BatchSize,
	})
	return mb, msgs, err
}

// acknowledge marks stored messages as read. A failure only means they are
// fetched again and found to be duplicates.
func (s *FetchScheduler) acknowledge(provider *models.MailboxProvider, mb mailbox.Mailbox, msgs []mailbox.RawMessage) {
	ack, ok := mailbox.AcknowledgerOf(mb)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()
	if err := ack.MarkRead(ctx, msgs); err != nil {
		s.log.Warn("failed to mark messages as read", "provider_id", provider.ID, "count", len(msgs), "error", err)
	}
}

// SyncState returns the fetch state of a provider, zero valued when it was
// never fetched
func (s *FetchScheduler) SyncState(providerID uint) models.ProviderSyncState {
	return s.syncState(providerID)
}

func (s *FetchScheduler) syncState(providerID uint) models.ProviderSyncState {
	var states []models.ProviderSyncState
	s.db.Where("mailbox_provider_id = ?", providerID).Limit(1).Find(&states)
	if len(states) == 0 {
		return models.ProviderSyncState{MailboxProviderID: providerID, Status: models.SyncStatusOK}
	}
	return states[0]
}

// recordSuccess saves the cursor after a completed fetch. processErr is the
// first message that could not be stored, if any.
func (s *FetchScheduler) recordSuccess(providerID uint, fetchedAt time.Time, cursor mailbox.Cursor, processErr error) {
	state := s.syncState(providerID)
	state.LastFetchAt = fetchedAt
	state.CursorAt = cursor.At
	state.CursorKey = cursor.Key
	state.LastSuccessAt = time.Now()
	state.LastError = ""
	if processErr != nil {
		state.LastError = processErr.Error()
	}
	state.ConsecutiveFailures = 0
	state.Status = models.SyncStatusOK
	s.saveState(&state)
}

func (s *FetchScheduler) recordFailure(provider *models.MailboxProvider, err error) {
	state := s.syncState(provider.ID)
	state.ConsecutiveFailures++
	if err != nil {
		state.LastError = err.Error()
	}
	switch {
	case mailbox.IsAuthError(err):
		state.Status = models.SyncStatusAuthError
	case mailbox.IsTransient(err):
		state.Status = models.SyncStatusTransientError
	default:
		state.Status = models.SyncStatusError
	}
	s.saveState(&state)
}

func (s *FetchScheduler) saveState(state *models.ProviderSyncState) {
	state.ID = 0
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "mailbox_provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_fetch_at", "cursor_at", "cursor_key", "last_success_at", "last_error", "consecutive_failures", "status", "updated_at",
		}),
	}).Create(state).Error
	if err != nil {
		s.log.Error("failed to save sync state", "provider_id", state.MailboxProviderID, "error", err)
	}
}
