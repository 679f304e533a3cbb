package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions/local"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// Scenario A: the same external id fetched in two cycles yields one email
func TestScenario_DuplicateAcrossCycles(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	mb := &fakeMailbox{messages: []mailbox.RawMessage{rawMessage("e_2001", "Where is my order?")}}
	p := env.addIMAP(t, "Support", mb)

	first := env.scheduler.RunOnce(context.Background())
	second := env.scheduler.RunOnce(context.Background())

	if created, _, _ := first.Totals(); created != 1 {
		t.Errorf("first cycle created %d, want 1", created)
	}
	if created, dups, _ := second.Totals(); created != 0 || dups != 1 {
		t.Errorf("second cycle created=%d duplicates=%d, want 0 and 1", created, dups)
	}

	if n := countRows(t, env.db, &models.Email{}, "mailbox_provider_id = ? AND external_id = ?", p.ID, "e_2001"); n != 1 {
		t.Fatalf("email rows = %d, want 1", n)
	}

	var email models.Email
	env.db.Where("external_id = ?", "e_2001").First(&email)
	if email.Status != models.StatusPendingReview {
		t.Errorf("status = %s, want pending_review", email.Status)
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivityReceived); n != 1 {
		t.Errorf("received entries = %d, want 1", n)
	}
	if n := countRows(t, env.db, &models.EmailAnalysis{}, "email_id = ?", email.ID); n != 1 {
		t.Errorf("analyses = %d, want 1 (the duplicate must not be re-analyzed)", n)
	}
}

// Scenario B: sending without a draft fails before the provider is contacted
func TestScenario_SendWithoutDraft(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	mb := &fakeMailbox{}
	p := env.addIMAP(t, "Support", mb)

	msg, err := Normalize(rawMessage("b_1", "No draft here"))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	email, created, err := env.ingestor.Ingest(context.Background(), p, msg)
	if err != nil || !created {
		t.Fatalf("Ingest: created=%v err=%v", created, err)
	}

	_, err = env.sender.Send(context.Background(), email.ID, "alice")
	if !errors.Is(err, ErrSendPreconditionFailed) {
		t.Fatalf("Send error = %v, want ErrSendPreconditionFailed", err)
	}
	if mb.sendCalls.Load() != 0 {
		t.Errorf("provider was called %d times", mb.sendCalls.Load())
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivityReplySent); n != 0 {
		t.Errorf("reply_sent entries = %d, want 0", n)
	}
}

// Scenario C: a sent email's draft cannot be edited
func TestScenario_EditAfterSent(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p := env.addIMAP(t, "Support", &fakeMailbox{})
	email := env.ingest(t, p, "c_1", "Refund please")

	if _, err := env.sender.Send(context.Background(), email.ID, "alice"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	before, _ := CurrentDraft(env.db, email.ID)

	_, err := env.workflow.EditDraft(context.Background(), email.ID, "", "changed after the fact", "bob")
	if !errors.Is(err, ErrDraftLocked) {
		t.Fatalf("EditDraft error = %v, want ErrDraftLocked", err)
	}

	after, _ := CurrentDraft(env.db, email.ID)
	if after.ID != before.ID || after.Body != before.Body || after.IsEdited {
		t.Errorf("draft changed: before=%+v after=%+v", before, after)
	}
}

// Scenario D: resolved is terminal
func TestScenario_ResolvedIsTerminal(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p := env.addIMAP(t, "Support", &fakeMailbox{})
	email := env.ingest(t, p, "d_1", "Question")
	ctx := context.Background()

	if _, err := env.workflow.Transition(ctx, email.ID, models.StatusInProgress, "alice", ""); err != nil {
		t.Fatalf("to in_progress: %v", err)
	}
	if _, err := env.workflow.Transition(ctx, email.ID, models.StatusResolved, "alice", "answered by phone"); err != nil {
		t.Fatalf("to resolved: %v", err)
	}
	_, err := env.workflow.Transition(ctx, email.ID, models.StatusInProgress, "alice", "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("resolved -> in_progress error = %v, want ErrInvalidTransition", err)
	}

	var stored models.Email
	env.db.First(&stored, email.ID)
	if stored.Status != models.StatusResolved {
		t.Errorf("status = %s, want resolved", stored.Status)
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivityStatusChanged); n != 2 {
		t.Errorf("status_changed entries = %d, want 2", n)
	}
}

// Scenario E: an analysis timeout leaves the email reviewable and the batch
// continues
func TestScenario_AnalysisTimeout(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	env.opener.engine = slowEngine{local: local.NewEngine()}
	if _, err := env.registry.RegisterModel(RegisterModelInput{
		Kind:   models.ModelKindCustom,
		Config: map[string]string{"api_key": "k", "base_url": "http://model.invalid"},
	}); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}

	mb := &fakeMailbox{messages: []mailbox.RawMessage{
		rawMessage("e_1", "slow request"),
		rawMessage("e_2", "normal request"),
	}}
	env.addIMAP(t, "Support", mb)

	report := env.scheduler.RunOnce(context.Background())
	if created, _, failed := report.Totals(); created != 2 || failed != 0 {
		t.Fatalf("created=%d failed=%d, want 2 and 0", created, failed)
	}

	var slow, normal models.Email
	env.db.Where("external_id = ?", "e_1").First(&slow)
	env.db.Where("external_id = ?", "e_2").First(&normal)

	if slow.Status != models.StatusPendingReview {
		t.Errorf("status = %s, want pending_review", slow.Status)
	}
	if n := countRows(t, env.db, &models.EmailAnalysis{}, "email_id = ?", slow.ID); n != 0 {
		t.Errorf("analyses for timed out email = %d, want 0", n)
	}
	if n, _ := env.logs.CountLogs(models.LogModuleProcess, "analysis_failed"); n != 1 {
		t.Errorf("analysis_failed logs = %d, want 1", n)
	}
	if n := countRows(t, env.db, &models.EmailAnalysis{}, "email_id = ?", normal.ID); n != 1 {
		t.Errorf("analyses for next email = %d, want 1", n)
	}
}

func TestScenario_DraftFailure(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	env.opener.engine = failingDraftEngine{local: local.NewEngine()}
	if _, err := env.registry.RegisterModel(RegisterModelInput{
		Kind:   models.ModelKindCustom,
		Config: map[string]string{"api_key": "k", "base_url": "http://model.invalid"},
	}); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}

	mb := &fakeMailbox{messages: []mailbox.RawMessage{
		rawMessage("d_1", "no draft for this one"),
		rawMessage("d_2", "normal request"),
	}}
	env.addIMAP(t, "Support", mb)

	report := env.scheduler.RunOnce(context.Background())
	if created, _, failed := report.Totals(); created != 2 || failed != 0 {
		t.Fatalf("created=%d failed=%d, want 2 and 0", created, failed)
	}

	var undrafted, drafted models.Email
	env.db.Where("external_id = ?", "d_1").First(&undrafted)
	env.db.Where("external_id = ?", "d_2").First(&drafted)

	if undrafted.Status != models.StatusPendingReview {
		t.Errorf("status = %s, want pending_review", undrafted.Status)
	}
	if n := countRows(t, env.db, &models.DraftReply{}, "email_id = ?", undrafted.ID); n != 0 {
		t.Errorf("drafts for failed email = %d, want 0", n)
	}
	if n := countRows(t, env.db, &models.EmailAnalysis{}, "email_id = ?", undrafted.ID); n != 1 {
		t.Errorf("analyses for failed email = %d, want 1", n)
	}
	if n, _ := env.logs.CountLogs(models.LogModuleProcess, "draft_failed"); n != 1 {
		t.Errorf("draft_failed logs = %d, want 1", n)
	}
	if n := countRows(t, env.db, &models.DraftReply{}, "email_id = ?", drafted.ID); n != 1 {
		t.Errorf("drafts for next email = %d, want 1", n)
	}
}

func TestPipeline_DraftErrorReported(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	env.opener.engine = failingDraftEngine{local: local.NewEngine()}
	if _, err := env.registry.RegisterModel(RegisterModelInput{
		Kind:   models.ModelKindCustom,
		Config: map[string]string{"api_key": "k", "base_url": "http://model.invalid"},
	}); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	p := env.addIMAP(t, "Support", &fakeMailbox{})

	res, err := env.pipeline.ProcessRaw(context.Background(), p, rawMessage("d_3", "no draft today"))
	if err != nil {
		t.Fatalf("ProcessRaw: %v", err)
	}
	if res.Status != OutcomeProcessed || res.AnalysisError != "" || res.DraftError == "" {
		t.Errorf("result = %+v, want processed with a draft error", res)
	}
}

func TestAnalysisStage_StorageFailureLogged(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p := env.addIMAP(t, "Support", &fakeMailbox{})
	email := env.ingest(t, p, "a_1", "Billing question")
	if err := env.db.Exec("DELETE FROM emails WHERE id = ?", email.ID).Error; err != nil {
		t.Fatalf("delete email: %v", err)
	}
	before, _ := env.logs.CountLogs(models.LogModuleProcess, "analysis_failed")

	_, _, err := env.analysis.Analyze(context.Background(), email, "alice")
	if !errors.Is(err, ErrEmailNotFound) {
		t.Errorf("Analyze = %v, want ErrEmailNotFound", err)
	}
	if errors.Is(err, ErrModelProvider) {
		t.Errorf("storage failure reported as a model provider error: %v", err)
	}
	if n, _ := env.logs.CountLogs(models.LogModuleProcess, "analysis_failed"); n != before+1 {
		t.Errorf("analysis_failed logs = %d, want %d", n, before+1)
	}
}

// Feature: email-ai-assistant, Property: ingestion is idempotent
// For any number of repeated deliveries of one external id, exactly one
// email and one received entry exist.
func TestProperty_IngestionIdempotent(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p := env.addIMAP(t, "Support", &fakeMailbox{})
	var seq atomic.Int32

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated_ingest_creates_one_email", prop.ForAll(
		func(repeats int) bool {
			externalID := fmt.Sprintf("idem_%d", seq.Add(1))
			var ids []uint
			for i := 0; i < repeats; i++ {
				res, err := env.pipeline.ProcessRaw(context.Background(), p, rawMessage(externalID, "Repeat"))
				if err != nil {
					return false
				}
				if (i == 0) != (res.Status == OutcomeProcessed) {
					return false
				}
				ids = append(ids, res.EmailID)
			}
			for _, id := range ids {
				if id != ids[0] {
					return false
				}
			}
			var n int64
			env.db.Model(&models.Email{}).Where("external_id = ?", externalID).Count(&n)
			received, _ := env.activity.CountByAction(ids[0], models.ActivityReceived)
			return n == 1 && received == 1
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

func TestPipeline_MalformedDropped(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p := env.addIMAP(t, "Support", &fakeMailbox{})
	raw := mailbox.RawMessage{ExternalID: "bad_1", Raw: []byte("Subject: no sender\r\n\r\nbody\r\n")}

	res, err := env.pipeline.ProcessRaw(context.Background(), p, raw)
	if !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("error = %v, want ErrMalformedMessage", err)
	}
	if res.Status != OutcomeError {
		t.Errorf("status = %s, want error", res.Status)
	}
	if n := countRows(t, env.db, &models.Email{}, ""); n != 0 {
		t.Errorf("emails = %d, want 0", n)
	}
	if n, _ := env.logs.CountLogs(models.LogModuleProcess, "malformed_dropped"); n != 1 {
		t.Errorf("malformed_dropped logs = %d, want 1", n)
	}
}

func TestPipeline_ProcessDirectory(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	dir := t.TempDir()
	files := map[string][]byte{
		"a.eml":     rawEmail("a@example.com", "Bob <bob@example.com>", "Invoice", "Please send the invoice."),
		"b.eml":     rawEmail("b@example.com", "Carol <carol@example.com>", "Demo", "Can we book a demo?"),
		"bad.eml":   []byte("Subject: missing sender\r\n\r\nbody\r\n"),
		"notes.txt": []byte("ignored"),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	report, err := env.pipeline.ProcessDirectory(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("ProcessDirectory: %v", err)
	}
	if report.Processed != 2 || report.Errors != 1 || report.Duplicates != 0 {
		t.Errorf("report = %+v, want 2 processed and 1 error", report)
	}
	if len(report.Details) != 3 {
		t.Errorf("details = %d, want 3", len(report.Details))
	}

	again, err := env.pipeline.ProcessDirectory(context.Background(), dir, 0)
	if err != nil {
		t.Fatalf("second ProcessDirectory: %v", err)
	}
	if again.Duplicates != 2 || again.Processed != 0 {
		t.Errorf("second run = %+v, want 2 duplicates", again)
	}

	// The same directory reuses one provider
	var dirProviders int64
	env.db.Model(&models.MailboxProvider{}).Where("kind = ?", models.MailboxKindDirectory).Count(&dirProviders)
	if dirProviders != 1 {
		t.Errorf("directory providers = %d, want 1", dirProviders)
	}
}
