package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/functions/local"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// rawEmail renders a minimal RFC 5322 text message
func rawEmail(messageID, from, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	b.WriteString("To: support@example.com\r\n")
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	if messageID != "" {
		fmt.Fprintf(&b, "Message-ID: <%s>\r\n", messageID)
	}
	b.WriteString("Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

func rawMessage(externalID, subject string) mailbox.RawMessage {
	return mailbox.RawMessage{
		ExternalID: externalID,
		ReceivedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Raw:        rawEmail(externalID+"@example.com", "Alice <alice@example.com>", subject, "Hello, I need help with my order."),
	}
}

// fakeMailbox serves canned messages and records sends. fetchErrs is consumed
// one error per call before messages are returned.
type fakeMailbox struct {
	mu        sync.Mutex
	messages  []mailbox.RawMessage
	fetchErrs []error
	sendErr   error
	sent      []mailbox.OutgoingMessage
	testErr   error
	requests  []mailbox.FetchRequest
	acked     []string

	fetchCalls atomic.Int32
	sendCalls  atomic.Int32

	// block, when set, holds every Fetch until it is closed
	block   chan struct{}
	started chan struct{}
}

func (m *fakeMailbox) Fetch(ctx context.Context, req mailbox.FetchRequest) ([]mailbox.RawMessage, error) {
	m.fetchCalls.Add(1)
	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.block != nil {
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		return nil, err
	}
	out := make([]mailbox.RawMessage, len(m.messages))
	copy(out, m.messages)
	return out, nil
}

func (m *fakeMailbox) Send(ctx context.Context, msg mailbox.OutgoingMessage) (mailbox.DeliveryResult, error) {
	m.sendCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return mailbox.DeliveryResult{}, m.sendErr
	}
	m.sent = append(m.sent, msg)
	return mailbox.DeliveryResult{MessageID: "<" + msg.MessageID + ">"}, nil
}

func (m *fakeMailbox) TestConnection(ctx context.Context) error {
	return m.testErr
}

func (m *fakeMailbox) MarkRead(ctx context.Context, msgs []mailbox.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		m.acked = append(m.acked, msg.ExternalID)
	}
	return nil
}

// fetchOnlyMailbox has no send capability
type fetchOnlyMailbox struct{}

func (fetchOnlyMailbox) Fetch(ctx context.Context, req mailbox.FetchRequest) ([]mailbox.RawMessage, error) {
	return nil, nil
}

// fakeOpener hands out fakes keyed by provider ID
type fakeOpener struct {
	mu        sync.Mutex
	mailboxes map[uint]mailbox.Mailbox
	engine    functions.Engine
	panicFor  uint
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{mailboxes: map[uint]mailbox.Mailbox{}}
}

func (o *fakeOpener) set(id uint, mb mailbox.Mailbox) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.mailboxes[id] = mb
}

func (o *fakeOpener) OpenMailbox(ctx context.Context, p *models.MailboxProvider, secrets map[string]string) (mailbox.Mailbox, error) {
	if o.panicFor != 0 && p.ID == o.panicFor {
		panic("mailbox exploded")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	mb, ok := o.mailboxes[p.ID]
	if !ok {
		return nil, errors.New("no fake mailbox")
	}
	return mb, nil
}

func (o *fakeOpener) OpenModel(ctx context.Context, p *models.ModelProvider, secrets map[string]string) (functions.Engine, error) {
	if o.engine == nil {
		return local.NewEngine(), nil
	}
	return o.engine, nil
}

// slowEngine blocks Classify until the context expires for subjects
// containing "slow"; everything else goes to the local engine
type slowEngine struct {
	local *local.Engine
}

func (e slowEngine) Classify(ctx context.Context, req functions.ClassifyRequest) (*functions.AnalysisResult, error) {
	if strings.Contains(req.Subject, "slow") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.local.Classify(ctx, req)
}

func (e slowEngine) Draft(ctx context.Context, req functions.DraftRequest) (*functions.DraftResult, error) {
	return e.local.Draft(ctx, req)
}

// failingDraftEngine fails Draft for subjects containing "no draft";
// everything else goes to the local engine
type failingDraftEngine struct {
	local *local.Engine
}

func (e failingDraftEngine) Classify(ctx context.Context, req functions.ClassifyRequest) (*functions.AnalysisResult, error) {
	return e.local.Classify(ctx, req)
}

func (e failingDraftEngine) Draft(ctx context.Context, req functions.DraftRequest) (*functions.DraftResult, error) {
	if strings.Contains(req.Subject, "no draft") {
		return nil, errors.New("model overloaded")
	}
	return e.local.Draft(ctx, req)
}

// testEnv wires every pipeline component against a temp database
type testEnv struct {
	db        *gorm.DB
	opener    *fakeOpener
	logs      *LogService
	registry  *ProviderRegistry
	activity  *ActivityLog
	workflow  *Workflow
	analysis  *AnalysisStage
	drafts    *DraftStage
	ingestor  *Ingestor
	pipeline  *Pipeline
	sender    *SendPipeline
	emails    *EmailService
	scheduler *FetchScheduler
}

func newTestEnv(t *testing.T, opts FetchOptions) (*testEnv, func()) {
	t.Helper()
	db, cleanup := setupTestDB(t)

	env := &testEnv{db: db, opener: newFakeOpener()}
	env.logs = NewLogServiceWithLevel(db, "DEBUG", nil)
	env.registry = NewProviderRegistry(db, NewAESCredentialStore([]byte("0123456789abcdef0123456789abcdef")), env.opener, env.logs)
	if err := env.registry.Load(); err != nil {
		cleanup()
		t.Fatalf("Load: %v", err)
	}
	env.activity = NewActivityLog(db)
	env.workflow = NewWorkflow(db, env.activity)
	env.analysis = NewAnalysisStage(db, env.registry, env.workflow, env.logs, 100*time.Millisecond)
	env.drafts = NewDraftStage(db, env.registry, env.workflow, env.logs, time.Second)
	env.ingestor = NewIngestor(db, env.activity, nil, nil)
	env.pipeline = NewPipeline(env.registry, env.ingestor, env.analysis, env.drafts, env.logs, nil)
	env.sender = NewSendPipeline(db, env.registry, env.workflow, env.logs, time.Second)
	env.emails = NewEmailService(db, env.activity, nil, env.logs)
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	env.scheduler = NewFetchScheduler(db, env.registry, env.pipeline, env.logs, opts, nil)
	return env, cleanup
}

// addIMAP registers an IMAP provider with SMTP and binds mb to it
func (e *testEnv) addIMAP(t *testing.T, name string, mb mailbox.Mailbox) *models.MailboxProvider {
	t.Helper()
	p, err := e.registry.RegisterMailbox(RegisterMailboxInput{
		Name: name,
		Kind: models.MailboxKindIMAP,
		Config: map[string]string{
			"host":      "imap.example.com",
			"username":  "support@example.com",
			"password":  "secret",
			"smtp_host": "smtp.example.com",
		},
	})
	if err != nil {
		t.Fatalf("RegisterMailbox: %v", err)
	}
	e.opener.set(p.ID, mb)
	return p
}

// ingest runs one message through the pipeline and returns the stored email
func (e *testEnv) ingest(t *testing.T, p *models.MailboxProvider, externalID, subject string) *models.Email {
	t.Helper()
	res, err := e.pipeline.ProcessRaw(context.Background(), p, rawMessage(externalID, subject))
	if err != nil {
		t.Fatalf("ProcessRaw: %v", err)
	}
	var email models.Email
	if err := e.db.First(&email, res.EmailID).Error; err != nil {
		t.Fatalf("load email: %v", err)
	}
	return &email
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
