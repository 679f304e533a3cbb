package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Brownster/email-ai-assistant/internal/database"
	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/functions/local"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestDB opens a migrated SQLite database in a temp file
func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	tmpFile, err := os.CreateTemp("", "handlers_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	return db, func() {
		sqlDB.Close()
		os.Remove(tmpFile.Name())
	}
}

// stubMailbox accepts or rejects every send
type stubMailbox struct {
	sendErr error
}

func (m *stubMailbox) Fetch(ctx context.Context, req mailbox.FetchRequest) ([]mailbox.RawMessage, error) {
	return nil, nil
}

func (m *stubMailbox) Send(ctx context.Context, msg mailbox.OutgoingMessage) (mailbox.DeliveryResult, error) {
	if m.sendErr != nil {
		return mailbox.DeliveryResult{}, m.sendErr
	}
	return mailbox.DeliveryResult{MessageID: "<" + msg.MessageID + ">"}, nil
}

// stubOpener hands out stub mailboxes keyed by provider ID
type stubOpener struct {
	mailboxes map[uint]mailbox.Mailbox
}

func (o *stubOpener) OpenMailbox(ctx context.Context, p *models.MailboxProvider, secrets map[string]string) (mailbox.Mailbox, error) {
	mb, ok := o.mailboxes[p.ID]
	if !ok {
		return nil, errors.New("no stub mailbox")
	}
	return mb, nil
}

func (o *stubOpener) OpenModel(ctx context.Context, p *models.ModelProvider, secrets map[string]string) (functions.Engine, error) {
	return local.NewEngine(), nil
}

type testServer struct {
	db       *gorm.DB
	opener   *stubOpener
	registry *services.ProviderRegistry
	oauth    *OAuthHandler
	router   *gin.Engine
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	db, cleanup := setupTestDB(t)

	s := &testServer{db: db, opener: &stubOpener{mailboxes: map[uint]mailbox.Mailbox{}}}
	logs := services.NewLogServiceWithLevel(db, "DEBUG", nil)
	s.registry = services.NewProviderRegistry(db, services.NewAESCredentialStore([]byte("0123456789abcdef0123456789abcdef")), s.opener, logs)
	if err := s.registry.Load(); err != nil {
		cleanup()
		t.Fatalf("Load: %v", err)
	}
	activity := services.NewActivityLog(db)
	workflow := services.NewWorkflow(db, activity)
	analysis := services.NewAnalysisStage(db, s.registry, workflow, logs, time.Second)
	drafts := services.NewDraftStage(db, s.registry, workflow, logs, time.Second)
	ingestor := services.NewIngestor(db, activity, nil, nil)
	pipeline := services.NewPipeline(s.registry, ingestor, analysis, drafts, logs, nil)
	sender := services.NewSendPipeline(db, s.registry, workflow, logs, time.Second)
	emails := services.NewEmailService(db, activity, nil, logs)
	scheduler := services.NewFetchScheduler(db, s.registry, pipeline, logs, services.FetchOptions{RetryBaseDelay: time.Millisecond}, nil)

	emailHandler := NewEmailHandler(emails, workflow, analysis, drafts, sender, logs)
	providerHandler := NewProviderHandler(s.registry, scheduler, logs)
	s.oauth = NewOAuthHandler(s.registry, logs, nil)

	r := gin.New()
	r.GET("/emails/:id", emailHandler.GetEmail)
	r.PUT("/emails/:id/status", emailHandler.UpdateStatus)
	r.PUT("/emails/:id/draft", emailHandler.UpdateDraft)
	r.POST("/emails/:id/send", emailHandler.SendReply)
	r.POST("/providers/mailbox", providerHandler.CreateMailbox)
	r.PUT("/providers/mailbox/:id/enable", providerHandler.EnableMailbox)
	r.GET("/oauth/google/auth", s.oauth.GetGoogleAuthURL)
	r.GET("/oauth/google/callback", s.oauth.GoogleCallback)
	s.router = r

	return s, cleanup
}

// addIMAP registers a sending IMAP provider backed by mb
func (s *testServer) addIMAP(t *testing.T, mb mailbox.Mailbox) *models.MailboxProvider {
	t.Helper()
	p, err := s.registry.RegisterMailbox(services.RegisterMailboxInput{
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
	s.opener.mailboxes[p.ID] = mb
	return p
}

func (s *testServer) addEmail(t *testing.T, providerID uint, externalID string) *models.Email {
	t.Helper()
	email := &models.Email{
		MailboxProviderID: providerID,
		ExternalID:        externalID,
		FromAddr:          "alice@example.com",
		Subject:           "Order question",
		Body:              "Where is my order?",
		ReceivedAt:        time.Now(),
		Status:            models.StatusPendingReview,
	}
	if err := s.db.Create(email).Error; err != nil {
		t.Fatalf("create email: %v", err)
	}
	return email
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
	}
	return w.Code, env
}

func emailPath(id uint, suffix string) string {
	return "/emails/" + strconv.FormatUint(uint64(id), 10) + suffix
}

func TestEmailHandler_NotFoundAndInvalidID(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	code, env := s.do(t, http.MethodGet, "/emails/999", nil)
	if code != http.StatusNotFound || env.Error.Code != "EMAIL_NOT_FOUND" {
		t.Errorf("missing email: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodGet, "/emails/abc", nil)
	if code != http.StatusBadRequest || env.Error.Code != "INVALID_ID" {
		t.Errorf("bad id: got %d %q", code, env.Error.Code)
	}
}

func TestEmailHandler_StatusTransitions(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	p := s.addIMAP(t, &stubMailbox{})
	email := s.addEmail(t, p.ID, "m1@example.com")

	code, env := s.do(t, http.MethodPut, emailPath(email.ID, "/status"), gin.H{"status": "resolved", "note": "duplicate"})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("resolve: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPut, emailPath(email.ID, "/status"), gin.H{"status": "in_progress"})
	if code != http.StatusConflict || env.Error.Code != "INVALID_TRANSITION" {
		t.Errorf("reopen: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPut, emailPath(email.ID, "/status"), gin.H{})
	if code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
		t.Errorf("missing status: got %d %q", code, env.Error.Code)
	}
}

func TestEmailHandler_SendLifecycle(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	p := s.addIMAP(t, &stubMailbox{})
	email := s.addEmail(t, p.ID, "m2@example.com")

	code, env := s.do(t, http.MethodPost, emailPath(email.ID, "/send"), nil)
	if code != http.StatusPreconditionFailed || env.Error.Code != "SEND_PRECONDITION_FAILED" {
		t.Fatalf("send without draft: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPut, emailPath(email.ID, "/draft"), gin.H{"body": "It ships tomorrow."})
	if code != http.StatusOK {
		t.Fatalf("edit draft: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPost, emailPath(email.ID, "/send"), nil)
	if code != http.StatusOK {
		t.Fatalf("send: got %d %q %s", code, env.Error.Code, env.Error.Message)
	}
	var sent struct {
		Email     models.Email `json:"email"`
		MessageID string       `json:"message_id"`
	}
	if err := json.Unmarshal(env.Data, &sent); err != nil {
		t.Fatalf("decode send: %v", err)
	}
	if sent.Email.Status != models.StatusSent || sent.MessageID == "" {
		t.Errorf("send result: status %q message id %q", sent.Email.Status, sent.MessageID)
	}

	code, env = s.do(t, http.MethodPut, emailPath(email.ID, "/draft"), gin.H{"body": "too late"})
	if code != http.StatusConflict || env.Error.Code != "DRAFT_LOCKED" {
		t.Errorf("edit after send: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPost, emailPath(email.ID, "/send"), nil)
	if code != http.StatusPreconditionFailed {
		t.Errorf("second send: got %d %q", code, env.Error.Code)
	}
}

func TestEmailHandler_SendDeliveryFailure(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	p := s.addIMAP(t, &stubMailbox{sendErr: errors.New("smtp: 554 rejected")})
	email := s.addEmail(t, p.ID, "m3@example.com")

	if code, env := s.do(t, http.MethodPut, emailPath(email.ID, "/draft"), gin.H{"body": "Thanks"}); code != http.StatusOK {
		t.Fatalf("edit draft: got %d %q", code, env.Error.Code)
	}

	code, env := s.do(t, http.MethodPost, emailPath(email.ID, "/send"), nil)
	if code != http.StatusBadGateway || env.Error.Code != "SEND_DELIVERY_FAILED" {
		t.Fatalf("send: got %d %q", code, env.Error.Code)
	}

	var stored models.Email
	if err := s.db.First(&stored, email.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status == models.StatusSent {
		t.Error("failed delivery must not mark the email sent")
	}
}

func TestProviderHandler_CreateValidation(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	code, env := s.do(t, http.MethodPost, "/providers/mailbox", gin.H{
		"kind":   "imap",
		"config": gin.H{"host": "imap.example.com", "username": "a@example.com"},
	})
	if code != http.StatusBadRequest || env.Error.Code != "INVALID_PROVIDER_CONFIG" {
		t.Errorf("missing password: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodPost, "/providers/mailbox", gin.H{
		"kind":   "imap",
		"config": gin.H{"host": "imap.example.com", "username": "a@example.com", "password": "pw"},
	})
	if code != http.StatusCreated {
		t.Fatalf("create: got %d %q", code, env.Error.Code)
	}
	if bytes.Contains(env.Data, []byte(`"pw"`)) {
		t.Error("response must not echo the password")
	}

	code, env = s.do(t, http.MethodPut, "/providers/mailbox/42/enable", nil)
	if code != http.StatusNotFound || env.Error.Code != "PROVIDER_NOT_FOUND" {
		t.Errorf("enable missing: got %d %q", code, env.Error.Code)
	}
}

func TestOAuthHandler_ConsentStoresRefreshToken(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	p, err := s.registry.RegisterMailbox(services.RegisterMailboxInput{
		Kind:     models.MailboxKindGmailAPI,
		Inactive: true,
		Config: map[string]string{
			"client_id":     "client-1",
			"client_secret": "shh",
			"redirect_url":  "http://localhost:8080/api/oauth/google/callback",
		},
	})
	if err != nil {
		t.Fatalf("RegisterMailbox: %v", err)
	}

	var gotCode string
	s.oauth.exchange = func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
		gotCode = code
		if conf.ClientSecret != "shh" {
			t.Errorf("exchange got client secret %q", conf.ClientSecret)
		}
		return &oauth2.Token{AccessToken: "at", RefreshToken: "rt-1"}, nil
	}

	code, env := s.do(t, http.MethodGet, "/oauth/google/auth?provider_id="+strconv.FormatUint(uint64(p.ID), 10), nil)
	if code != http.StatusOK {
		t.Fatalf("auth url: got %d %q", code, env.Error.Code)
	}
	var auth struct {
		AuthURL string `json:"auth_url"`
	}
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, err := url.Parse(auth.AuthURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := u.Query().Get("state")
	if state == "" || u.Query().Get("access_type") != "offline" {
		t.Fatalf("auth url missing state or offline access: %s", auth.AuthURL)
	}

	code, env = s.do(t, http.MethodGet, "/oauth/google/callback?code=abc&state=bogus", nil)
	if code != http.StatusBadRequest || env.Error.Code != "INVALID_STATE" {
		t.Errorf("bogus state: got %d %q", code, env.Error.Code)
	}

	code, env = s.do(t, http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	if code != http.StatusOK {
		t.Fatalf("callback: got %d %q %s", code, env.Error.Code, env.Error.Message)
	}
	if gotCode != "abc" {
		t.Errorf("exchanged code %q", gotCode)
	}

	if _, err := s.registry.GetMailbox(p.ID); err != nil {
		t.Errorf("provider should be active: %v", err)
	}
	cfg, err := s.registry.MailboxConfig(p.ID)
	if err != nil {
		t.Fatalf("MailboxConfig: %v", err)
	}
	if cfg["refresh_token"] != "rt-1" {
		t.Errorf("refresh token %q", cfg["refresh_token"])
	}

	// A state is single use
	code, _ = s.do(t, http.MethodGet, "/oauth/google/callback?code=abc&state="+url.QueryEscape(state), nil)
	if code != http.StatusBadRequest {
		t.Errorf("replayed state: got %d", code)
	}
}

func TestOAuthHandler_RejectsOtherKinds(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	p := s.addIMAP(t, &stubMailbox{})
	code, env := s.do(t, http.MethodGet, "/oauth/google/auth?provider_id="+strconv.FormatUint(uint64(p.ID), 10), nil)
	if code != http.StatusBadRequest || env.Error.Code != "CAPABILITY_UNSUPPORTED" {
		t.Errorf("imap provider: got %d %q", code, env.Error.Code)
	}
}

func TestRespondServiceError_Mapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{services.ErrDraftLocked, http.StatusConflict, "DRAFT_LOCKED"},
		{services.ErrFetchInProgress, http.StatusConflict, "FETCH_IN_PROGRESS"},
		{services.ErrModelProvider, http.StatusBadGateway, "MODEL_PROVIDER_ERROR"},
		{services.ErrInvalidCredentials, http.StatusBadRequest, "INVALID_PASSWORD"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		respondServiceError(c, tc.err)

		var env envelope
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if w.Code != tc.status || env.Error.Code != tc.code || env.Success {
			t.Errorf("%v: got %d %q", tc.err, w.Code, env.Error.Code)
		}
	}
}
