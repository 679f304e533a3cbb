package handlers

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
	"github.com/Brownster/email-ai-assistant/internal/services"
)

// stateTTL bounds how long a consent may take
const stateTTL = 10 * time.Minute

// OAuthHandler runs the Google consent flow that gives a gmail_api provider
// its refresh token
type OAuthHandler struct {
	registry   *services.ProviderRegistry
	logService *services.LogService
	log        *slog.Logger
	stateStore *StateStore

	// exchange trades an authorization code for a token
	exchange func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error)
}

// StateStore stores OAuth state tokens temporarily
type StateStore struct {
	mu     sync.Mutex
	states map[string]*OAuthState
}

// OAuthState represents a consent in progress
type OAuthState struct {
	ProviderID  uint
	RedirectURL string
	CreatedAt   time.Time
}

// NewOAuthHandler creates a new OAuthHandler
func NewOAuthHandler(registry *services.ProviderRegistry, logService *services.LogService, log *slog.Logger) *OAuthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OAuthHandler{
		registry:   registry,
		logService: logService,
		log:        log,
		stateStore: &StateStore{states: make(map[string]*OAuthState)},
		exchange: func(ctx context.Context, conf *oauth2.Config, code string) (*oauth2.Token, error) {
			return conf.Exchange(ctx, code)
		},
	}
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// put stores a state and drops expired ones
func (s *StateStore) put(state string, st *OAuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.states {
		if time.Since(v.CreatedAt) > stateTTL {
			delete(s.states, k)
		}
	}
	s.states[state] = st
}

// take removes and returns a state that has not expired
func (s *StateStore) take(state string) (*OAuthState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[state]
	if !ok {
		return nil, false
	}
	delete(s.states, state)
	if time.Since(st.CreatedAt) > stateTTL {
		return nil, false
	}
	return st, true
}

// callbackURL is the redirect_url from the provider config, or this
// server's callback route
func callbackURL(c *gin.Context, cfg map[string]string) string {
	if u := cfg["redirect_url"]; u != "" {
		return u
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + "/api/oauth/google/callback"
}

// GetGoogleAuthURL returns the consent URL for a gmail_api provider
// GET /api/oauth/google/auth?provider_id=
func (h *OAuthHandler) GetGoogleAuthURL(c *gin.Context) {
	id, err := strconv.ParseUint(c.Query("provider_id"), 10, 32)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "provider_id is required")
		return
	}

	p, err := h.registry.FindMailbox(uint(id))
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if p.Kind != models.MailboxKindGmailAPI {
		respondError(c, http.StatusBadRequest, "CAPABILITY_UNSUPPORTED", "OAuth consent applies to gmail_api providers only")
		return
	}

	cfg, err := h.registry.MailboxConfig(p.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if cfg["client_id"] == "" || cfg["client_secret"] == "" {
		respondError(c, http.StatusBadRequest, "OAUTH_NOT_CONFIGURED", "Provider has no client_id or client_secret")
		return
	}

	state, err := generateState()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "STATE_GENERATION_FAILED", "Failed to generate state token")
		return
	}

	redirect := callbackURL(c, cfg)
	h.stateStore.put(state, &OAuthState{ProviderID: p.ID, RedirectURL: redirect, CreatedAt: time.Now()})

	conf := mailbox.OAuthConfig(cfg["client_id"], cfg["client_secret"], redirect)
	// Offline access with forced approval so Google returns a refresh token
	url := conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)

	respondOK(c, gin.H{"auth_url": url})
}

// GoogleCallback stores the refresh token and activates the provider
// GET /api/oauth/google/callback
func (h *OAuthHandler) GoogleCallback(c *gin.Context) {
	if e := c.Query("error"); e != "" {
		respondError(c, http.StatusBadRequest, "OAUTH_DENIED", e)
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "code and state are required")
		return
	}

	st, ok := h.stateStore.take(state)
	if !ok {
		respondError(c, http.StatusBadRequest, "INVALID_STATE", "Unknown or expired state")
		return
	}

	cfg, err := h.registry.MailboxConfig(st.ProviderID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	conf := mailbox.OAuthConfig(cfg["client_id"], cfg["client_secret"], st.RedirectURL)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	token, err := h.exchange(ctx, conf, code)
	if err != nil {
		h.log.Warn("oauth code exchange failed", "provider_id", st.ProviderID, "error", err)
		respondError(c, http.StatusBadGateway, "TOKEN_EXCHANGE_FAILED", "Failed to exchange authorization code")
		return
	}
	if token.RefreshToken == "" {
		respondError(c, http.StatusBadGateway, "TOKEN_EXCHANGE_FAILED", "Google returned no refresh token")
		return
	}

	if _, err := h.registry.UpdateMailbox(st.ProviderID, services.UpdateProviderInput{
		Config: map[string]string{"refresh_token": token.RefreshToken},
	}); err != nil {
		respondServiceError(c, err)
		return
	}
	if err := h.registry.SetMailboxActive(st.ProviderID, true); err != nil {
		respondServiceError(c, err)
		return
	}

	h.logService.LogInfo(models.LogModuleProvider, "oauth_completed", "Stored refresh token for provider", map[string]interface{}{
		"provider_id": st.ProviderID,
	})
	respondOK(c, gin.H{"provider_id": st.ProviderID, "active": true})
}
