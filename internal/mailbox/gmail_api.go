package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailScopes are the OAuth scopes requested for gmail_api providers
var GmailScopes = []string{
	gmail.GmailModifyScope,
	gmail.GmailSendScope,
}

// GmailAPIConfig holds the OAuth client and token of a gmail_api provider
type GmailAPIConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	User         string // "me" when empty
	FromName     string
	FromAddr     string

	// Endpoint and HTTPClient override the Google defaults (tests)
	Endpoint   string
	HTTPClient *http.Client
}

// GmailAPIMailbox talks to Gmail through the REST API
type GmailAPIMailbox struct {
	cfg GmailAPIConfig
	svc *gmail.Service
}

// OAuthConfig returns the oauth2 configuration for a Google client
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       GmailScopes,
		Endpoint:     google.Endpoint,
	}
}

// NewGmailAPIMailbox builds the Gmail service. The token source refreshes the
// access token from the stored refresh token as needed.
func NewGmailAPIMailbox(ctx context.Context, cfg GmailAPIConfig) (*GmailAPIMailbox, error) {
	if cfg.User == "" {
		cfg.User = "me"
	}

	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		conf := OAuthConfig(cfg.ClientID, cfg.ClientSecret, "")
		ts := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &GmailAPIMailbox{cfg: cfg, svc: svc}, nil
}

// gmailBatchModifyMax is the id limit of one batchModify call
const gmailBatchModifyMax = 1000

// Fetch lists unread inbox messages after req.After and downloads the oldest
// of them raw. Listing returns ids only, so every candidate's internal date
// is read first to put the batch in arrival order.
func (m *GmailAPIMailbox) Fetch(ctx context.Context, req FetchRequest) ([]RawMessage, error) {
	query := "in:inbox is:unread"
	if !req.After.At.IsZero() {
		// after: has second resolution; the cursor settles the boundary
		query += fmt.Sprintf(" after:%d", req.After.At.Unix()-1)
	}

	var ids []string
	err := m.svc.Users.Messages.List(m.cfg.User).Q(query).Pages(ctx, func(page *gmail.ListMessagesResponse) error {
		for _, ref := range page.Messages {
			ids = append(ids, ref.Id)
		}
		return nil
	})
	if err != nil {
		return nil, classifyGmailError(err)
	}

	candidates := make([]RawMessage, 0, len(ids))
	for _, id := range ids {
		meta, err := m.svc.Users.Messages.Get(m.cfg.User, id).Format("minimal").Context(ctx).Do()
		if err != nil {
			return nil, classifyGmailError(err)
		}
		c := RawMessage{
			ExternalID: meta.Id,
			ThreadID:   meta.ThreadId,
			ReceivedAt: time.UnixMilli(meta.InternalDate),
			Key:        meta.Id,
		}
		if req.After.Admits(c) {
			candidates = append(candidates, c)
		}
	}
	SortByArrival(candidates)
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	result := make([]RawMessage, 0, len(candidates))
	for _, c := range candidates {
		msg, err := m.svc.Users.Messages.Get(m.cfg.User, c.Key).Format("raw").Context(ctx).Do()
		if err != nil {
			return nil, classifyGmailError(err)
		}
		// An undecodable body is passed on empty and dropped as malformed
		if raw, err := decodeRaw(msg.Raw); err == nil {
			c.Raw = raw
		}
		result = append(result, c)
	}

	return result, nil
}

// MarkRead removes the UNREAD label from msgs
func (m *GmailAPIMailbox) MarkRead(ctx context.Context, msgs []RawMessage) error {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Key != "" {
			ids = append(ids, msg.Key)
		}
	}

	for len(ids) > 0 {
		n := len(ids)
		if n > gmailBatchModifyMax {
			n = gmailBatchModifyMax
		}
		modify := &gmail.BatchModifyMessagesRequest{Ids: ids[:n], RemoveLabelIds: []string{"UNREAD"}}
		if err := m.svc.Users.Messages.BatchModify(m.cfg.User, modify).Context(ctx).Do(); err != nil {
			return classifyGmailError(err)
		}
		ids = ids[n:]
	}
	return nil
}

// Send uploads a composed reply, threading it when the thread is known
func (m *GmailAPIMailbox) Send(ctx context.Context, msg OutgoingMessage) (DeliveryResult, error) {
	if msg.From == "" {
		msg.From = m.cfg.FromAddr
	}
	if msg.FromName == "" {
		msg.FromName = m.cfg.FromName
	}
	if msg.From == "" {
		profile, err := m.svc.Users.GetProfile(m.cfg.User).Context(ctx).Do()
		if err != nil {
			return DeliveryResult{}, classifyGmailError(err)
		}
		msg.From = profile.EmailAddress
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(msg.From)
	}

	content, err := Compose(msg)
	if err != nil {
		return DeliveryResult{}, err
	}

	out := &gmail.Message{
		Raw:      base64.URLEncoding.EncodeToString(content),
		ThreadId: msg.ThreadID,
	}
	sent, err := m.svc.Users.Messages.Send(m.cfg.User, out).Context(ctx).Do()
	if err != nil {
		return DeliveryResult{}, classifyGmailError(err)
	}

	return DeliveryResult{
		MessageID:  "<" + stripBrackets(msg.MessageID) + ">",
		ProviderID: sent.Id,
	}, nil
}

// TestConnection reads the mailbox profile
func (m *GmailAPIMailbox) TestConnection(ctx context.Context) error {
	if _, err := m.svc.Users.GetProfile(m.cfg.User).Context(ctx).Do(); err != nil {
		return classifyGmailError(err)
	}
	return nil
}

func decodeRaw(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// classifyGmailError maps API and token errors onto ErrAuth / ErrTransient
func classifyGmailError(err error) error {
	if err == nil {
		return nil
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500 {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return authError(err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return authError(err)
		case apiErr.Code == http.StatusForbidden:
			if strings.Contains(strings.ToLower(apiErr.Message), "rate limit") {
				return fmt.Errorf("%w: %v", ErrTransient, err)
			}
			return authError(err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return err
	}

	return classify(err)
}
