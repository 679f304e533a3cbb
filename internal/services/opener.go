package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/functions/ai"
	"github.com/Brownster/email-ai-assistant/internal/functions/local"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// Opener builds capability handles for providers. Secrets arrive decrypted.
type Opener interface {
	OpenMailbox(ctx context.Context, p *models.MailboxProvider, secrets map[string]string) (mailbox.Mailbox, error)
	OpenModel(ctx context.Context, p *models.ModelProvider, secrets map[string]string) (functions.Engine, error)
}

// DefaultOpener connects to the real mail and model services
type DefaultOpener struct {
	RedactPII  bool
	Breaker    functions.BreakerSettings
	HTTPClient *http.Client // nil uses the client default
	Logger     *slog.Logger
}

// OpenMailbox implements Opener
func (o *DefaultOpener) OpenMailbox(ctx context.Context, p *models.MailboxProvider, secrets map[string]string) (mailbox.Mailbox, error) {
	cfg := p.Config

	switch p.Kind {
	case models.MailboxKindIMAP:
		return mailbox.NewIMAPMailbox(mailbox.IMAPConfig{
			Host:       cfg["host"],
			Port:       atoiDefault(cfg["port"], 993),
			UseSSL:     boolDefault(cfg["use_ssl"], true),
			Username:   cfg["username"],
			Password:   secrets["password"],
			Folder:     cfg["folder"],
			SMTPHost:   cfg["smtp_host"],
			SMTPPort:   atoiDefault(cfg["smtp_port"], 465),
			SMTPUseSSL: boolDefault(cfg["smtp_use_ssl"], cfg["smtp_port"] == "" || cfg["smtp_port"] == "465"),
			FromName:   cfg["from_name"],
			FromAddr:   cfg["from_addr"],
		}), nil

	case models.MailboxKindGmail, models.MailboxKindOutlook:
		preset, _ := mailbox.PresetFor(string(p.Kind))
		return mailbox.NewIMAPMailbox(mailbox.IMAPConfig{
			Host:       preset.IMAPHost,
			Port:       preset.IMAPPort,
			UseSSL:     true,
			Username:   cfg["username"],
			Password:   secrets["password"],
			Folder:     cfg["folder"],
			SMTPHost:   preset.SMTPHost,
			SMTPPort:   preset.SMTPPort,
			SMTPUseSSL: preset.SMTPUseSSL,
			FromName:   cfg["from_name"],
			FromAddr:   cfg["from_addr"],
		}), nil

	case models.MailboxKindGmailAPI:
		return mailbox.NewGmailAPIMailbox(ctx, mailbox.GmailAPIConfig{
			ClientID:     cfg["client_id"],
			ClientSecret: secrets["client_secret"],
			RefreshToken: secrets["refresh_token"],
			User:         cfg["user"],
			FromName:     cfg["from_name"],
			FromAddr:     cfg["from_addr"],
		})

	case models.MailboxKindDirectory:
		return mailbox.NewDirectoryMailbox(cfg["path"]), nil
	}

	return nil, fmt.Errorf("%w: unknown mailbox provider kind %q", ErrInvalidProviderConfig, p.Kind)
}

// OpenModel implements Opener. Remote engines are wrapped with PII redaction
// (when enabled) and a circuit breaker; the local engine is used as is.
func (o *DefaultOpener) OpenModel(ctx context.Context, p *models.ModelProvider, secrets map[string]string) (functions.Engine, error) {
	if p.Kind == models.ModelKindLocal {
		return local.NewEngine(), nil
	}

	client, err := ai.NewClient(ai.Config{
		Provider: string(p.Kind),
		APIKey:   secrets["api_key"],
		Model:    p.Config["model"],
		BaseURL:  p.Config["base_url"],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", functions.ErrEngineUnavailable, err)
	}
	if o.HTTPClient != nil {
		client.SetHTTPClient(o.HTTPClient)
	}

	var engine functions.Engine = client
	if o.RedactPII {
		engine = functions.NewRedactingEngine(engine)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return functions.NewBreakerEngine(fmt.Sprintf("model-%d", p.ID), engine, o.Breaker, logger), nil
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return def
}

func boolDefault(s string, def bool) bool {
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return def
}
