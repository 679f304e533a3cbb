package services

import (
	"context"
	"time"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

const connectionTimeout = 10 * time.Second

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	AuthError bool   `json:"auth_error,omitempty"`
	CanSend   bool   `json:"can_send"`
}

// TestMailbox opens a mailbox provider and checks connectivity and
// credentials without fetching. Inactive providers can be tested too.
func (r *ProviderRegistry) TestMailbox(ctx context.Context, id uint) (ConnectionTestResult, error) {
	p, err := r.FindMailbox(id)
	if err != nil {
		return ConnectionTestResult{}, err
	}
	return r.testMailbox(ctx, p), nil
}

func (r *ProviderRegistry) testMailbox(ctx context.Context, p *models.MailboxProvider) ConnectionTestResult {
	ctx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()

	mb, err := r.OpenMailbox(ctx, p)
	if err != nil {
		return ConnectionTestResult{Message: "Failed to open provider: " + err.Error()}
	}

	tester, ok := mailbox.TesterOf(mb)
	if !ok {
		return ConnectionTestResult{Message: "Provider does not support connection tests"}
	}

	_, canSend := mailbox.SenderOf(mb)
	canSend = canSend && p.CanSend()

	if err := tester.TestConnection(ctx); err != nil {
		result := ConnectionTestResult{Message: err.Error(), CanSend: canSend}
		if mailbox.IsAuthError(err) {
			result.AuthError = true
			r.logService.LogProviderAuthFailed(p.ID, p.Name, err)
		}
		return result
	}

	msg := "Connection successful"
	if canSend {
		msg = "Fetch and send connections successful"
	}
	return ConnectionTestResult{Success: true, Message: msg, CanSend: canSend}
}
