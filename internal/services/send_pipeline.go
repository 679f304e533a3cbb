package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// DefaultSendTimeout bounds one send call
const DefaultSendTimeout = 30 * time.Second

// SendPipeline transmits an email's current draft through its provider
type SendPipeline struct {
	db         *gorm.DB
	registry   *ProviderRegistry
	workflow   *Workflow
	logService *LogService
	timeout    time.Duration
}

// NewSendPipeline creates a SendPipeline
func NewSendPipeline(db *gorm.DB, registry *ProviderRegistry, workflow *Workflow, logService *LogService, timeout time.Duration) *SendPipeline {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &SendPipeline{
		db:         db,
		registry:   registry,
		workflow:   workflow,
		logService: logService,
		timeout:    timeout,
	}
}

// SendResult describes a delivered reply
type SendResult struct {
	Email     *models.Email      `json:"email"`
	Draft     *models.DraftReply `json:"draft"`
	MessageID string             `json:"message_id"`
}

// Send delivers the current draft of an email and marks it sent. The email
// lock is held for the whole operation so no edit or transition can slip in
// between the precondition check and the final status update.
func (s *SendPipeline) Send(ctx context.Context, emailID uint, actor string) (*SendResult, error) {
	if strings.TrimSpace(actor) == "" {
		actor = models.ActorSystem
	}

	unlock := s.workflow.locks.lock(emailID)
	defer unlock()

	email, draft, sender, from, err := s.preconditions(ctx, emailID)
	if err != nil {
		return nil, err
	}

	subject := draft.Subject
	if strings.TrimSpace(subject) == "" {
		subject = functions.ReplySubject(email.Subject)
	}
	out := mailbox.OutgoingMessage{
		FromName:   from.name,
		From:       from.addr,
		To:         []string{email.FromAddr},
		Subject:    subject,
		Body:       draft.Body,
		MessageID:  mailbox.NewMessageID(from.addr),
		InReplyTo:  email.ExternalID,
		References: []string{email.ExternalID},
		ThreadID:   email.ThreadID,
	}

	sctx, cancel := context.WithTimeout(ctx, s.timeout)
	delivered, sendErr := sender.Send(sctx, out)
	cancel()

	details := SendOperationDetails{EmailID: emailID, To: email.FromAddr, Actor: actor}
	if sendErr != nil {
		s.recordFailure(ctx, emailID, actor, sendErr)
		s.logService.LogSend(details, sendErr)
		return nil, fmt.Errorf("%w: %v", ErrSendDelivery, sendErr)
	}

	messageID := delivered.MessageID
	if messageID == "" {
		messageID = "<" + out.MessageID + ">"
	}
	details.MessageID = messageID

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadEmailForUpdate(tx, emailID)
		if err != nil {
			return err
		}

		if current.Status == models.StatusPendingReview {
			if err := s.workflow.transitionTx(tx, current, models.StatusInProgress, actor, "implicit before send"); err != nil {
				return err
			}
		}

		previous := current.Status
		res := tx.Model(&models.Email{}).
			Where("id = ? AND status <> ?", emailID, models.StatusSent).
			Update("status", models.StatusSent)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: email already sent", ErrSendPreconditionFailed)
		}
		current.Status = models.StatusSent

		if err := s.workflow.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:       emailID,
			Action:        models.ActivityStatusChanged,
			PreviousValue: string(previous),
			NewValue:      string(models.StatusSent),
			Actor:         actor,
		}); err != nil {
			return err
		}
		if err := s.workflow.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:  emailID,
			Action:   models.ActivityReplySent,
			NewValue: messageID,
			Note:     "to " + email.FromAddr,
			Actor:    actor,
		}); err != nil {
			return err
		}

		draft.SentMessageID = messageID
		if err := tx.Model(draft).Update("sent_message_id", messageID).Error; err != nil {
			return err
		}
		email = current
		return nil
	})
	if err != nil {
		// The provider accepted the message; only local bookkeeping failed
		s.logService.LogSend(details, err)
		return nil, err
	}

	s.logService.LogSend(details, nil)
	return &SendResult{Email: email, Draft: draft, MessageID: messageID}, nil
}

type sendIdentity struct {
	name string
	addr string
}

// preconditions checks, in order, everything that must hold before the
// provider is contacted
func (s *SendPipeline) preconditions(ctx context.Context, emailID uint) (*models.Email, *models.DraftReply, mailbox.Sender, sendIdentity, error) {
	var none sendIdentity
	db := s.db.WithContext(ctx)

	var email models.Email
	if err := db.First(&email, emailID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, none, ErrEmailNotFound
		}
		return nil, nil, nil, none, err
	}

	draft, err := CurrentDraft(db, emailID)
	if err != nil {
		return nil, nil, nil, none, err
	}
	if draft == nil {
		return nil, nil, nil, none, fmt.Errorf("%w: email has no draft", ErrSendPreconditionFailed)
	}

	switch email.Status {
	case models.StatusSent:
		return nil, nil, nil, none, fmt.Errorf("%w: email already sent", ErrSendPreconditionFailed)
	case models.StatusResolved:
		return nil, nil, nil, none, fmt.Errorf("%w: resolved emails cannot be sent", ErrInvalidTransition)
	}

	provider, err := s.registry.GetMailbox(email.MailboxProviderID)
	if err != nil {
		return nil, nil, nil, none, fmt.Errorf("%w: provider %d is not active", ErrSendPreconditionFailed, email.MailboxProviderID)
	}
	if !provider.CanSend() {
		return nil, nil, nil, none, fmt.Errorf("%w: provider %q cannot send", ErrSendPreconditionFailed, provider.Name)
	}

	mb, err := s.registry.OpenMailbox(ctx, provider)
	if err != nil {
		return nil, nil, nil, none, fmt.Errorf("%w: %v", ErrSendPreconditionFailed, err)
	}
	sender, ok := mailbox.SenderOf(mb)
	if !ok {
		return nil, nil, nil, none, fmt.Errorf("%w: provider %q cannot send", ErrSendPreconditionFailed, provider.Name)
	}

	return &email, draft, sender, identityOf(provider), nil
}

// identityOf picks the From header for replies sent through p
func identityOf(p *models.MailboxProvider) sendIdentity {
	id := sendIdentity{name: p.Config["from_name"]}
	for _, key := range []string{"from_addr", "username", "user"} {
		if v := p.Config[key]; strings.Contains(v, "@") {
			id.addr = v
			break
		}
	}
	return id
}

func (s *SendPipeline) recordFailure(ctx context.Context, emailID uint, actor string, sendErr error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.workflow.activity.Append(tx, &models.ActivityLogEntry{
			EmailID: emailID,
			Action:  models.ActivitySendFailed,
			Note:    sendErr.Error(),
			Actor:   actor,
		})
	})
	if err != nil {
		s.logService.LogError(models.LogModuleSend, "send_failed", "failed to record send failure", map[string]interface{}{
			"email_id": emailID,
			"error":    err.Error(),
		})
	}
}
