package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

func TestSend_Success(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	mb := &fakeMailbox{}
	p := env.addIMAP(t, "Support", mb)
	email := env.ingest(t, p, "s_1", "Order 1234")

	res, err := env.sender.Send(context.Background(), email.ID, "alice")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Email.Status != models.StatusSent {
		t.Errorf("status = %s, want sent", res.Email.Status)
	}
	if res.Draft.SentMessageID == "" || res.Draft.SentMessageID != res.MessageID {
		t.Errorf("sent message id = %q, result = %q", res.Draft.SentMessageID, res.MessageID)
	}

	if len(mb.sent) != 1 {
		t.Fatalf("sent messages = %d, want 1", len(mb.sent))
	}
	out := mb.sent[0]
	if len(out.To) != 1 || out.To[0] != "alice@example.com" {
		t.Errorf("To = %v", out.To)
	}
	if out.InReplyTo != email.ExternalID {
		t.Errorf("InReplyTo = %q, want %q", out.InReplyTo, email.ExternalID)
	}
	if !strings.HasSuffix(out.MessageID, "@example.com") {
		t.Errorf("MessageID = %q, want the sender's domain", out.MessageID)
	}
	if out.From != "support@example.com" {
		t.Errorf("From = %q", out.From)
	}

	entries, _ := env.activity.ListForEmail(email.ID)
	var actions []string
	for _, e := range entries {
		actions = append(actions, string(e.Action)+":"+e.NewValue)
	}
	joined := strings.Join(actions, ",")
	if !strings.Contains(joined, "status_changed:in_progress,status_changed:sent,reply_sent:") {
		t.Errorf("activity = %s, want implicit in_progress then sent then reply_sent", joined)
	}
	for i, e := range entries {
		if e.Sequence != i+1 {
			t.Errorf("entry %d has sequence %d", i, e.Sequence)
		}
	}
	if n, _ := env.logs.CountLogs(models.LogModuleSend, ""); n != 1 {
		t.Errorf("send logs = %d, want 1", n)
	}
}

func TestSend_DeliveryFailureIsRetryable(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	mb := &fakeMailbox{sendErr: fmt.Errorf("%w: 451 try later", mailbox.ErrTransient)}
	p := env.addIMAP(t, "Support", mb)
	email := env.ingest(t, p, "s_2", "Hello")

	_, err := env.sender.Send(context.Background(), email.ID, "alice")
	if !errors.Is(err, ErrSendDelivery) {
		t.Fatalf("Send error = %v, want ErrSendDelivery", err)
	}

	var stored models.Email
	env.db.First(&stored, email.ID)
	if stored.Status != models.StatusPendingReview {
		t.Errorf("status = %s, want pending_review", stored.Status)
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivitySendFailed); n != 1 {
		t.Errorf("send_failed entries = %d, want 1", n)
	}

	mb.mu.Lock()
	mb.sendErr = nil
	mb.mu.Unlock()

	if _, err := env.sender.Send(context.Background(), email.ID, "alice"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivityReplySent); n != 1 {
		t.Errorf("reply_sent entries = %d, want 1", n)
	}
}

func TestSend_Preconditions(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()
	ctx := context.Background()

	mb := &fakeMailbox{}
	p := env.addIMAP(t, "Support", mb)

	if _, err := env.sender.Send(ctx, 999, "alice"); !errors.Is(err, ErrEmailNotFound) {
		t.Errorf("missing email: %v, want ErrEmailNotFound", err)
	}

	resolved := env.ingest(t, p, "s_3", "Resolved one")
	if _, err := env.workflow.Transition(ctx, resolved.ID, models.StatusResolved, "alice", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := env.sender.Send(ctx, resolved.ID, "alice"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resolved: %v, want ErrInvalidTransition", err)
	}

	sent := env.ingest(t, p, "s_4", "Sent one")
	if _, err := env.sender.Send(ctx, sent.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.sender.Send(ctx, sent.ID, "alice"); !errors.Is(err, ErrSendPreconditionFailed) {
		t.Errorf("already sent: %v, want ErrSendPreconditionFailed", err)
	}

	inactive := env.ingest(t, p, "s_5", "Provider goes away")
	if err := env.registry.SetMailboxActive(p.ID, false); err != nil {
		t.Fatal(err)
	}
	if _, err := env.sender.Send(ctx, inactive.ID, "alice"); !errors.Is(err, ErrSendPreconditionFailed) {
		t.Errorf("inactive provider: %v, want ErrSendPreconditionFailed", err)
	}

	if got := mb.sendCalls.Load(); got != 1 {
		t.Errorf("provider send calls = %d, want 1", got)
	}
}

func TestSend_FetchOnlyProvider(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	p, err := env.registry.RegisterMailbox(RegisterMailboxInput{
		Kind:   models.MailboxKindDirectory,
		Config: map[string]string{"path": t.TempDir()},
	})
	if err != nil {
		t.Fatal(err)
	}
	env.opener.set(p.ID, fetchOnlyMailbox{})
	email := env.ingest(t, p, "dir_1", "From a file")

	if _, err := env.sender.Send(context.Background(), email.ID, "alice"); !errors.Is(err, ErrSendPreconditionFailed) {
		t.Errorf("Send = %v, want ErrSendPreconditionFailed", err)
	}
}

// Feature: email-ai-assistant, Property: at most one sent transition
// Concurrent sends of one email deliver exactly once.
func TestSend_ConcurrentSendsDeliverOnce(t *testing.T) {
	env, cleanup := newTestEnv(t, FetchOptions{})
	defer cleanup()

	mb := &fakeMailbox{}
	p := env.addIMAP(t, "Support", mb)
	email := env.ingest(t, p, "s_6", "Race")

	const senders = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.sender.Send(context.Background(), email.ID, "alice"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successful sends = %d, want 1", successes)
	}
	if got := mb.sendCalls.Load(); got != 1 {
		t.Errorf("provider send calls = %d, want 1", got)
	}
	if n, _ := env.activity.CountByAction(email.ID, models.ActivityReplySent); n != 1 {
		t.Errorf("reply_sent entries = %d, want 1", n)
	}
}
