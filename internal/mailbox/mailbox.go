// Package mailbox provides the fetch and send capabilities of external mail
// providers: IMAP/SMTP servers, the Gmail API and local .eml directories.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrAuth indicates the provider rejected the configured credentials
	ErrAuth = errors.New("mailbox authentication failed")
	// ErrTransient indicates a temporary provider failure worth retrying
	ErrTransient = errors.New("mailbox temporarily unavailable")
	// ErrSendUnsupported indicates the mailbox has no outgoing transport configured
	ErrSendUnsupported = errors.New("mailbox cannot send")
)

// RawMessage is one message as delivered by a provider, before normalization
type RawMessage struct {
	// ExternalID is the provider's stable id for the message. Empty means the
	// normalizer falls back to the Message-ID header.
	ExternalID string
	ThreadID   string
	ReceivedAt time.Time
	// Key orders messages sharing a ReceivedAt and identifies the message
	// when it is acknowledged: a file name, an IMAP UID or a Gmail id.
	Key string
	Raw []byte
}

// Cursor is a position in a provider's arrival order: ReceivedAt, then Key
type Cursor struct {
	At  time.Time
	Key string
}

// CursorOf returns the position of m
func CursorOf(m RawMessage) Cursor {
	return Cursor{At: m.ReceivedAt, Key: m.Key}
}

// IsZero reports whether c is unset
func (c Cursor) IsZero() bool {
	return c.At.IsZero() && c.Key == ""
}

// Admits reports whether m comes after c. A zero cursor admits everything.
// A cursor without a key admits every message received at exactly c.At.
func (c Cursor) Admits(m RawMessage) bool {
	if c.IsZero() || m.ReceivedAt.After(c.At) {
		return true
	}
	if !m.ReceivedAt.Equal(c.At) {
		return false
	}
	return c.Key == "" || m.Key > c.Key
}

// SortByArrival orders msgs oldest first, ties broken by Key
func SortByArrival(msgs []RawMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
		}
		return msgs[i].Key < msgs[j].Key
	})
}

// FetchRequest bounds one fetch call. Fetch returns the oldest messages
// admitted by After, at most Limit of them, in arrival order; a caller that
// advances After to the last returned message eventually sees every message.
type FetchRequest struct {
	After Cursor
	Limit int // 0 means no limit
}

// OutgoingMessage is a reply ready for transmission
type OutgoingMessage struct {
	FromName   string
	From       string
	To         []string
	Subject    string
	Body       string
	MessageID  string // without angle brackets
	InReplyTo  string
	References []string
	ThreadID   string
}

// DeliveryResult describes an accepted outgoing message
type DeliveryResult struct {
	MessageID  string
	ProviderID string
}

// Fetcher retrieves new messages from a provider
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) ([]RawMessage, error)
}

// Sender transmits a reply through a provider
type Sender interface {
	Send(ctx context.Context, msg OutgoingMessage) (DeliveryResult, error)
}

// Acknowledger marks messages as read once they are safely stored
type Acknowledger interface {
	MarkRead(ctx context.Context, msgs []RawMessage) error
}

// Tester verifies provider connectivity and credentials
type Tester interface {
	TestConnection(ctx context.Context) error
}

// Mailbox is an opened provider handle. Sending and connection tests are
// optional capabilities discovered with a type assertion.
type Mailbox interface {
	Fetcher
}

// SenderOf returns the send capability of m, if it has one
func SenderOf(m Mailbox) (Sender, bool) {
	s, ok := m.(Sender)
	return s, ok
}

// AcknowledgerOf returns the mark-as-read capability of m, if it has one
func AcknowledgerOf(m Mailbox) (Acknowledger, bool) {
	a, ok := m.(Acknowledger)
	return a, ok
}

// TesterOf returns the connection test capability of m, if it has one
func TesterOf(m Mailbox) (Tester, bool) {
	t, ok := m.(Tester)
	return t, ok
}

// IsAuthError reports whether err is a credential rejection
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuth) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	return false
}

// classify wraps err with ErrTransient when it looks temporary, leaving
// everything else unchanged.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrTransient) || errors.Is(err, ErrAuth) {
		return err
	}
	if IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// authError wraps a credential rejection
func authError(err error) error {
	return fmt.Errorf("%w: %v", ErrAuth, err)
}

// domainOf returns the domain part of an address, or "localhost"
func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], ">")
	}
	return "localhost"
}
