package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-imap/client"
)

const (
	connectionTimeout = 10 * time.Second
	fetchBatchSize    = 10
	metaBatchSize     = 500
	clientName        = "email-ai-assistant"
	clientVersion     = "1.0.0"
)

// IMAPConfig holds the connection parameters of an IMAP (and optional SMTP) mailbox
type IMAPConfig struct {
	Host     string
	Port     int
	UseSSL   bool
	Username string
	Password string
	Folder   string

	// Outgoing transport. Empty SMTPHost makes the mailbox fetch-only.
	SMTPHost   string
	SMTPPort   int
	SMTPUseSSL bool
	FromName   string
	FromAddr   string
}

// IMAPMailbox fetches over IMAP and sends over SMTP
type IMAPMailbox struct {
	cfg  IMAPConfig
	smtp *SMTPSender
}

// NewIMAPMailbox creates a mailbox handle. No connection is made until the
// first call.
func NewIMAPMailbox(cfg IMAPConfig) *IMAPMailbox {
	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}
	if cfg.Port == 0 {
		cfg.Port = 993
	}
	if cfg.FromAddr == "" {
		cfg.FromAddr = cfg.Username
	}

	m := &IMAPMailbox{cfg: cfg}
	if cfg.SMTPHost != "" {
		m.smtp = NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			UseSSL:   cfg.SMTPUseSSL,
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	return m
}

// connect establishes an authenticated IMAP session. The returned stop
// function must be called when the session is no longer needed; it detaches
// the context watcher.
func (m *IMAPMailbox) connect(ctx context.Context) (*client.Client, func(), error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	dialer := &net.Dialer{Timeout: connectionTimeout}

	var conn net.Conn
	var err error
	if m.cfg.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: m.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, classify(fmt.Errorf("imap dial %s: %w", addr, err))
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, nil, classify(fmt.Errorf("imap greeting: %w", err))
	}
	c.Timeout = 2 * time.Minute

	// go-imap v1 has no context support: terminate the connection when ctx ends
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Terminate()
		case <-done:
		}
	}()
	stop := func() { close(done) }

	// Some servers refuse LOGIN until the client identifies itself
	if ok, _ := c.Support("ID"); ok {
		idClient := id.NewClient(c)
		_, _ = idClient.ID(id.ID{
			id.FieldName:    clientName,
			id.FieldVersion: clientVersion,
		})
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		stop()
		c.Logout()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, classify(ctxErr)
		}
		if IsTransient(err) {
			return nil, nil, classify(err)
		}
		return nil, nil, authError(err)
	}

	return c, stop, nil
}

// Fetch returns the oldest unseen messages received after req.After.
// SEARCH SINCE only compares dates, so candidate internal dates are read
// before any body is downloaded.
func (m *IMAPMailbox) Fetch(ctx context.Context, req FetchRequest) ([]RawMessage, error) {
	c, stop, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()
	defer c.Logout()

	wrap := func(op string, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return classify(fmt.Errorf("imap %s: %w", op, ctxErr))
		}
		return classify(fmt.Errorf("imap %s: %w", op, err))
	}

	mbox, err := c.Select(m.cfg.Folder, false)
	if err != nil {
		return nil, wrap("select "+m.cfg.Folder, err)
	}
	if mbox.Messages == 0 {
		return []RawMessage{}, nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !req.After.At.IsZero() {
		criteria.Since = req.After.At
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, wrap("search", err)
	}
	if len(uids) == 0 {
		return []RawMessage{}, nil
	}

	var candidates []RawMessage
	err = uidFetch(c, uids, metaBatchSize, []imap.FetchItem{imap.FetchUid, imap.FetchInternalDate}, func(msg *imap.Message) {
		rm := RawMessage{ReceivedAt: msg.InternalDate, Key: uidKey(msg.Uid)}
		if req.After.Admits(rm) {
			candidates = append(candidates, rm)
		}
	})
	if err != nil {
		return nil, wrap("fetch dates", err)
	}
	SortByArrival(candidates)
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}
	if len(candidates) == 0 {
		return []RawMessage{}, nil
	}

	wanted := make([]uint32, 0, len(candidates))
	for _, cand := range candidates {
		uid, _ := parseUIDKey(cand.Key)
		wanted = append(wanted, uid)
	}

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}
	bodies := make(map[string]*imap.Message, len(wanted))
	err = uidFetch(c, wanted, fetchBatchSize, items, func(msg *imap.Message) {
		bodies[uidKey(msg.Uid)] = msg
	})
	if err != nil {
		return nil, wrap("fetch", err)
	}

	result := make([]RawMessage, 0, len(candidates))
	for _, cand := range candidates {
		msg, ok := bodies[cand.Key]
		if !ok {
			// expunged between the two passes
			continue
		}
		// An unreadable body is passed on empty and dropped as malformed
		if literal := msg.GetBody(section); literal != nil {
			if raw, err := io.ReadAll(literal); err == nil {
				cand.Raw = raw
			}
		}
		if msg.Envelope != nil {
			cand.ExternalID = msg.Envelope.MessageId
		}
		result = append(result, cand)
	}

	return result, nil
}

// MarkRead sets the \Seen flag on msgs
func (m *IMAPMailbox) MarkRead(ctx context.Context, msgs []RawMessage) error {
	seen := new(imap.SeqSet)
	for _, msg := range msgs {
		if uid, ok := parseUIDKey(msg.Key); ok {
			seen.AddNum(uid)
		}
	}
	if seen.Empty() {
		return nil
	}

	c, stop, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer c.Logout()

	if _, err := c.Select(m.cfg.Folder, false); err != nil {
		return classify(fmt.Errorf("imap select %s: %w", m.cfg.Folder, err))
	}
	flags := []interface{}{imap.SeenFlag}
	if err := c.UidStore(seen, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
		return classify(fmt.Errorf("imap mark seen: %w", err))
	}
	return nil
}

// uidFetch runs UID FETCH over uids in batches of size, handing every
// message to fn
func uidFetch(c *client.Client, uids []uint32, size int, items []imap.FetchItem, fn func(*imap.Message)) error {
	for i := 0; i < len(uids); i += size {
		end := i + size
		if end > len(uids) {
			end = len(uids)
		}

		uidSet := new(imap.SeqSet)
		uidSet.AddNum(uids[i:end]...)

		messages := make(chan *imap.Message, size)
		done := make(chan error, 1)
		go func() {
			done <- c.UidFetch(uidSet, items, messages)
		}()

		for msg := range messages {
			if msg != nil {
				fn(msg)
			}
		}
		if err := <-done; err != nil {
			return err
		}
	}
	return nil
}

// uidKey renders a UID so that string order matches numeric order
func uidKey(uid uint32) string {
	return fmt.Sprintf("%010d", uid)
}

func parseUIDKey(key string) (uint32, bool) {
	uid, err := strconv.ParseUint(key, 10, 32)
	if err != nil || uid == 0 {
		return 0, false
	}
	return uint32(uid), true
}

// Send transmits msg over the configured SMTP server
func (m *IMAPMailbox) Send(ctx context.Context, msg OutgoingMessage) (DeliveryResult, error) {
	if m.smtp == nil {
		return DeliveryResult{}, ErrSendUnsupported
	}
	if msg.From == "" {
		msg.From = m.cfg.FromAddr
	}
	if msg.FromName == "" {
		msg.FromName = m.cfg.FromName
	}
	return m.smtp.Send(ctx, msg)
}

// TestConnection logs in over IMAP and, when configured, SMTP
func (m *IMAPMailbox) TestConnection(ctx context.Context) error {
	c, stop, err := m.connect(ctx)
	if err != nil {
		return err
	}
	stop()
	c.Logout()

	if m.smtp != nil {
		return m.smtp.TestConnection(ctx)
	}
	return nil
}
