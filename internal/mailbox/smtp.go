package mailbox

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
)

// SMTPConfig holds outgoing server parameters
type SMTPConfig struct {
	Host     string
	Port     int
	UseSSL   bool // implicit TLS; otherwise STARTTLS when offered
	Username string
	Password string
}

// SMTPSender delivers composed replies over SMTP
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender creates a sender. Port defaults to 465 with implicit TLS.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 465
		cfg.UseSSL = true
	}
	return &SMTPSender{cfg: cfg}
}

// loginAuth implements smtp.Auth for the LOGIN mechanism, which some servers
// offer instead of PLAIN.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	prompt := strings.ToLower(strings.TrimSpace(string(fromServer)))
	if decoded, err := base64.StdEncoding.DecodeString(prompt); err == nil {
		prompt = strings.ToLower(string(decoded))
	}
	switch strings.TrimSuffix(prompt, ":") {
	case "username":
		return []byte(a.username), nil
	case "password":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
}

// dial opens an authenticated SMTP session bounded by ctx
func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, func(), error) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	dialer := &net.Dialer{Timeout: connectionTimeout}

	var conn net.Conn
	var err error
	if s.cfg.UseSSL {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, classify(fmt.Errorf("smtp dial %s: %w", addr, err))
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	stop := func() { close(done) }

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, classify(fmt.Errorf("smtp greeting: %w", err))
	}

	if !s.cfg.UseSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				stop()
				c.Close()
				return nil, nil, classify(fmt.Errorf("smtp starttls: %w", err))
			}
		}
	}

	if s.cfg.Username != "" {
		if err := s.authenticate(c); err != nil {
			stop()
			c.Close()
			return nil, nil, err
		}
	}

	return c, stop, nil
}

// authenticate tries PLAIN first, then LOGIN
func (s *SMTPSender) authenticate(c *smtp.Client) error {
	err := c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host))
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return classify(fmt.Errorf("smtp auth: %w", err))
	}
	if err2 := c.Auth(&loginAuth{s.cfg.Username, s.cfg.Password}); err2 == nil {
		return nil
	}
	return authError(fmt.Errorf("smtp auth (tried PLAIN and LOGIN): %v", err))
}

// Send composes and transmits msg
func (s *SMTPSender) Send(ctx context.Context, msg OutgoingMessage) (DeliveryResult, error) {
	if msg.From == "" {
		msg.From = s.cfg.Username
	}
	if msg.MessageID == "" {
		msg.MessageID = NewMessageID(msg.From)
	}

	content, err := Compose(msg)
	if err != nil {
		return DeliveryResult{}, err
	}

	c, stop, err := s.dial(ctx)
	if err != nil {
		return DeliveryResult{}, err
	}
	defer stop()
	defer c.Close()

	fail := func(step string, err error) (DeliveryResult, error) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) && protoErr.Code == 535 {
			return DeliveryResult{}, authError(err)
		}
		return DeliveryResult{}, classify(fmt.Errorf("smtp %s: %w", step, err))
	}

	if err := c.Mail(msg.From); err != nil {
		return fail("MAIL FROM", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fail("RCPT TO "+rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fail("DATA", err)
	}
	if _, err := w.Write(content); err != nil {
		return fail("write", err)
	}
	if err := w.Close(); err != nil {
		return fail("close", err)
	}

	// The message is accepted once DATA closes; a failing QUIT is ignored
	c.Quit()

	return DeliveryResult{MessageID: "<" + stripBrackets(msg.MessageID) + ">"}, nil
}

// TestConnection connects and authenticates without sending
func (s *SMTPSender) TestConnection(ctx context.Context) error {
	c, stop, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer stop()
	defer c.Close()
	c.Quit()
	return nil
}
