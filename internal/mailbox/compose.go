package mailbox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// NewMessageID generates a unique Message-ID (without angle brackets) in the
// sender's domain.
func NewMessageID(from string) string {
	return uuid.NewString() + "@" + domainOf(from)
}

// Compose renders msg as an RFC 5322 message with a single quoted-printable
// text/plain part.
func Compose(msg OutgoingMessage) ([]byte, error) {
	if msg.From == "" {
		return nil, errors.New("compose: sender address is required")
	}
	if len(msg.To) == 0 {
		return nil, errors.New("compose: at least one recipient is required")
	}

	var h gomail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*gomail.Address{{Name: msg.FromName, Address: msg.From}})

	to := make([]*gomail.Address, 0, len(msg.To))
	for _, raw := range msg.To {
		addr, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("compose: invalid recipient %q: %v", raw, err)
		}
		to = append(to, &gomail.Address{Name: addr.Name, Address: addr.Address})
	}
	h.SetAddressList("To", to)
	h.SetSubject(msg.Subject)

	messageID := msg.MessageID
	if messageID == "" {
		messageID = NewMessageID(msg.From)
	}
	h.SetMessageID(stripBrackets(messageID))

	if msg.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{stripBrackets(msg.InReplyTo)})
	}
	if len(msg.References) > 0 {
		refs := make([]string, 0, len(msg.References))
		for _, r := range msg.References {
			if r = stripBrackets(r); r != "" {
				refs = append(refs, r)
			}
		}
		h.SetMsgIDList("References", refs)
	}

	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := gomail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("compose: %v", err)
	}
	if _, err := io.WriteString(w, msg.Body); err != nil {
		return nil, fmt.Errorf("compose: %v", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compose: %v", err)
	}

	return buf.Bytes(), nil
}

func stripBrackets(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}
