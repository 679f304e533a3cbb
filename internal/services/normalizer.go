package services

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/Brownster/email-ai-assistant/internal/mailbox"
)

// MaxBodyLength caps the stored text and HTML bodies, in bytes
const MaxBodyLength = 100000

var (
	htmlWhitespace = regexp.MustCompile(`[^\S\n]+`)
	htmlNewlines   = regexp.MustCompile(`\n{3,}`)
)

// NormalizedMessage is the canonical shape of an inbound message
type NormalizedMessage struct {
	ExternalID  string
	ThreadID    string
	FromAddr    string
	FromName    string
	To          []string
	Cc          []string
	Subject     string
	Body        string
	HTMLBody    string
	ReceivedAt  time.Time
	Attachments []NormalizedAttachment
}

// NormalizedAttachment is an attachment with its content, before storage
type NormalizedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Normalize parses raw RFC 822 bytes. Messages without a sender address or
// without any usable id fail with ErrMalformedMessage.
func Normalize(raw mailbox.RawMessage) (*NormalizedMessage, error) {
	if len(bytes.TrimSpace(raw.Raw)) == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw.Raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	defer mr.Close()

	h := mr.Header
	msg := &NormalizedMessage{}

	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 || from[0].Address == "" {
		return nil, fmt.Errorf("%w: missing sender address", ErrMalformedMessage)
	}
	msg.FromAddr = strings.ToLower(from[0].Address)
	msg.FromName = from[0].Name

	msg.To = addressStrings(h, "To")
	msg.Cc = addressStrings(h, "Cc")

	if subject, err := h.Subject(); err == nil {
		msg.Subject = strings.TrimSpace(subject)
	} else {
		msg.Subject = strings.TrimSpace(h.Get("Subject"))
	}

	msg.ReceivedAt = raw.ReceivedAt
	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}

	messageID, _ := h.MessageID()
	msg.ExternalID = strings.TrimSpace(raw.ExternalID)
	if msg.ExternalID == "" {
		msg.ExternalID = messageID
	}
	if msg.ExternalID == "" {
		return nil, fmt.Errorf("%w: missing message id", ErrMalformedMessage)
	}

	msg.ThreadID = threadID(h, raw.ThreadID, messageID, msg.ExternalID)

	if err := readParts(mr, msg); err != nil {
		return nil, err
	}

	if msg.Body == "" && msg.HTMLBody != "" {
		msg.Body = HTMLToText(msg.HTMLBody)
	}
	msg.Body = truncateBody(msg.Body)
	msg.HTMLBody = truncateBody(msg.HTMLBody)

	return msg, nil
}

// threadID prefers the thread root from References, then In-Reply-To, then
// the provider's own thread id. A message that starts a thread is its own root.
func threadID(h mail.Header, providerThread, messageID, externalID string) string {
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		return refs[0]
	}
	if irt, err := h.MsgIDList("In-Reply-To"); err == nil && len(irt) > 0 {
		return irt[0]
	}
	if providerThread != "" {
		return providerThread
	}
	if messageID != "" {
		return messageID
	}
	return externalID
}

// readParts collects the first text/plain and text/html bodies and the
// attachments
func readParts(mr *mail.Reader, msg *NormalizedMessage) error {
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				continue
			}
			// A truncated multipart still yields the parts read so far
			if msg.Body != "" || msg.HTMLBody != "" {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			data, err := io.ReadAll(io.LimitReader(p.Body, MaxBodyLength*4))
			if err != nil && !message.IsUnknownCharset(err) {
				continue
			}
			switch {
			case ct == "text/html" && msg.HTMLBody == "":
				msg.HTMLBody = string(data)
			case (ct == "text/plain" || ct == "") && msg.Body == "":
				msg.Body = strings.TrimSpace(string(data))
			case ct != "text/plain" && ct != "text/html":
				// Inline non-text parts such as embedded images
				msg.Attachments = append(msg.Attachments, attachmentFrom(ph.Get("Content-Type"), "", data))
			}
		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			data, err := io.ReadAll(p.Body)
			if err != nil {
				continue
			}
			msg.Attachments = append(msg.Attachments, attachmentFrom(ph.Get("Content-Type"), filename, data))
		}
	}
}

func attachmentFrom(contentType, filename string, data []byte) NormalizedAttachment {
	ct, params, err := mime.ParseMediaType(contentType)
	if err != nil || ct == "" {
		ct = "application/octet-stream"
	}
	if filename == "" {
		filename = params["name"]
	}
	if filename == "" {
		filename = "attachment"
		if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
			filename += exts[0]
		}
	}
	return NormalizedAttachment{Filename: filename, ContentType: ct, Content: data}
}

func addressStrings(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return []string{}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, strings.ToLower(a.Address))
		}
	}
	return out
}

// HTMLToText converts an HTML body to plain text, keeping block breaks
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	doc.Find("script, style, head, meta, link").Remove()
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml("\n")
	})

	text := htmlWhitespace.ReplaceAllString(doc.Text(), " ")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(htmlNewlines.ReplaceAllString(text, "\n\n"))
}

// truncateBody cuts s to MaxBodyLength bytes without splitting a rune
func truncateBody(s string) string {
	if len(s) <= MaxBodyLength {
		return s
	}
	cut := MaxBodyLength
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
