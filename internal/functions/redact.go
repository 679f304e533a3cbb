package functions

import (
	"context"
	"regexp"
	"strings"
)

// PII patterns masked before content leaves the process
var piiPatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[SSN]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`), "[CARD]"},
	{regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(?\d{3}\)?[ .-]?\d{3}[ .-]?\d{4}\b`), "[PHONE]"},
}

// piiKeywords mark content that likely carries sensitive data even when no
// pattern matched
var piiKeywords = []string{"ssn", "social security", "credit card", "passport"}

// Redact masks e-mail addresses, SSNs, card and phone numbers in text. The
// second return value reports whether anything was replaced.
func Redact(text string) (string, bool) {
	redacted := false
	for _, p := range piiPatterns {
		if p.pattern.MatchString(text) {
			text = p.pattern.ReplaceAllString(text, p.replacement)
			redacted = true
		}
	}
	return text, redacted
}

// MentionsPII reports whether text contains a PII keyword
func MentionsPII(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range piiKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactingEngine masks PII in requests before they reach a remote engine
type RedactingEngine struct {
	next Engine
}

// NewRedactingEngine wraps next
func NewRedactingEngine(next Engine) *RedactingEngine {
	return &RedactingEngine{next: next}
}

// Classify redacts the request and records whether PII was present
func (e *RedactingEngine) Classify(ctx context.Context, req ClassifyRequest) (*AnalysisResult, error) {
	var subjectHit, bodyHit bool
	req.Subject, subjectHit = Redact(req.Subject)
	req.Body, bodyHit = Redact(req.Body)
	req.From = "[SENDER]"

	result, err := e.next.Classify(ctx, req)
	if err != nil {
		return nil, err
	}
	if subjectHit || bodyHit || MentionsPII(req.Body) {
		result.ContainsPII = true
	}
	return result, nil
}

// Draft redacts the request. The sender's name is kept for the greeting.
func (e *RedactingEngine) Draft(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	req.Subject, _ = Redact(req.Subject)
	req.Body, _ = Redact(req.Body)
	req.From = "[SENDER]"
	return e.next.Draft(ctx, req)
}
