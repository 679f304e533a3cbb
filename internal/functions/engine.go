// Package functions defines the classify/draft capability shared by the
// remote language-model client and the local heuristic engine.
package functions

import (
	"context"
	"errors"
	"strings"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
)

var (
	// ErrEngineUnavailable indicates no engine could be built for a model provider
	ErrEngineUnavailable = errors.New("analysis engine unavailable")
)

// ClassifyRequest is the content sent for analysis
type ClassifyRequest struct {
	Subject     string
	Body        string
	From        string
	FromName    string
	MailboxKind string
}

// AnalysisResult is the structured classification of one email
type AnalysisResult struct {
	Categories      []string `json:"categories"`
	Sentiment       string   `json:"sentiment"`
	Intent          string   `json:"intent"`
	Urgency         int      `json:"urgency"`
	RequiredInfo    []string `json:"required_info"`
	Summary         string   `json:"summary"`
	Confidence      float64  `json:"confidence"`
	ContainsPII     bool     `json:"contains_pii"`
	Department      string   `json:"department"`
	SuggestedAction string   `json:"action"`
	Model           string   `json:"-"`
}

// DraftRequest is the content a reply is drafted for
type DraftRequest struct {
	Subject     string
	Body        string
	From        string
	FromName    string
	MailboxKind string
	Analysis    *AnalysisResult // nil when analysis failed or was skipped
}

// DraftResult is a generated reply
type DraftResult struct {
	Subject    string  `json:"subject"`
	Body       string  `json:"body"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"-"`
}

// Engine classifies emails and drafts replies
type Engine interface {
	Classify(ctx context.Context, req ClassifyRequest) (*AnalysisResult, error)
	Draft(ctx context.Context, req DraftRequest) (*DraftResult, error)
}

// Clamp forces every field into its allowed domain
func (r *AnalysisResult) Clamp() {
	if r.Urgency < 1 {
		r.Urgency = 1
	}
	if r.Urgency > 10 {
		r.Urgency = 10
	}
	r.Confidence = ClampConfidence(r.Confidence)

	r.Sentiment = strings.ToLower(strings.TrimSpace(r.Sentiment))
	if !models.Sentiment(r.Sentiment).IsValid() {
		r.Sentiment = string(models.SentimentNeutral)
	}

	r.Department = strings.ToLower(strings.TrimSpace(r.Department))
	if !models.IsValidDepartment(r.Department) {
		r.Department = models.DepartmentCustomerService
	}

	r.SuggestedAction = strings.ToLower(strings.TrimSpace(r.SuggestedAction))
	if !models.IsValidAction(r.SuggestedAction) {
		r.SuggestedAction = models.ActionEscalate
	}

	categories := r.Categories[:0]
	for _, c := range r.Categories {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}
	if len(categories) == 0 {
		categories = []string{CategoryGeneralInquiry}
	}
	r.Categories = categories

	if r.Intent == "" {
		r.Intent = r.Categories[0]
	}
	if r.RequiredInfo == nil {
		r.RequiredInfo = []string{}
	}
}

// ClampConfidence limits a confidence score to [0, 1]
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 { // NaN
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Category names produced by the engines
const (
	CategoryPricing        = "pricing"
	CategoryAccount        = "account"
	CategoryTechnicalIssue = "technical_issue"
	CategoryGeneralInquiry = "general_inquiry"
)

// ReplySubject prefixes subject with "Re: " unless it already has one
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	if s == "" {
		return "Re: (no subject)"
	}
	if strings.HasPrefix(strings.ToLower(s), "re:") {
		return s
	}
	return "Re: " + s
}
