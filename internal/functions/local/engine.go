// Package local implements the classify/draft capability with keyword
// heuristics. It needs no credentials and never leaves the process.
package local

import (
	"context"
	"fmt"
	"strings"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
)

// ModelName is recorded on analyses and drafts produced locally
const ModelName = "local-heuristics"

const localConfidence = 0.75

var (
	categoryKeywords = []struct {
		category string
		words    []string
	}{
		{functions.CategoryPricing, []string{"price", "cost", "quote", "pricing"}},
		{functions.CategoryAccount, []string{"account", "login", "password", "access"}},
		{functions.CategoryTechnicalIssue, []string{"error", "bug", "issue", "problem", "not working"}},
	}

	positiveWords = []string{"thank", "great", "good", "love", "excellent", "appreciate"}
	negativeWords = []string{"bad", "poor", "issue", "problem", "disappointed", "unhappy", "refund"}

	escalateWords = []string{"refund", "cancel", "complaint", "lawyer", "legal", "chargeback"}
)

// Engine is the keyword heuristic engine
type Engine struct{}

// NewEngine creates a local engine
func NewEngine() *Engine {
	return &Engine{}
}

// Classify analyzes an email with keyword rules
func (e *Engine) Classify(ctx context.Context, req functions.ClassifyRequest) (*functions.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := strings.ToLower(req.Subject)
	body := strings.ToLower(req.Body)
	combined := subject + " " + body

	var categories []string
	for _, ck := range categoryKeywords {
		if countKeywordMatches(combined, ck.words) > 0 {
			categories = append(categories, ck.category)
		}
	}
	if len(categories) == 0 {
		categories = []string{functions.CategoryGeneralInquiry}
	}

	sentiment := models.SentimentNeutral
	pos := countKeywordMatches(body, positiveWords)
	neg := countKeywordMatches(body, negativeWords)
	if pos > neg {
		sentiment = models.SentimentPositive
	} else if neg > pos {
		sentiment = models.SentimentNegative
	}

	urgency := JudgeUrgency(req.Subject, req.Body, req.From)
	department := chooseDepartment(req, categories)

	summary := Summarize(req.Body)
	if summary == "" {
		summary = "Subject: " + req.Subject
	}

	result := &functions.AnalysisResult{
		Categories:      categories,
		Sentiment:       string(sentiment),
		Intent:          categories[0],
		Urgency:         urgency,
		RequiredInfo:    []string{},
		Summary:         summary,
		Confidence:      localConfidence,
		ContainsPII:     functions.MentionsPII(req.Body),
		Department:      department,
		SuggestedAction: chooseAction(department, categories, combined, urgency),
		Model:           ModelName,
	}
	if _, redacted := functions.Redact(req.Body); redacted {
		result.ContainsPII = true
	}

	return result, nil
}

// chooseDepartment routes bulk mail to spam and pricing or sales-mailbox
// mail to sales
func chooseDepartment(req functions.ClassifyRequest, categories []string) string {
	if IsSpam(req.Subject, req.Body) {
		return models.DepartmentSpam
	}
	if req.MailboxKind == string(models.MailboxSales) {
		return models.DepartmentSales
	}
	for _, c := range categories {
		if c == functions.CategoryPricing {
			return models.DepartmentSales
		}
	}
	return models.DepartmentCustomerService
}

func chooseAction(department string, categories []string, text string, urgency int) string {
	switch {
	case department == models.DepartmentSpam:
		return models.ActionEscalate
	case countKeywordMatches(text, escalateWords) > 0, urgency >= 9:
		return models.ActionEscalate
	case department == models.DepartmentSales && categories[0] == functions.CategoryPricing:
		return models.ActionUseTool
	}
	return models.ActionAutoRespond
}

// Draft fills the reply template of the mailbox kind
func (e *Engine) Draft(ctx context.Context, req functions.DraftRequest) (*functions.DraftResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "your message"
	}
	sender := strings.TrimSpace(req.FromName)
	if sender == "" {
		sender = "Customer"
	}

	var body string
	var confidence float64
	switch models.MailboxKind(req.MailboxKind) {
	case models.MailboxSupport:
		body = fmt.Sprintf("Thank you for contacting our support team regarding '%s'.\n\n"+
			"We've received your request and will be in touch within 24 hours.\n\n"+
			"Best regards,\nSupport Team", subject)
		confidence = 0.85
	case models.MailboxSales:
		body = fmt.Sprintf("Thank you for your interest, %s.\n\n"+
			"I appreciate your inquiry about '%s'. Let's schedule a call to discuss your needs further.\n\n"+
			"Best regards,\nSales Team", sender, subject)
		confidence = 0.90
	default:
		body = fmt.Sprintf("Thank you for your message regarding '%s'.\n\n"+
			"We've received your email and will respond shortly.\n\n"+
			"Best regards,\nThe Team", subject)
		confidence = 0.80
	}

	return &functions.DraftResult{
		Subject:    functions.ReplySubject(req.Subject),
		Body:       body,
		Confidence: confidence,
		Model:      ModelName,
	}, nil
}
