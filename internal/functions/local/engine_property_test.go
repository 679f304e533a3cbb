package local

import (
	"context"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
)

// Feature: email-ai-assistant, Property: local analysis stays in range
// For any email, the local engine produces urgency in 1..10, confidence in
// [0,1], a valid sentiment, department and action, and at least one category.

func TestProperty_LocalAnalysisValidity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	subjectGen := gen.SliceOfN(30, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
	contentGen := gen.SliceOfN(100, gen.AlphaChar()).Map(func(chars []rune) string {
		return string(chars)
	})
	kindGen := gen.OneConstOf("support", "sales", "general", "")

	engine := NewEngine()

	properties.Property("analysis_fields_in_range", prop.ForAll(
		func(subject, content, kind string) bool {
			result, err := engine.Classify(context.Background(), functions.ClassifyRequest{
				Subject: subject, Body: content, From: "a@example.com", MailboxKind: kind,
			})
			if err != nil {
				return false
			}
			return result.Urgency >= 1 && result.Urgency <= 10 &&
				result.Confidence >= 0 && result.Confidence <= 1 &&
				models.Sentiment(result.Sentiment).IsValid() &&
				models.IsValidDepartment(result.Department) &&
				models.IsValidAction(result.SuggestedAction) &&
				len(result.Categories) > 0 &&
				result.Intent == result.Categories[0]
		},
		subjectGen,
		contentGen,
		kindGen,
	))

	properties.Property("urgent_subject_gives_urgency_9", prop.ForAll(
		func(content string) bool {
			return JudgeUrgency("URGENT: server down", content, "ops@example.com") == 9
		},
		contentGen,
	))

	properties.Property("urgency_score_bounded", prop.ForAll(
		func(subject, content string) bool {
			score := CalculateUrgencyScore(subject, content, "x@example.com")
			u := UrgencyFromScore(score.Total)
			return score.Total >= 0 && score.Total <= 1 && u >= 1 && u <= 10
		},
		subjectGen,
		contentGen,
	))

	properties.Property("draft_confidence_by_mailbox_kind", prop.ForAll(
		func(subject, kind string) bool {
			draft, err := engine.Draft(context.Background(), functions.DraftRequest{
				Subject: subject, FromName: "Alice", MailboxKind: kind,
			})
			if err != nil {
				return false
			}
			want := map[string]float64{"support": 0.85, "sales": 0.90}[kind]
			if want == 0 {
				want = 0.80
			}
			return draft.Confidence == want &&
				strings.HasPrefix(draft.Subject, "Re: ") &&
				draft.Body != ""
		},
		subjectGen,
		kindGen,
	))

	properties.TestingRun(t)
}

func TestLocalClassify_Rules(t *testing.T) {
	engine := NewEngine()
	ctx := context.Background()

	tests := []struct {
		name       string
		req        functions.ClassifyRequest
		category   string
		sentiment  string
		department string
		action     string
		pii        bool
	}{
		{
			name:       "pricing question",
			req:        functions.ClassifyRequest{Subject: "Question about pricing", Body: "What does the pro plan cost? Thanks, great product"},
			category:   functions.CategoryPricing,
			sentiment:  "positive",
			department: models.DepartmentSales,
			action:     models.ActionUseTool,
		},
		{
			name:       "refund complaint",
			req:        functions.ClassifyRequest{Subject: "Broken login", Body: "I am disappointed, the login is not working. I want a refund."},
			category:   functions.CategoryAccount,
			sentiment:  "negative",
			department: models.DepartmentCustomerService,
			action:     models.ActionEscalate,
		},
		{
			name:       "newsletter spam",
			req:        functions.ClassifyRequest{Subject: "Flash sale 50% off", Body: "Limited time offer! Click here to shop now. Unsubscribe anytime."},
			category:   functions.CategoryGeneralInquiry,
			sentiment:  "neutral",
			department: models.DepartmentSpam,
			action:     models.ActionEscalate,
		},
		{
			name:       "pii mention",
			req:        functions.ClassifyRequest{Subject: "Hello", Body: "My social security number is 123-45-6789"},
			category:   functions.CategoryGeneralInquiry,
			sentiment:  "neutral",
			department: models.DepartmentCustomerService,
			action:     models.ActionAutoRespond,
			pii:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := engine.Classify(ctx, tt.req)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if r.Categories[0] != tt.category {
				t.Errorf("category = %v, want %s", r.Categories, tt.category)
			}
			if r.Sentiment != tt.sentiment {
				t.Errorf("sentiment = %s, want %s", r.Sentiment, tt.sentiment)
			}
			if r.Department != tt.department {
				t.Errorf("department = %s, want %s", r.Department, tt.department)
			}
			if r.SuggestedAction != tt.action {
				t.Errorf("action = %s, want %s", r.SuggestedAction, tt.action)
			}
			if r.ContainsPII != tt.pii {
				t.Errorf("contains_pii = %v, want %v", r.ContainsPII, tt.pii)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	if got := Summarize(""); got != "" {
		t.Errorf("empty content gave %q", got)
	}
	long := strings.Repeat("This sentence is quite long and keeps going. ", 20)
	got := Summarize(long)
	if len([]rune(got)) > MaxSummaryLength {
		t.Errorf("summary too long: %d runes", len([]rune(got)))
	}
	quoted := "Please call me.\n> old quoted text\n-- \nJohn Signature"
	if got := Summarize(quoted); strings.Contains(got, "quoted") || strings.Contains(got, "Signature") {
		t.Errorf("quoted text or signature kept: %q", got)
	}
}
