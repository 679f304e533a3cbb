package functions

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type stubEngine struct {
	calls    int
	err      error
	lastBody string
}

func (s *stubEngine) Classify(ctx context.Context, req ClassifyRequest) (*AnalysisResult, error) {
	s.calls++
	s.lastBody = req.Body
	if s.err != nil {
		return nil, s.err
	}
	return &AnalysisResult{Urgency: 5, Confidence: 0.5}, nil
}

func (s *stubEngine) Draft(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	s.calls++
	s.lastBody = req.Body
	if s.err != nil {
		return nil, s.err
	}
	return &DraftResult{Body: "ok", Confidence: 0.5}, nil
}

// Feature: email-ai-assistant, Property: analysis results are clamped
// For any raw engine output, Clamp yields urgency 1..10, confidence 0..1 and
// valid enumerations.

func TestProperty_ClampAnalysis(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("clamp_forces_valid_domain", prop.ForAll(
		func(urgency int, confidence float64, sentiment, department, action string) bool {
			r := &AnalysisResult{
				Urgency:         urgency,
				Confidence:      confidence,
				Sentiment:       sentiment,
				Department:      department,
				SuggestedAction: action,
			}
			r.Clamp()

			validSentiment := r.Sentiment == "positive" || r.Sentiment == "negative" || r.Sentiment == "neutral"
			validDept := r.Department == "customer_service" || r.Department == "sales" || r.Department == "spam"
			validAction := r.SuggestedAction == "auto_respond" || r.SuggestedAction == "escalate" || r.SuggestedAction == "use_tool"

			return r.Urgency >= 1 && r.Urgency <= 10 &&
				r.Confidence >= 0 && r.Confidence <= 1 &&
				validSentiment && validDept && validAction &&
				len(r.Categories) == 1 && r.Categories[0] == CategoryGeneralInquiry &&
				r.Intent == CategoryGeneralInquiry
		},
		gen.IntRange(-100, 100),
		gen.Float64Range(-5, 5),
		gen.OneConstOf("positive", "NEGATIVE", "angry", ""),
		gen.OneConstOf("sales", "billing", ""),
		gen.OneConstOf("use_tool", "delete", ""),
	))

	properties.TestingRun(t)
}

func TestClamp_InvalidValuesFallBack(t *testing.T) {
	r := &AnalysisResult{Department: "billing", SuggestedAction: "delete", Sentiment: "angry", Confidence: math.NaN()}
	r.Clamp()
	if r.Department != "customer_service" || r.SuggestedAction != "escalate" || r.Sentiment != "neutral" || r.Confidence != 0 {
		t.Errorf("unexpected fallbacks %+v", r)
	}
}

func TestRedact(t *testing.T) {
	text := "Reach me at jane.doe@example.com or 555-123-4567. Card 4111 1111 1111 1111, SSN 123-45-6789."
	out, hit := Redact(text)
	if !hit {
		t.Fatal("expected redaction")
	}
	for _, leaked := range []string{"jane.doe@example.com", "555-123-4567", "4111 1111 1111 1111", "123-45-6789"} {
		if strings.Contains(out, leaked) {
			t.Errorf("%q leaked in %q", leaked, out)
		}
	}

	if _, hit := Redact("nothing sensitive here"); hit {
		t.Error("unexpected redaction")
	}
}

func TestRedactingEngine(t *testing.T) {
	next := &stubEngine{}
	e := NewRedactingEngine(next)

	result, err := e.Classify(context.Background(), ClassifyRequest{Body: "mail me at bob@example.com"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if strings.Contains(next.lastBody, "bob@example.com") {
		t.Errorf("address reached the engine: %q", next.lastBody)
	}
	if !result.ContainsPII {
		t.Error("expected ContainsPII")
	}
}

func TestBreakerEngine_OpensAfterFailures(t *testing.T) {
	next := &stubEngine{err: errors.New("vendor down")}
	e := NewBreakerEngine("test", next, BreakerSettings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		Failures:    3,
	}, nil)

	for i := 0; i < 3; i++ {
		if _, err := e.Classify(context.Background(), ClassifyRequest{}); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected vendor error, got %v", i, err)
		}
	}

	_, err := e.Draft(context.Background(), DraftRequest{})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if next.calls != 3 {
		t.Errorf("engine called %d times, want 3", next.calls)
	}
	if e.State() != "open" {
		t.Errorf("state = %s, want open", e.State())
	}
}

func TestReplySubject(t *testing.T) {
	cases := map[string]string{
		"Hello":      "Re: Hello",
		"RE: Hello":  "RE: Hello",
		"":           "Re: (no subject)",
		"  Invoice ": "Re: Invoice",
	}
	for in, want := range cases {
		if got := ReplySubject(in); got != want {
			t.Errorf("ReplySubject(%q) = %q, want %q", in, got, want)
		}
	}
}
