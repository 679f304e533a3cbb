package local

import (
	"math"
	"regexp"
	"strings"
)

var (
	// Subject words that pin urgency regardless of the body
	urgentSubjectWords   = []string{"urgent", "immediate", "asap", "emergency"}
	questionSubjectWords = []string{"question", "inquiry", "help"}

	criticalKeywords = []string{
		"urgent", "immediate", "asap", "critical", "emergency",
		"security alert", "password reset", "account compromised",
		"payment failed", "legal notice", "action required",
		"final notice", "deadline", "outage", "down",
	}

	highKeywords = []string{
		"important", "attention", "reminder", "confirm",
		"contract", "agreement", "invoice", "payment",
		"refund", "cancel", "not working", "broken",
		"meeting", "appointment", "schedule",
	}

	lowKeywords = []string{
		"newsletter", "digest", "weekly", "monthly",
		"subscription", "recommended", "trending",
		"marketing", "promotional", "advertisement", "fyi",
	}

	// Sender domain patterns that raise urgency
	importantDomains = []string{"gov", "bank", "finance"}

	// Patterns indicating automated/bulk emails
	automatedPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)no-?reply`),
		regexp.MustCompile(`(?i)do-?not-?reply`),
		regexp.MustCompile(`(?i)notification@`),
		regexp.MustCompile(`(?i)mailer-daemon`),
	}
)

// UrgencyScore represents the urgency score breakdown
type UrgencyScore struct {
	Total         float64
	CriticalScore float64
	HighScore     float64
	LowScore      float64
	SenderScore   float64
	SpamPenalty   float64
}

// JudgeUrgency returns an urgency from 1 to 10. Urgent subject words give 9
// and question words 6; otherwise the keyword score decides.
func JudgeUrgency(subject, content, from string) int {
	lowerSubject := strings.ToLower(subject)
	for _, w := range urgentSubjectWords {
		if strings.Contains(lowerSubject, w) {
			return 9
		}
	}
	for _, w := range questionSubjectWords {
		if strings.Contains(lowerSubject, w) {
			return 6
		}
	}

	return UrgencyFromScore(CalculateUrgencyScore(subject, content, from).Total)
}

// UrgencyFromScore maps a [0,1] score onto 1..10, with 0.5 mapping to 5
func UrgencyFromScore(score float64) int {
	u := int(math.Round(score*9)) + 1
	if u > 5 && score <= 0.5 {
		u = 5
	}
	if u < 1 {
		return 1
	}
	if u > 10 {
		return 10
	}
	return u
}

// CalculateUrgencyScore calculates a detailed urgency score in [0, 1]
func CalculateUrgencyScore(subject, content, from string) UrgencyScore {
	score := UrgencyScore{}

	combined := strings.ToLower(subject) + " " + strings.ToLower(normalizeText(content))
	from = strings.ToLower(from)

	// Critical keywords (weight: 0.4)
	if n := countKeywordMatches(combined, criticalKeywords); n > 0 {
		score.CriticalScore = minFloat(float64(n)*0.2, 0.4)
	}

	// High keywords (weight: 0.3)
	score.HighScore = minFloat(float64(countKeywordMatches(combined, highKeywords))*0.1, 0.3)

	// Low keywords (negative weight: -0.2)
	score.LowScore = -minFloat(float64(countKeywordMatches(combined, lowKeywords))*0.1, 0.2)

	score.SenderScore = calculateSenderScore(from)

	if IsSpam(subject, content) {
		score.SpamPenalty = -0.3
	}

	// Base 0.5 is medium
	score.Total = 0.5 + score.CriticalScore + score.HighScore +
		score.LowScore + score.SenderScore + score.SpamPenalty

	if score.Total < 0 {
		score.Total = 0
	}
	if score.Total > 1 {
		score.Total = 1
	}

	return score
}

// calculateSenderScore calculates urgency based on sender
func calculateSenderScore(from string) float64 {
	if IsFromAutomatedSender(from) {
		return -0.1
	}
	for _, domain := range importantDomains {
		if strings.Contains(from, "."+domain) || strings.Contains(from, "@"+domain) {
			return 0.15
		}
	}
	return 0
}

// IsFromAutomatedSender checks if the email is from an automated sender
func IsFromAutomatedSender(from string) bool {
	for _, pattern := range automatedPatterns {
		if pattern.MatchString(from) {
			return true
		}
	}
	return false
}
