package local

import (
	"regexp"
	"strings"
)

// Spam detection keywords categorized by type
var (
	promotionalKeywords = []string{
		"sale", "discount", "offer", "deal", "promo", "promotion",
		"limited time", "flash sale", "clearance", "% off",
		"free shipping", "buy one get one", "bogo", "coupon",
		"voucher", "cashback", "reward",
	}

	marketingKeywords = []string{
		"subscribe", "newsletter", "recommended", "trending",
		"bestseller", "new arrival", "shop now", "buy now",
		"click here", "learn more", "don't miss",
	}

	// Unsubscribe indicators (strong signal)
	unsubscribeKeywords = []string{
		"unsubscribe", "opt out", "opt-out", "remove me", "stop receiving",
	}

	spamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)act\s+now`),
		regexp.MustCompile(`(?i)limited\s+offer`),
		regexp.MustCompile(`(?i)click\s+here`),
		regexp.MustCompile(`(?i)100%\s+free`),
		regexp.MustCompile(`(?i)no\s+obligation`),
		regexp.MustCompile(`(?i)risk\s+free`),
		regexp.MustCompile(`(?i)\b(winner|you\s+won|congratulations)\b`),
		regexp.MustCompile(`(?i)earn\s+\$`),
		regexp.MustCompile(`(?i)make\s+money`),
		regexp.MustCompile(`(?i)wire\s+transfer|bitcoin|crypto\s+investment`),
	}

	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SpamScore represents the spam score breakdown
type SpamScore struct {
	Total            float64
	PromotionalScore float64
	MarketingScore   float64
	UnsubscribeScore float64
	PatternScore     float64
}

// IsSpam reports whether an email looks like bulk or unsolicited mail
func IsSpam(subject, content string) bool {
	return CalculateSpamScore(subject, content).Total >= 0.5
}

// CalculateSpamScore calculates a detailed spam score for the email
func CalculateSpamScore(subject, content string) SpamScore {
	score := SpamScore{}

	combined := strings.ToLower(subject) + " " + strings.ToLower(normalizeText(content))

	// Promotional keywords (weight: 0.3)
	score.PromotionalScore = minFloat(float64(countKeywordMatches(combined, promotionalKeywords))*0.1, 0.3)

	// Marketing keywords (weight: 0.2)
	score.MarketingScore = minFloat(float64(countKeywordMatches(combined, marketingKeywords))*0.05, 0.2)

	// Unsubscribe keywords (weight: 0.3)
	if countKeywordMatches(combined, unsubscribeKeywords) > 0 {
		score.UnsubscribeScore = 0.3
	}

	// Spam patterns (weight: 0.2)
	score.PatternScore = minFloat(float64(countPatternMatches(combined, spamPatterns))*0.1, 0.2)

	score.Total = score.PromotionalScore + score.MarketingScore +
		score.UnsubscribeScore + score.PatternScore
	if score.Total > 1.0 {
		score.Total = 1.0
	}

	return score
}

// countKeywordMatches counts how many keywords are found in the text
func countKeywordMatches(text string, keywords []string) int {
	count := 0
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			count++
		}
	}
	return count
}

// countPatternMatches counts how many patterns match in the text
func countPatternMatches(text string, patterns []*regexp.Regexp) int {
	count := 0
	for _, pattern := range patterns {
		if pattern.MatchString(text) {
			count++
		}
	}
	return count
}

// normalizeText strips HTML tags and collapses whitespace
func normalizeText(content string) string {
	content = htmlTagPattern.ReplaceAllString(content, " ")
	content = strings.ReplaceAll(content, "&nbsp;", " ")
	content = strings.ReplaceAll(content, "&amp;", "&")
	content = whitespacePattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
