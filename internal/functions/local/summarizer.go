package local

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxSummaryLength is the maximum length of a summary in runes
const MaxSummaryLength = 200

var (
	urlPattern      = regexp.MustCompile(`https?://[^\s]+`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	sentencePattern = regexp.MustCompile(`[.!?]+\s*`)
	// Quoted replies and signatures
	quotedLinePattern = regexp.MustCompile(`(?m)^>.*$`)
	signaturePattern  = regexp.MustCompile(`(?s)\n-- ?\n.*$`)
)

// Summarize extracts the first meaningful sentences of the content, up to
// MaxSummaryLength runes.
func Summarize(content string) string {
	if content == "" {
		return ""
	}

	content = normalizeForSummary(content)
	if utf8.RuneCountInString(content) <= MaxSummaryLength {
		return content
	}

	sentences := extractSentences(content)
	if len(sentences) == 0 {
		return truncateContent(content, MaxSummaryLength)
	}

	var summary strings.Builder
	for _, sentence := range sentences {
		if summary.Len() == 0 {
			summary.WriteString(sentence)
		} else if summary.Len()+len(sentence)+2 <= MaxSummaryLength {
			summary.WriteString(". ")
			summary.WriteString(sentence)
		} else {
			break
		}
	}

	return truncateContent(summary.String(), MaxSummaryLength)
}

// normalizeForSummary drops quoted text, signatures, URLs and addresses
func normalizeForSummary(content string) string {
	content = signaturePattern.ReplaceAllString(content, "")
	content = quotedLinePattern.ReplaceAllString(content, "")
	content = normalizeText(content)
	content = strings.ReplaceAll(content, "&lt;", "<")
	content = strings.ReplaceAll(content, "&gt;", ">")
	content = strings.ReplaceAll(content, "&quot;", "\"")
	content = strings.ReplaceAll(content, "&#39;", "'")
	content = urlPattern.ReplaceAllString(content, "")
	content = emailPattern.ReplaceAllString(content, "")
	content = whitespacePattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(content)
}

// extractSentences splits content on sentence-ending punctuation
func extractSentences(content string) []string {
	var sentences []string
	for _, part := range sentencePattern.Split(content, -1) {
		if part = strings.TrimSpace(part); part != "" {
			sentences = append(sentences, part)
		}
	}
	return sentences
}

// truncateContent truncates content to maxLength runes, at a word boundary
// when one is close.
func truncateContent(content string, maxLength int) string {
	runes := []rune(content)
	if len(runes) <= maxLength {
		return content
	}

	truncated := string(runes[:maxLength-3])
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > maxLength/2 {
		truncated = truncated[:lastSpace]
	}

	return strings.TrimSpace(truncated) + "..."
}
