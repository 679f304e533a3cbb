package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Brownster/email-ai-assistant/internal/functions"
)

var (
	// ErrNotConfigured indicates the AI client is not configured
	ErrNotConfigured = errors.New("AI client not configured")
	// ErrAPICallFailed indicates the AI API call failed
	ErrAPICallFailed = errors.New("AI API call failed")
	// ErrInvalidResponse indicates an invalid response from the AI API
	ErrInvalidResponse = errors.New("invalid AI API response")
	// ErrUnsupportedProvider indicates an unsupported AI provider
	ErrUnsupportedProvider = errors.New("unsupported AI provider")
)

// Provider represents an AI provider
type Provider string

const (
	// ProviderOpenAI represents OpenAI API
	ProviderOpenAI Provider = "openai"
	// ProviderAzure represents Azure OpenAI API
	ProviderAzure Provider = "azure"
	// ProviderClaude represents Anthropic Claude API
	ProviderClaude Provider = "claude"
	// ProviderCustom represents an OpenAI-compatible custom endpoint
	ProviderCustom Provider = "custom"
)

const (
	azureAPIVersion  = "2024-02-01"
	anthropicVersion = "2023-06-01"
	maxContentLength = 6000
)

// Config holds the settings of one model provider
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// Client handles AI API communication for email analysis and drafting
type Client struct {
	provider   Provider
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a configured client. Vendor base URLs and models are
// filled in when omitted.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		provider: Provider(strings.ToLower(cfg.Provider)),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	switch c.provider {
	case ProviderOpenAI:
		if c.baseURL == "" {
			c.baseURL = "https://api.openai.com/v1"
		}
		if c.model == "" {
			c.model = "gpt-4o-mini"
		}
	case ProviderClaude:
		if c.baseURL == "" {
			c.baseURL = "https://api.anthropic.com/v1"
		}
		if c.model == "" {
			c.model = "claude-3-haiku-20240307"
		}
	case ProviderAzure:
		if c.baseURL == "" {
			return nil, fmt.Errorf("%w: azure requires a base URL", ErrNotConfigured)
		}
		if c.model == "" {
			c.model = "gpt-35-turbo"
		}
	case ProviderCustom:
		if c.baseURL == "" {
			return nil, fmt.Errorf("%w: custom provider requires a base URL", ErrNotConfigured)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Provider)
	}

	return c, nil
}

// SetHTTPClient replaces the HTTP client (tests)
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Model returns the model name requests are sent to
func (c *Client) Model() string {
	return c.model
}

// ChatMessage represents a message in a chat conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a chat completion request
type ChatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

// ChatResponse represents a chat completion response
type ChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// messagesRequest is the Anthropic messages API request
type messagesRequest struct {
	Model       string        `json:"model"`
	System      string        `json:"system,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature,omitempty"`
}

// messagesResponse is the Anthropic messages API response
type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// complete sends a system/user prompt pair and returns the text reply
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	if c.provider == ProviderClaude {
		return c.sendMessagesRequest(ctx, system, user)
	}
	return c.sendChatRequest(ctx, []ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
}

// sendChatRequest sends an OpenAI-compatible chat completion request
func (c *Client) sendChatRequest(ctx context.Context, messages []ChatMessage) (string, error) {
	request := ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   800,
		Temperature: 0.3,
	}

	endpoint := c.baseURL + "/chat/completions"
	if c.provider == ProviderAzure {
		endpoint = fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
			c.baseURL, url.PathEscape(c.model), azureAPIVersion)
		request.Model = ""
	}

	headers := map[string]string{}
	if c.provider == ProviderAzure {
		headers["api-key"] = c.apiKey
	} else {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	respBody, err := c.post(ctx, endpoint, request, headers)
	if err != nil {
		return "", err
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPICallFailed, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrInvalidResponse
	}

	return chatResp.Choices[0].Message.Content, nil
}

// sendMessagesRequest sends an Anthropic messages API request
func (c *Client) sendMessagesRequest(ctx context.Context, system, user string) (string, error) {
	request := messagesRequest{
		Model:       c.model,
		System:      system,
		Messages:    []ChatMessage{{Role: "user", Content: user}},
		MaxTokens:   800,
		Temperature: 0.3,
	}

	respBody, err := c.post(ctx, c.baseURL+"/messages", request, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	})
	if err != nil {
		return "", err
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if msgResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPICallFailed, msgResp.Error.Message)
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", ErrInvalidResponse
	}
	return text.String(), nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload interface{}, headers map[string]string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrAPICallFailed, resp.StatusCode, truncate(string(respBody), 500))
	}

	return respBody, nil
}

const classifySystemPrompt = `You are an Email Reviewer agent. Analyze the email for sentiment, urgency and potential spam,
and decide which department should handle it.
Respond with ONLY a JSON object with these keys:
- "categories": list of short snake_case categories, most relevant first (e.g. "pricing", "account", "technical_issue", "general_inquiry")
- "sentiment": one of "positive", "negative", "neutral"
- "intent": the main intent in a few words
- "urgency": integer from 1 (can wait) to 10 (critical)
- "required_info": list of information needed to answer that the email does not contain
- "summary": one or two sentence summary
- "confidence": number between 0 and 1
- "contains_pii": true if the email contains personal data
- "department": one of "customer_service", "sales", "spam"
- "action": one of "auto_respond", "escalate", "use_tool"
Examples of decisions: refund requests escalate, tracking inquiries auto_respond, sales leads use_tool to check the CRM.`

const draftSystemPrompt = `You are an Email Drafter agent. Draft a professional reply that addresses the sender's concerns.
The reply will be reviewed by a human before it is sent. Do not invent facts, prices or commitments;
use neutral placeholders like [order number] when information is missing.
Respond with ONLY a JSON object with these keys:
- "subject": the reply subject
- "body": the full plain-text reply
- "confidence": number between 0 and 1 describing how well the draft answers the email`

// Classify analyzes an email
func (c *Client) Classify(ctx context.Context, req functions.ClassifyRequest) (*functions.AnalysisResult, error) {
	user := fmt.Sprintf("Mailbox: %s\nFrom: %s\nSubject: %s\n\nContent:\n%s",
		req.MailboxKind, req.From, req.Subject, truncate(req.Body, maxContentLength))

	response, err := c.complete(ctx, classifySystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var result functions.AnalysisResult
	if err := decodeJSON(response, &result); err != nil {
		return nil, err
	}
	result.Model = c.model
	return &result, nil
}

// Draft writes a reply to an email, using the analysis when available
func (c *Client) Draft(ctx context.Context, req functions.DraftRequest) (*functions.DraftResult, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Mailbox: %s\n", req.MailboxKind)
	if a := req.Analysis; a != nil {
		fmt.Fprintf(&b, "Department decision: %s / %s\nIntent: %s\nSummary: %s\n",
			a.Department, a.SuggestedAction, a.Intent, a.Summary)
		if len(a.RequiredInfo) > 0 {
			fmt.Fprintf(&b, "Missing information: %s\n", strings.Join(a.RequiredInfo, ", "))
		}
	}
	fmt.Fprintf(&b, "\nEmail from %s\nSubject: %s\n\n%s", req.FromName, req.Subject, truncate(req.Body, maxContentLength))

	response, err := c.complete(ctx, draftSystemPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var result functions.DraftResult
	if err := decodeJSON(response, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Body) == "" {
		return nil, fmt.Errorf("%w: empty draft body", ErrInvalidResponse)
	}
	if result.Subject == "" {
		result.Subject = functions.ReplySubject(req.Subject)
	}
	result.Confidence = functions.ClampConfidence(result.Confidence)
	result.Model = c.model
	return &result, nil
}

// decodeJSON extracts the first JSON object from a model reply, tolerating
// surrounding prose and code fences.
func decodeJSON(response string, v interface{}) error {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end < start {
		return fmt.Errorf("%w: no JSON object in reply", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
