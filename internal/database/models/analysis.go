package models

import (
	"time"
)

// EmailAnalysis is the structured classification produced for an email.
// Records are immutable; re-analysis appends a new row.
type EmailAnalysis struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	EmailID         uint      `gorm:"index;not null" json:"email_id"`
	Categories      []string  `gorm:"serializer:json;type:text" json:"categories"`
	Sentiment       Sentiment `gorm:"size:20" json:"sentiment"`
	Intent          string    `gorm:"size:100" json:"intent"`
	Urgency         int       `gorm:"not null" json:"urgency"`
	RequiredInfo    []string  `gorm:"serializer:json;type:text" json:"required_info"`
	Summary         string    `gorm:"type:text" json:"summary"`
	Confidence      float64   `json:"confidence"`
	ContainsPII     bool      `gorm:"default:false" json:"contains_pii"`
	Department      string    `gorm:"size:50" json:"department"`
	SuggestedAction string    `gorm:"size:50" json:"suggested_action"`
	ModelProviderID *uint     `gorm:"index" json:"model_provider_id,omitempty"`
	Model           string    `gorm:"size:100" json:"model"`
	CreatedAt       time.Time `gorm:"index" json:"created_at"`
}

// Sentiment represents the tone detected in an email
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// IsValid checks if the sentiment is valid
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Departments a message can be routed to
const (
	DepartmentCustomerService = "customer_service"
	DepartmentSales           = "sales"
	DepartmentSpam            = "spam"
)

// Actions a department can take on a message
const (
	ActionAutoRespond = "auto_respond"
	ActionEscalate    = "escalate"
	ActionUseTool     = "use_tool"
)

// IsValidDepartment checks if d is a known department
func IsValidDepartment(d string) bool {
	switch d {
	case DepartmentCustomerService, DepartmentSales, DepartmentSpam:
		return true
	}
	return false
}

// IsValidAction checks if a is a known department action
func IsValidAction(a string) bool {
	switch a {
	case ActionAutoRespond, ActionEscalate, ActionUseTool:
		return true
	}
	return false
}

// DraftReply is a candidate reply for an email. The current draft of an email
// is the one with the latest CreatedAt.
type DraftReply struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EmailID         uint       `gorm:"index;not null" json:"email_id"`
	Subject         string     `gorm:"size:500" json:"subject"`
	Body            string     `gorm:"type:text" json:"body"`
	Confidence      float64    `json:"confidence"`
	ModelProviderID *uint      `gorm:"index" json:"model_provider_id,omitempty"`
	Model           string     `gorm:"size:100" json:"model"`
	IsEdited        bool       `gorm:"default:false" json:"is_edited"`
	EditedBy        string     `gorm:"size:100" json:"edited_by,omitempty"`
	EditedAt        *time.Time `json:"edited_at,omitempty"`
	SentMessageID   string     `gorm:"size:255" json:"sent_message_id,omitempty"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// DraftModelManual marks drafts written by a reviewer rather than an engine
const DraftModelManual = "manual"
