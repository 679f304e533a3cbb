package models

import (
	"time"
)

// Email represents an inbound message ingested from a mailbox provider
type Email struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	MailboxProviderID uint        `gorm:"not null;uniqueIndex:idx_emails_provider_external" json:"mailbox_provider_id"`
	ExternalID        string      `gorm:"size:255;not null;uniqueIndex:idx_emails_provider_external" json:"external_id"`
	ThreadID          string      `gorm:"size:255;index" json:"thread_id"`
	FromAddr          string      `gorm:"size:255;not null" json:"from"`
	FromName          string      `gorm:"size:255" json:"from_name"`
	ToAddrs           []string    `gorm:"serializer:json;type:text" json:"to"`
	CcAddrs           []string    `gorm:"serializer:json;type:text" json:"cc"`
	Subject           string      `gorm:"size:500" json:"subject"`
	Body              string      `gorm:"type:text" json:"body"`
	HTMLBody          string      `gorm:"type:text" json:"html_body"`
	ReceivedAt        time.Time   `gorm:"index" json:"received_at"`
	IsRead            bool        `gorm:"default:false" json:"is_read"`
	Status            EmailStatus `gorm:"size:20;index;not null;default:'pending_review'" json:"status"`
	MailboxKind       MailboxKind `gorm:"size:20" json:"mailbox_kind"`
	HasAttachments    bool        `gorm:"default:false" json:"has_attachments"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`

	// Relations
	Attachments []Attachment `gorm:"foreignKey:EmailID" json:"attachments,omitempty"`
}

// EmailStatus is the review workflow state of an email
type EmailStatus string

const (
	StatusPendingReview EmailStatus = "pending_review"
	StatusInProgress    EmailStatus = "in_progress"
	StatusResolved      EmailStatus = "resolved"
	StatusSent          EmailStatus = "sent"
)

// IsValid checks if the status is one of the workflow states
func (s EmailStatus) IsValid() bool {
	switch s {
	case StatusPendingReview, StatusInProgress, StatusResolved, StatusSent:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is accepted from s
func (s EmailStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusSent
}

// Attachment stores metadata for a file attached to an email
type Attachment struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	EmailID     uint      `gorm:"index;not null" json:"email_id"`
	Filename    string    `gorm:"size:255" json:"filename"`
	ContentType string    `gorm:"size:100" json:"content_type"`
	Size        int64     `json:"size"`
	StoragePath string    `gorm:"size:500" json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}
