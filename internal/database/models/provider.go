package models

import (
	"time"
)

// MailboxProvider is a configured mailbox account messages are fetched from and replies sent through
type MailboxProvider struct {
	ID          uint                `gorm:"primaryKey" json:"id"`
	Name        string              `gorm:"size:255;not null" json:"name"`
	Kind        MailboxProviderKind `gorm:"size:20;not null;index" json:"kind"`
	Config      map[string]string   `gorm:"serializer:json;type:text" json:"config"`
	Secrets     map[string]string   `gorm:"serializer:json;type:text" json:"-"`
	MailboxKind MailboxKind         `gorm:"size:20;default:'general'" json:"mailbox_kind"`
	Active      bool                `gorm:"default:true;index" json:"active"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// MailboxProviderKind identifies how a mailbox provider is reached
type MailboxProviderKind string

const (
	MailboxKindIMAP      MailboxProviderKind = "imap"
	MailboxKindGmail     MailboxProviderKind = "gmail"
	MailboxKindOutlook   MailboxProviderKind = "outlook"
	MailboxKindGmailAPI  MailboxProviderKind = "gmail_api"
	MailboxKindDirectory MailboxProviderKind = "directory"
)

// IsValid checks if the mailbox provider kind is supported
func (k MailboxProviderKind) IsValid() bool {
	switch k {
	case MailboxKindIMAP, MailboxKindGmail, MailboxKindOutlook, MailboxKindGmailAPI, MailboxKindDirectory:
		return true
	}
	return false
}

// CanSend reports whether providers of this kind expose a send capability
// for the given configuration.
func (p *MailboxProvider) CanSend() bool {
	switch p.Kind {
	case MailboxKindGmail, MailboxKindOutlook, MailboxKindGmailAPI:
		return true
	case MailboxKindIMAP:
		return p.Config["smtp_host"] != ""
	}
	return false
}

// MailboxKind is the business function of a mailbox, used to pick reply templates
type MailboxKind string

const (
	MailboxSupport MailboxKind = "support"
	MailboxSales   MailboxKind = "sales"
	MailboxGeneral MailboxKind = "general"
)

// IsValid checks if the mailbox kind is known
func (k MailboxKind) IsValid() bool {
	switch k {
	case MailboxSupport, MailboxSales, MailboxGeneral:
		return true
	}
	return false
}

// ModelProvider is a configured classification and drafting engine
type ModelProvider struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	Name      string            `gorm:"size:255;not null" json:"name"`
	Kind      ModelProviderKind `gorm:"size:20;not null;index" json:"kind"`
	Config    map[string]string `gorm:"serializer:json;type:text" json:"config"`
	Secrets   map[string]string `gorm:"serializer:json;type:text" json:"-"`
	Priority  int               `gorm:"default:100" json:"priority"`
	Active    bool              `gorm:"default:true;index" json:"active"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ModelProviderKind identifies the engine backing a model provider
type ModelProviderKind string

const (
	ModelKindOpenAI ModelProviderKind = "openai"
	ModelKindClaude ModelProviderKind = "claude"
	ModelKindAzure  ModelProviderKind = "azure"
	ModelKindCustom ModelProviderKind = "custom"
	ModelKindLocal  ModelProviderKind = "local"
)

// IsValid checks if the model provider kind is supported
func (k ModelProviderKind) IsValid() bool {
	switch k {
	case ModelKindOpenAI, ModelKindClaude, ModelKindAzure, ModelKindCustom, ModelKindLocal:
		return true
	}
	return false
}

// ProviderSyncState tracks fetch progress and health for one mailbox provider.
// It is owned by the fetch scheduler; provider configuration is never touched.
// CursorAt and CursorKey mark the last message stored in arrival order and
// the next fetch resumes after it.
type ProviderSyncState struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	MailboxProviderID   uint       `gorm:"uniqueIndex;not null" json:"mailbox_provider_id"`
	LastFetchAt         time.Time  `json:"last_fetch_at"`
	CursorAt            time.Time  `json:"cursor_at"`
	CursorKey           string     `gorm:"size:255" json:"cursor_key"`
	LastSuccessAt       time.Time  `json:"last_success_at"`
	LastError           string     `gorm:"type:text" json:"last_error"`
	ConsecutiveFailures int        `gorm:"default:0" json:"consecutive_failures"`
	Status              SyncStatus `gorm:"size:20;default:'ok'" json:"status"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// SyncStatus summarizes the outcome of the latest fetch for a provider
type SyncStatus string

const (
	SyncStatusOK             SyncStatus = "ok"
	SyncStatusTransientError SyncStatus = "transient_error"
	SyncStatusAuthError      SyncStatus = "auth_error"
	SyncStatusError          SyncStatus = "error"
)
