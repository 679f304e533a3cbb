package models

import (
	"time"
)

// ActivityLogEntry is an append-only audit record of something that happened to an email
type ActivityLogEntry struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	EmailID       uint           `gorm:"not null;uniqueIndex:idx_activity_email_seq" json:"email_id"`
	Sequence      int            `gorm:"not null;uniqueIndex:idx_activity_email_seq" json:"sequence"`
	Action        ActivityAction `gorm:"size:50;index;not null" json:"action"`
	PreviousValue string         `gorm:"size:255" json:"previous_value,omitempty"`
	NewValue      string         `gorm:"size:255" json:"new_value,omitempty"`
	Note          string         `gorm:"type:text" json:"note,omitempty"`
	Actor         string         `gorm:"size:100;not null" json:"actor"`
	CreatedAt     time.Time      `gorm:"index" json:"created_at"`
}

// ActivityAction is the kind of an activity log entry
type ActivityAction string

const (
	ActivityReceived          ActivityAction = "received"
	ActivityStatusChanged     ActivityAction = "status_changed"
	ActivityAnalysisCompleted ActivityAction = "analysis_completed"
	ActivityDraftGenerated    ActivityAction = "draft_generated"
	ActivityDraftEdited       ActivityAction = "draft_edited"
	ActivitySendFailed        ActivityAction = "send_failed"
	ActivityReplySent         ActivityAction = "reply_sent"
)

// ActorSystem is recorded for transitions made by the pipeline itself
const ActorSystem = "system"
