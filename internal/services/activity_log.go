package services

import (
	"gorm.io/gorm"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
)

// ActivityLog is the append-only audit trail of each email. There is no
// update or delete API.
type ActivityLog struct {
	db *gorm.DB
}

// NewActivityLog creates an ActivityLog
func NewActivityLog(db *gorm.DB) *ActivityLog {
	return &ActivityLog{db: db}
}

// Append assigns the next sequence number for the email and inserts entry.
// tx must be the caller's transaction, and the caller must hold the email lock.
func (a *ActivityLog) Append(tx *gorm.DB, entry *models.ActivityLogEntry) error {
	var maxSeq int
	if err := tx.Model(&models.ActivityLogEntry{}).
		Where("email_id = ?", entry.EmailID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&maxSeq).Error; err != nil {
		return err
	}

	entry.ID = 0
	entry.Sequence = maxSeq + 1
	if entry.Actor == "" {
		entry.Actor = models.ActorSystem
	}
	return tx.Create(entry).Error
}

// ListForEmail returns the entries of an email ordered by sequence
func (a *ActivityLog) ListForEmail(emailID uint) ([]models.ActivityLogEntry, error) {
	var entries []models.ActivityLogEntry
	err := a.db.Where("email_id = ?", emailID).Order("sequence ASC").Find(&entries).Error
	return entries, err
}

// CountByAction counts the entries of an email with the given action
func (a *ActivityLog) CountByAction(emailID uint, action models.ActivityAction) (int64, error) {
	var n int64
	err := a.db.Model(&models.ActivityLogEntry{}).
		Where("email_id = ? AND action = ?", emailID, action).
		Count(&n).Error
	return n, err
}
