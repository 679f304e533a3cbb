package services

import (
	"context"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/storage"
)

// Ingestor inserts each (provider, external id) exactly once
type Ingestor struct {
	db       *gorm.DB
	activity *ActivityLog
	store    storage.AttachmentStore
	log      *slog.Logger
}

// NewIngestor creates an Ingestor. A nil store keeps attachment metadata only.
func NewIngestor(db *gorm.DB, activity *ActivityLog, store storage.AttachmentStore, log *slog.Logger) *Ingestor {
	if store == nil {
		store = storage.NoneStore{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Ingestor{db: db, activity: activity, store: store, log: log}
}

// Ingest stores msg for provider. When the message was already ingested the
// existing email is returned with created=false and nothing is written.
func (i *Ingestor) Ingest(ctx context.Context, provider *models.MailboxProvider, msg *NormalizedMessage) (*models.Email, bool, error) {
	email := &models.Email{
		MailboxProviderID: provider.ID,
		ExternalID:        msg.ExternalID,
		ThreadID:          msg.ThreadID,
		FromAddr:          msg.FromAddr,
		FromName:          msg.FromName,
		ToAddrs:           msg.To,
		CcAddrs:           msg.Cc,
		Subject:           msg.Subject,
		Body:              msg.Body,
		HTMLBody:          msg.HTMLBody,
		ReceivedAt:        msg.ReceivedAt,
		Status:            models.StatusPendingReview,
		MailboxKind:       provider.MailboxKind,
		HasAttachments:    len(msg.Attachments) > 0,
	}

	created := false
	var attachments []models.Attachment

	err := i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "mailbox_provider_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).Omit(clause.Associations).Create(email)
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			existing := &models.Email{}
			if err := tx.Where("mailbox_provider_id = ? AND external_id = ?", provider.ID, msg.ExternalID).
				First(existing).Error; err != nil {
				return err
			}
			email = existing
			return nil
		}
		created = true

		if err := i.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:  email.ID,
			Action:   models.ActivityReceived,
			NewValue: string(models.StatusPendingReview),
			Actor:    models.ActorSystem,
		}); err != nil {
			return err
		}

		for _, a := range msg.Attachments {
			row := models.Attachment{
				EmailID:     email.ID,
				Filename:    a.Filename,
				ContentType: a.ContentType,
				Size:        int64(len(a.Content)),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
			attachments = append(attachments, row)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		i.storeAttachments(ctx, email, msg, attachments)
	}

	return email, created, nil
}

// storeAttachments writes contents after commit. A storage failure leaves the
// metadata row without a path; the email itself is unaffected.
func (i *Ingestor) storeAttachments(ctx context.Context, email *models.Email, msg *NormalizedMessage, rows []models.Attachment) {
	for idx, row := range rows {
		path, err := i.store.Save(ctx, email.ID, row.Filename, msg.Attachments[idx].Content)
		if err != nil {
			i.log.Warn("failed to store attachment",
				"email_id", email.ID, "filename", row.Filename, "error", err)
			continue
		}
		if path == "" {
			continue
		}
		if err := i.db.Model(&models.Attachment{}).Where("id = ?", row.ID).Update("storage_path", path).Error; err != nil {
			i.log.Warn("failed to record attachment path", "attachment_id", row.ID, "error", err)
			continue
		}
		rows[idx].StoragePath = path
	}
	email.Attachments = rows
}
