package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Brownster/email-ai-assistant/internal/database/models"
	"github.com/Brownster/email-ai-assistant/internal/functions"
)

// transitions lists the allowed status edges
var transitions = map[models.EmailStatus][]models.EmailStatus{
	models.StatusPendingReview: {models.StatusInProgress, models.StatusResolved},
	models.StatusInProgress:    {models.StatusResolved, models.StatusSent},
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to models.EmailStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// emailLocks is a keyed mutex. Entries are reference counted and dropped
// when the last holder or waiter releases them.
type emailLocks struct {
	mu    sync.Mutex
	locks map[uint]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func newEmailLocks() *emailLocks {
	return &emailLocks{locks: map[uint]*refLock{}}
}

// lock blocks until the email's lock is held and returns its release func
func (k *emailLocks) lock(id uint) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// size returns the number of tracked keys
func (k *emailLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// Workflow is the review state machine. Every write to an email's status,
// drafts or analyses happens here, under the email's lock.
type Workflow struct {
	db       *gorm.DB
	activity *ActivityLog
	locks    *emailLocks
}

// NewWorkflow creates a Workflow
func NewWorkflow(db *gorm.DB, activity *ActivityLog) *Workflow {
	return &Workflow{db: db, activity: activity, locks: newEmailLocks()}
}

// GeneratedDraft is engine output to attach as a new draft
type GeneratedDraft struct {
	Subject         string
	Body            string
	Confidence      float64
	Model           string
	ModelProviderID *uint
	Actor           string
	// SupersedeEdit allows replacing a reviewer-edited draft; only explicit
	// human requests set it
	SupersedeEdit bool
}

// Transition moves an email to status to. The sent status is reached only
// through the send pipeline.
func (w *Workflow) Transition(ctx context.Context, emailID uint, to models.EmailStatus, actor, note string) (*models.Email, error) {
	if !to.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if to == models.StatusSent {
		return nil, fmt.Errorf("%w: sent is reached by sending the draft", ErrInvalidTransition)
	}

	unlock := w.locks.lock(emailID)
	defer unlock()

	var email *models.Email
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		email, err = loadEmailForUpdate(tx, emailID)
		if err != nil {
			return err
		}
		return w.transitionTx(tx, email, to, actor, note)
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

// transitionTx validates and applies one edge inside tx. The caller holds the
// email lock.
func (w *Workflow) transitionTx(tx *gorm.DB, email *models.Email, to models.EmailStatus, actor, note string) error {
	from := email.Status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	res := tx.Model(&models.Email{}).
		Where("id = ? AND status = ?", email.ID, from).
		Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
	}

	if err := w.activity.Append(tx, &models.ActivityLogEntry{
		EmailID:       email.ID,
		Action:        models.ActivityStatusChanged,
		PreviousValue: string(from),
		NewValue:      string(to),
		Note:          note,
		Actor:         actor,
	}); err != nil {
		return err
	}

	email.Status = to
	return nil
}

// EditDraft replaces the content of the current draft with a reviewer's
// version. When there is no draft a manual one is created.
func (w *Workflow) EditDraft(ctx context.Context, emailID uint, subject, body, editor string) (*models.DraftReply, error) {
	if strings.TrimSpace(editor) == "" {
		editor = models.ActorSystem
	}

	unlock := w.locks.lock(emailID)
	defer unlock()

	var draft *models.DraftReply
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		email, err := loadEmailForUpdate(tx, emailID)
		if err != nil {
			return err
		}
		if email.Status == models.StatusSent {
			return ErrDraftLocked
		}

		now := time.Now()
		draft, err = CurrentDraft(tx, emailID)
		if err != nil {
			return err
		}

		previous := ""
		if draft == nil {
			if strings.TrimSpace(subject) == "" {
				subject = functions.ReplySubject(email.Subject)
			}
			draft = &models.DraftReply{
				EmailID:    emailID,
				Subject:    subject,
				Body:       body,
				Confidence: 1,
				Model:      models.DraftModelManual,
				IsEdited:   true,
				EditedBy:   editor,
				EditedAt:   &now,
			}
			if err := tx.Create(draft).Error; err != nil {
				return err
			}
		} else {
			previous = strconv.FormatUint(uint64(draft.ID), 10)
			if strings.TrimSpace(subject) != "" {
				draft.Subject = subject
			}
			draft.Body = body
			draft.IsEdited = true
			draft.EditedBy = editor
			draft.EditedAt = &now
			if err := tx.Model(draft).Select("subject", "body", "is_edited", "edited_by", "edited_at").
				Updates(draft).Error; err != nil {
				return err
			}
		}

		return w.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:       emailID,
			Action:        models.ActivityDraftEdited,
			PreviousValue: previous,
			NewValue:      strconv.FormatUint(uint64(draft.ID), 10),
			Actor:         editor,
		})
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// AttachGeneratedDraft stores engine output as the new current draft. It is
// refused once the email is resolved or sent, and when the current draft
// carries a reviewer edit unless SupersedeEdit is set.
func (w *Workflow) AttachGeneratedDraft(ctx context.Context, emailID uint, g GeneratedDraft) (*models.DraftReply, error) {
	unlock := w.locks.lock(emailID)
	defer unlock()

	var draft *models.DraftReply
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		email, err := loadEmailForUpdate(tx, emailID)
		if err != nil {
			return err
		}
		switch email.Status {
		case models.StatusSent:
			return ErrDraftLocked
		case models.StatusResolved:
			return fmt.Errorf("%w: email is resolved", ErrInvalidTransition)
		}

		current, err := CurrentDraft(tx, emailID)
		if err != nil {
			return err
		}
		if current != nil && current.IsEdited && !g.SupersedeEdit {
			return ErrDraftEdited
		}

		subject := g.Subject
		if strings.TrimSpace(subject) == "" {
			subject = functions.ReplySubject(email.Subject)
		}
		draft = &models.DraftReply{
			EmailID:         emailID,
			Subject:         subject,
			Body:            g.Body,
			Confidence:      functions.ClampConfidence(g.Confidence),
			ModelProviderID: g.ModelProviderID,
			Model:           g.Model,
		}
		if current != nil && !current.CreatedAt.Before(time.Now()) {
			// Keep creation order strictly increasing under clock skew
			draft.CreatedAt = current.CreatedAt.Add(time.Millisecond)
		}
		if err := tx.Create(draft).Error; err != nil {
			return err
		}

		return w.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:  emailID,
			Action:   models.ActivityDraftGenerated,
			NewValue: strconv.FormatUint(uint64(draft.ID), 10),
			Note:     g.Model,
			Actor:    g.Actor,
		})
	})
	if err != nil {
		return nil, err
	}
	return draft, nil
}

// RecordAnalysis stores a new immutable analysis for the email
func (w *Workflow) RecordAnalysis(ctx context.Context, analysis *models.EmailAnalysis, actor string) error {
	unlock := w.locks.lock(analysis.EmailID)
	defer unlock()

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadEmailForUpdate(tx, analysis.EmailID); err != nil {
			return err
		}
		analysis.ID = 0
		if err := tx.Create(analysis).Error; err != nil {
			return err
		}
		return w.activity.Append(tx, &models.ActivityLogEntry{
			EmailID:  analysis.EmailID,
			Action:   models.ActivityAnalysisCompleted,
			NewValue: strconv.FormatUint(uint64(analysis.ID), 10),
			Note:     analysis.Model,
			Actor:    actor,
		})
	})
}

// MarkRead sets the read flag. It is not a workflow transition and is not
// recorded in the activity log.
func (w *Workflow) MarkRead(ctx context.Context, emailID uint, read bool) error {
	res := w.db.WithContext(ctx).Model(&models.Email{}).Where("id = ?", emailID).Update("is_read", read)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		w.db.WithContext(ctx).Model(&models.Email{}).Where("id = ?", emailID).Count(&n)
		if n == 0 {
			return ErrEmailNotFound
		}
	}
	return nil
}

// loadEmailForUpdate reads the email row with a row lock where the dialect
// supports one
func loadEmailForUpdate(tx *gorm.DB, emailID uint) (*models.Email, error) {
	var email models.Email
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&email, emailID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmailNotFound
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

// CurrentDraft returns the draft with the latest creation time, ties broken
// by the highest ID, or nil when the email has none
func CurrentDraft(db *gorm.DB, emailID uint) (*models.DraftReply, error) {
	var drafts []models.DraftReply
	err := db.Where("email_id = ?", emailID).
		Order("created_at DESC").Order("id DESC").
		Limit(1).Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	if len(drafts) == 0 {
		return nil, nil
	}
	return &drafts[0], nil
}

// LatestAnalysis returns the most recent analysis, or nil when there is none
func LatestAnalysis(db *gorm.DB, emailID uint) (*models.EmailAnalysis, error) {
	var analyses []models.EmailAnalysis
	err := db.Where("email_id = ?", emailID).
		Order("created_at DESC").Order("id DESC").
		Limit(1).Find(&analyses).Error
	if err != nil {
		return nil, err
	}
	if len(analyses) == 0 {
		return nil, nil
	}
	return &analyses[0], nil
}
