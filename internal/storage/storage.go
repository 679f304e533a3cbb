// Package storage keeps attachment contents outside the database. Email rows
// only carry the path returned by Save.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Brownster/email-ai-assistant/internal/config"
)

var (
	// ErrFileNotFound indicates the requested file was not found
	ErrFileNotFound = errors.New("file not found")
	// ErrFileWriteFailed indicates file write operation failed
	ErrFileWriteFailed = errors.New("failed to write file")
	// ErrFileReadFailed indicates file read operation failed
	ErrFileReadFailed = errors.New("failed to read file")
	// ErrAccessDenied indicates a path outside the store was requested
	ErrAccessDenied = errors.New("path outside attachment store")
)

// AttachmentStore saves attachment contents and reads them back by path
type AttachmentStore interface {
	// Save stores content and returns the path to record on the attachment row
	Save(ctx context.Context, emailID uint, filename string, content []byte) (string, error)
	Get(ctx context.Context, path string) ([]byte, error)
}

// New builds the store selected by cfg.AttachmentStore
func New(ctx context.Context, cfg *config.Config) (AttachmentStore, error) {
	switch strings.ToLower(cfg.AttachmentStore) {
	case "", "none":
		return NoneStore{}, nil
	case "file":
		return NewFileStore(cfg.GetAttachmentsDir()), nil
	case "s3":
		return NewS3Store(ctx, cfg.S3Bucket, cfg.S3Region)
	}
	return nil, fmt.Errorf("unknown attachment store %q", cfg.AttachmentStore)
}

// NoneStore discards contents; only attachment metadata is kept
type NoneStore struct{}

// Save implements AttachmentStore
func (NoneStore) Save(ctx context.Context, emailID uint, filename string, content []byte) (string, error) {
	return "", nil
}

// Get implements AttachmentStore
func (NoneStore) Get(ctx context.Context, path string) ([]byte, error) {
	return nil, ErrFileNotFound
}

// sanitizeFilename replaces unsafe characters and strips directories
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_", "\x00", "_",
	)
	result := filepath.Base(replacer.Replace(name))
	if result == "." || result == ".." || result == "" {
		return "attachment"
	}
	return result
}
