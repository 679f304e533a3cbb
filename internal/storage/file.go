package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore writes attachments under baseDir/<email id>/<filename>
type FileStore struct {
	baseDir string
}

// NewFileStore creates a file store rooted at baseDir
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// BaseDir returns the store root
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// EmailDir returns the attachments directory for a specific email
func (s *FileStore) EmailDir(emailID uint) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("%d", emailID))
}

// Save implements AttachmentStore. An existing file with the same name is
// overwritten, so re-saving after a crash is harmless.
func (s *FileStore) Save(ctx context.Context, emailID uint, filename string, content []byte) (string, error) {
	dir := s.EmailDir(emailID)

	// Ensure directory exists
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	filePath := filepath.Join(dir, sanitizeFilename(filename))
	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileWriteFailed, err.Error())
	}

	return filePath, nil
}

// Get implements AttachmentStore
func (s *FileStore) Get(ctx context.Context, path string) ([]byte, error) {
	if err := s.validatePath(path); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileReadFailed, err.Error())
	}

	return content, nil
}

// validatePath rejects paths that resolve outside the store root
func (s *FileStore) validatePath(path string) error {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return ErrAccessDenied
	}
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return ErrAccessDenied
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return ErrAccessDenied
	}
	return nil
}
