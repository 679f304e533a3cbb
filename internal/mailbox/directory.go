package mailbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirectoryMailbox reads .eml files from a local directory. It cannot send.
type DirectoryMailbox struct {
	path string
}

// NewDirectoryMailbox creates a fetch-only mailbox over path
func NewDirectoryMailbox(path string) *DirectoryMailbox {
	return &DirectoryMailbox{path: path}
}

// Path returns the directory being read
func (m *DirectoryMailbox) Path() string {
	return m.path
}

// Fetch returns .eml files modified after req.After, oldest modification
// first with the file name breaking ties
func (m *DirectoryMailbox) Fetch(ctx context.Context, req FetchRequest) ([]RawMessage, error) {
	entries, err := os.ReadDir(m.path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", m.path, err)
	}

	var candidates []RawMessage
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".eml") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		c := RawMessage{Key: e.Name(), ReceivedAt: info.ModTime()}
		if req.After.Admits(c) {
			candidates = append(candidates, c)
		}
	}
	SortByArrival(candidates)
	if req.Limit > 0 && len(candidates) > req.Limit {
		candidates = candidates[:req.Limit]
	}

	result := make([]RawMessage, 0, len(candidates))
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, classify(err)
		}
		raw, err := os.ReadFile(filepath.Join(m.path, c.Key))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", c.Key, err)
		}
		c.Raw = raw
		result = append(result, c)
	}

	return result, nil
}

// TestConnection checks the directory exists
func (m *DirectoryMailbox) TestConnection(ctx context.Context) error {
	info, err := os.Stat(m.path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", m.path)
	}
	return nil
}

// ReadFile loads a single .eml file as a raw message. The external id comes
// from the Message-ID header during normalization.
func ReadFile(path string) (RawMessage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RawMessage{}, fmt.Errorf("read %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return RawMessage{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return RawMessage{
		ReceivedAt: info.ModTime(),
		Key:        filepath.Base(path),
		Raw:        raw,
	}, nil
}
