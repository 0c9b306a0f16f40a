// Package record persists the single MatchRecord as a flat JSON file.
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/turmoilwatch/internal/storage/local"
	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

// FileStore keeps the MatchRecord in one JSON file, overwriting it on save.
type FileStore struct {
	path string
}

// fileRecord accepts both the current and the legacy key names.
type fileRecord struct {
	Timestamp string `json:"timestamp,omitempty"`
	URL       string `json:"url,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
	LastURL   string `json:"last_url,omitempty"`
}

// NewFileStore returns a store writing to path, creating its directory.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("record path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating record directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the record. A missing file yields ok=false and no error.
func (s *FileStore) Load(ctx context.Context) (watch.MatchRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return watch.MatchRecord{}, false, fmt.Errorf("context canceled: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return watch.MatchRecord{}, false, nil
		}
		return watch.MatchRecord{}, false, fmt.Errorf("reading record: %w", err)
	}
	rec, err := Decode(data)
	if err != nil {
		return watch.MatchRecord{}, false, err
	}
	return rec, true, nil
}

// Save overwrites the record file.
func (s *FileStore) Save(ctx context.Context, rec watch.MatchRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := local.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	return nil
}

// Delete removes the record file. A missing file is not an error.
func (s *FileStore) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing record: %w", err)
	}
	return nil
}

// Encode renders the record in its on-disk form.
func Encode(rec watch.MatchRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	return data, nil
}

// Decode parses either the current or the legacy schema.
func Decode(data []byte) (watch.MatchRecord, error) {
	var raw fileRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return watch.MatchRecord{}, fmt.Errorf("parsing record: %w", err)
	}
	rec := watch.MatchRecord{Timestamp: raw.Timestamp, URL: raw.URL}
	if rec.Timestamp == "" {
		rec.Timestamp = raw.LastSeen
	}
	if rec.URL == "" {
		rec.URL = raw.LastURL
	}
	return rec, nil
}
