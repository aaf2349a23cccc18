// Package checkpoint records how far the pick-and-place run got, so an
// operator can resume by hand after a crash or power loss.
//
// The record is a single line, "<index> base" or "<index> placing", and is
// overwritten on every write.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Stage is the part of a cycle the checkpoint refers to.
type Stage string

const (
	StageBase    Stage = "base"
	StagePlacing Stage = "placing"
)

// Format renders a checkpoint record.
func Format(index int, stage Stage) string {
	return fmt.Sprintf("%d %s", index, stage)
}

// Parse reads a record written by Format.
func Parse(s string) (int, Stage, error) {
	f := strings.Fields(s)
	if len(f) != 2 {
		return 0, "", fmt.Errorf("checkpoint %q: want \"<index> <stage>\"", s)
	}
	idx, err := strconv.Atoi(f[0])
	if err != nil || idx < 0 {
		return 0, "", fmt.Errorf("checkpoint %q: bad index", s)
	}
	switch st := Stage(f[1]); st {
	case StageBase, StagePlacing:
		return idx, st, nil
	default:
		return 0, "", fmt.Errorf("checkpoint %q: unknown stage %q", s, f[1])
	}
}

// Store persists the latest checkpoint record.
type Store interface {
	// Save replaces the stored record.
	Save(record string) error

	// Load returns the stored record, or "" when none exists.
	Load() (string, error)

	// Close releases any resources held by the store.
	Close() error
}

// FileStore keeps the record in a plain text file.
type FileStore struct {
	FilePath string
}

// NewFileStore creates a file-backed store. An empty path disables it.
func NewFileStore(path string) *FileStore {
	return &FileStore{FilePath: path}
}

// Save overwrites the file with record.
func (s *FileStore) Save(record string) error {
	if s.FilePath == "" {
		return nil
	}

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	if err := os.WriteFile(s.FilePath, []byte(record), 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads the file. A missing file is not an error.
func (s *FileStore) Load() (string, error) {
	if s.FilePath == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read checkpoint: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Close is a no-op for files.
func (s *FileStore) Close() error {
	return nil
}

// MemoryStore keeps the record in memory and remembers every write.
type MemoryStore struct {
	mu      sync.Mutex
	history []string
	err     error
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// FailWith makes subsequent saves return err.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Save records the write.
func (s *MemoryStore) Save(record string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.history = append(s.history, record)
	return nil
}

// Load returns the last record.
func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return "", nil
	}
	return s.history[len(s.history)-1], nil
}

// History returns every record saved, oldest first.
func (s *MemoryStore) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
