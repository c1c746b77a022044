package recent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// FileStore keeps the history in a JSON array on disk.
type FileStore struct {
	path  string
	limit int
	now   func() time.Time
	mu    sync.Mutex
}

// NewFileStore creates a file-backed store. limit <= 0 uses DefaultLimit.
func NewFileStore(path string, limit int) *FileStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &FileStore{path: path, limit: limit, now: time.Now}
}

// Record adds q to the history. Blank queries are ignored.
func (s *FileStore) Record(_ context.Context, q string, pubs []string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// an unreadable history is replaced rather than blocking new records
	entries, _ := s.read()
	ts := float64(s.now().UnixNano()) / float64(time.Second)
	entries = append(entries, Entry{Query: q, TS: ts, Publishers: publisherSet(pubs)})
	return s.write(normalize(entries, s.limit))
}

// Recent returns up to n most recent distinct queries.
func (s *FileStore) Recent(_ context.Context, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultCount
	}
	s.mu.Lock()
	entries, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	entries = normalize(entries, n)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Query
	}
	return out, nil
}

func (s *FileStore) read() ([]Entry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read recent queries: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode recent queries: %w", err)
	}
	return entries, nil
}

// write replaces the file atomically.
func (s *FileStore) write(entries []Entry) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create recent dir: %w", err)
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode recent queries: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".recent-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write recent queries: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace recent queries: %w", err)
	}
	return nil
}
