package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore keeps one indented JSON array per user under dir.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure dir: %w", ErrStorage, err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(userID int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(userID, 10)+".json")
}

func (s *FileStore) Load(_ context.Context, userID int64) (History, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(userID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %d: %w", ErrStorage, userID, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return History{}, true, nil
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, false, fmt.Errorf("%w: decode %d: %w", ErrStorage, userID, err)
	}
	return h, true, nil
}

// Save rewrites the user's file through a temp file and a rename so a crash
// never leaves a half-written record behind.
func (s *FileStore) Save(_ context.Context, userID int64, h History) error {
	if h == nil {
		h = History{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "    ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("%w: encode %d: %w", ErrStorage, userID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp, err := os.CreateTemp(s.dir, ".history-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %d: %w", ErrStorage, userID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %d: %w", ErrStorage, userID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(userID)); err != nil {
		return fmt.Errorf("%w: rename %d: %w", ErrStorage, userID, err)
	}
	return nil
}
