package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrRecorder wraps every failure of the interaction log.
var ErrRecorder = errors.New("interaction log failure")

// FileRecorder appends answered exchanges to a JSON Lines file, one event
// per line in the order they were answered.
type FileRecorder struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

func NewFileRecorder(path string) (*FileRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: ensure log dir: %w", ErrRecorder, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: init log file: %w", ErrRecorder, err)
	}
	_ = f.Close()
	return &FileRecorder{path: path, now: time.Now}, nil
}

// AppendInteraction stamps events that carry no timestamp and rejects events
// without a user. Each event goes out in a single write.
func (r *FileRecorder) AppendInteraction(event Event) error {
	if event.UserID == 0 {
		return fmt.Errorf("%w: event without user", ErrRecorder)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(event); err != nil {
		return fmt.Errorf("%w: encode event of %d: %w", ErrRecorder, event.UserID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open for append: %w", ErrRecorder, err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(line.Bytes()); err != nil {
		return fmt.Errorf("%w: append event of %d: %w", ErrRecorder, event.UserID, err)
	}
	return nil
}

// LoadInteractions returns the events answered in [from, to). A zero bound
// leaves that side open. Lines that do not decode are skipped.
func (r *FileRecorder) LoadInteractions(from, to time.Time) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: open for read: %w", ErrRecorder, err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	rd := bufio.NewReader(f)
	for {
		line, err := rd.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var ev Event
			if json.Unmarshal(line, &ev) == nil && ev.Within(from, to) {
				events = append(events, ev)
			}
		}
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrRecorder, err)
		}
	}
}
