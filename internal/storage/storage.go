package storage

import "time"

// Input kinds of an interaction.
const (
	SourceText  = "text"
	SourceVoice = "voice"
)

// Event is one answered exchange, as written to the interaction log.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Source    string    `json:"source"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Duration  float64   `json:"duration_seconds"`
}

// Within reports whether the event was answered in [from, to). A zero bound
// leaves that side open.
func (e Event) Within(from, to time.Time) bool {
	if !from.IsZero() && e.Timestamp.Before(from) {
		return false
	}
	if !to.IsZero() && !e.Timestamp.Before(to) {
		return false
	}
	return true
}

// Recorder persists interaction events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions(from, to time.Time) ([]Event, error)
}
