package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// ErrStorage wraps every read or write failure of a history backend.
var ErrStorage = errors.New("history storage failure")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a stored role label onto the canonical pair. Anything that is
// not "user" was written by the bot, including the legacy "Themis" label.
func ParseRole(label string) Role {
	if strings.EqualFold(strings.TrimSpace(label), string(RoleUser)) {
		return RoleUser
	}
	return RoleAssistant
}

func (r *Role) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r = ParseRole(s)
	return nil
}

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the chronological list of turns of one user.
type History []Turn

// Append returns a new history with the question and answer added at the end.
// The receiver is never modified.
func (h History) Append(question, answer string) History {
	out := make(History, len(h), len(h)+2)
	copy(out, h)
	return append(out,
		Turn{Role: RoleUser, Content: question},
		Turn{Role: RoleAssistant, Content: answer},
	)
}

func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

// Since returns the turns from index start on, clamped to the history.
func (h History) Since(start int) History {
	if start <= 0 {
		return h
	}
	if start >= len(h) {
		return History{}
	}
	return h[start:]
}

// Window returns the last n turns; n <= 0 returns everything.
func (h History) Window(n int) History {
	if n <= 0 || len(h) <= n {
		return h
	}
	return h[len(h)-n:]
}

// Store persists whole histories, one record per user.
// Load reports ok=false when the user has no record; that is not an error.
// Save overwrites the record with the complete history. Implementations
// must be safe for concurrent use; concurrent writers for the same user
// are not coordinated and the last one wins.
type Store interface {
	Load(ctx context.Context, userID int64) (h History, ok bool, err error)
	Save(ctx context.Context, userID int64, h History) error
}
