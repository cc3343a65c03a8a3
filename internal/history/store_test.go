package history

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	h, ok, err := s.Load(ctx, 42)
	if err != nil {
		t.Fatalf("load absent: %v", err)
	}
	if ok || len(h) != 0 {
		t.Fatalf("expected absent history, got ok=%v len=%d", ok, len(h))
	}

	first := History{}.Append("O que diz a cláusula 4?", "A cláusula 4 trata de <prazos> & multas.")
	if err := s.Save(ctx, 42, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, ok, err := s.Load(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("load after save: ok=%v err=%v", ok, err)
	}
	second := loaded.Append("E a cláusula 5?", "Trata de rescisão.")
	if err := s.Save(ctx, 42, second); err != nil {
		t.Fatalf("save second: %v", err)
	}
	got, _, err := s.Load(ctx, 42)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(got))
	}
	for i, want := range second {
		if got[i] != want {
			t.Fatalf("turn %d: got %+v want %+v", i, got[i], want)
		}
	}

	other, ok, err := s.Load(ctx, 7)
	if err != nil || ok || len(other) != 0 {
		t.Fatalf("other user must stay absent: ok=%v len=%d err=%v", ok, len(other), err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exerciseStore(t, s)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	h := History{}.Append("olá", "<b>oi</b>")
	if err := s.Save(context.Background(), 5, h); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "5.json"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\n    {") {
		t.Errorf("expected 4-space indentation, got:\n%s", text)
	}
	if !strings.Contains(text, "olá") || !strings.Contains(text, "<b>oi</b>") {
		t.Errorf("expected unescaped content, got:\n%s", text)
	}
	if !strings.Contains(text, `"role": "assistant"`) {
		t.Errorf("expected canonical role label, got:\n%s", text)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected only the history file, found %d entries", len(entries))
	}
}

func TestFileStoreLegacyRole(t *testing.T) {
	dir := t.TempDir()
	legacy := `[
    {"role": "user", "content": "Oi"},
    {"role": "Themis", "content": "Olá! Sou a Themis."}
]`
	if err := os.WriteFile(filepath.Join(dir, "9.json"), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write legacy: %v", err)
	}
	s, _ := NewFileStore(dir)
	h, ok, err := s.Load(context.Background(), 9)
	if err != nil || !ok {
		t.Fatalf("load legacy: ok=%v err=%v", ok, err)
	}
	if h[0].Role != RoleUser || h[1].Role != RoleAssistant {
		t.Fatalf("unexpected roles: %+v", h)
	}
}

func TestFileStoreCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "3.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, _ := NewFileStore(dir)
	if _, _, err := s.Load(context.Background(), 3); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)

	if !mr.Exists("history:42") {
		t.Fatalf("expected key history:42")
	}
	if ttl := mr.TTL("history:42"); ttl != 0 {
		t.Fatalf("expected no expiry, got %s", ttl)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisStore(client)
	mr.Close()

	if _, _, err := s.Load(context.Background(), 1); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()
	if _, err := s.pool.Exec(ctx, `DELETE FROM conversation_history WHERE user_id IN (7, 42)`); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	exerciseStore(t, s)
}

func TestParseRole(t *testing.T) {
	cases := map[string]Role{
		"user":      RoleUser,
		"User":      RoleUser,
		"assistant": RoleAssistant,
		"Themis":    RoleAssistant,
		"":          RoleAssistant,
	}
	for in, want := range cases {
		if got := ParseRole(in); got != want {
			t.Errorf("ParseRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAppendDoesNotAlias(t *testing.T) {
	base := make(History, 0, 8)
	base = append(base, Turn{Role: RoleUser, Content: "a"})
	x := base.Append("q1", "a1")
	y := base.Append("q2", "a2")
	if x[1].Content != "q1" || y[1].Content != "q2" {
		t.Fatalf("appends share backing storage: %+v %+v", x, y)
	}
	if len(base) != 1 {
		t.Fatalf("receiver modified")
	}
}
