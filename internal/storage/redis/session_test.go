package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
)

func TestSessionKeyLayout(t *testing.T) {
	s := NewSessionStoreWithClient(nil, "")
	if got := s.key("u1"); got != "eagent:session:u1" {
		t.Fatalf("unexpected key: %s", got)
	}
	s = NewSessionStoreWithClient(nil, "test:")
	if got := s.key("u1"); got != "test:session:u1" {
		t.Fatalf("unexpected key: %s", got)
	}
}

func TestNewSessionStoreRequiresAddress(t *testing.T) {
	if _, err := NewSessionStore(context.Background(), Config{}); !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

// 需要真实的 Redis，设置 EAGENT_TEST_REDIS_ADDR 后运行。
func TestSessionStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("EAGENT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("EAGENT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewSessionStore(ctx, Config{Address: addr, Prefix: "eagent-test:"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer s.Close()

	user := "u-" + uuid.NewString()
	defer s.Reset(ctx, user)

	if err := s.Set(ctx, user, "last_task", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := storage.AddNote(ctx, s, user, "first"); err != nil {
		t.Fatalf("add note: %v", err)
	}
	if v, _ := storage.GetOr(ctx, s, user, "last_task", ""); v != "hello" {
		t.Fatalf("unexpected value: %q", v)
	}
	notes, err := storage.ListNotes(ctx, s, user)
	if err != nil || len(notes) != 1 {
		t.Fatalf("unexpected notes: %+v %v", notes, err)
	}
	if err := s.Reset(ctx, user); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if v, _ := storage.GetOr(ctx, s, user, "last_task", "none"); v != "none" {
		t.Fatalf("expected default after reset, got %q", v)
	}
}
