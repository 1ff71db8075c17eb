package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"OpenEA-Agent/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "runs.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "u1", "last_task", "draft email"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := storage.GetOr(ctx, s, "u1", "last_task", "")
	if err != nil || v != "draft email" {
		t.Fatalf("unexpected get: %q %v", v, err)
	}
	if err := s.Reset(ctx, "u1"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if v, _ := storage.GetOr(ctx, s, "u1", "last_task", "default"); v != "default" {
		t.Fatalf("expected default after reset, got %q", v)
	}
}

func TestListByPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.Set(ctx, "u1", "note:02", "b")
	_ = s.Set(ctx, "u1", "note:01", "a")
	_ = s.Set(ctx, "u1", "notebook", "x")
	_ = s.Set(ctx, "u2", "note:03", "c")

	entries, err := s.List(ctx, "u1", "note:")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "note:01" || entries[1].Value != "b" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	notes, err := storage.ListNotes(ctx, s, "u1")
	if err != nil || len(notes) != 2 || notes[0].Key != "note:02" {
		t.Fatalf("unexpected notes: %+v %v", notes, err)
	}
}

func TestLedgerLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"to":"alex@example.com"}`)
	id1, err := s.InsertApproval(ctx, "u1", "send_email", "Send meeting proposal to Alex", payload)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id2, _ := s.InsertApproval(ctx, "u1", "send_email", "Send meeting proposal to Alex", payload)
	_, _ = s.InsertApproval(ctx, "u2", "send_email", "other", payload)
	if id2 <= id1 {
		t.Fatalf("ids must increase: %d %d", id1, id2)
	}

	pending, err := s.ListApprovals(ctx, "u1", false)
	if err != nil || len(pending) != 2 || pending[0].ID != id1 {
		t.Fatalf("unexpected pending: %+v %v", pending, err)
	}
	if string(pending[0].Payload) != string(payload) || pending[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected row: %+v", pending[0])
	}

	changed, err := s.MarkApproved(ctx, id1)
	if err != nil || !changed {
		t.Fatalf("approve: %v %v", changed, err)
	}
	changed, err = s.MarkApproved(ctx, id1)
	if err != nil || changed {
		t.Fatalf("repeat approve: %v %v", changed, err)
	}
	if _, err := s.MarkApproved(ctx, 999); !storage.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	n, err := s.DeletePending(ctx, "u1")
	if err != nil || n != 1 {
		t.Fatalf("delete pending: %d %v", n, err)
	}
	a, err := s.GetApproval(ctx, id1)
	if err != nil || !a.Approved {
		t.Fatalf("approved row must survive clear: %+v %v", a, err)
	}
	if _, err := s.GetApproval(ctx, id2); !storage.IsNotFound(err) {
		t.Fatalf("expected cleared row to be gone, got %v", err)
	}
	id3, _ := s.InsertApproval(ctx, "u1", "send_email", "again", payload)
	if id3 <= id2 {
		t.Fatalf("ids must not be reused: %d after %d", id3, id2)
	}
}

func TestMigratesLegacyApprovalsTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open legacy: %v", err)
	}
	stmts := []string{
		`CREATE TABLE approvals (id INTEGER PRIMARY KEY AUTOINCREMENT, action TEXT, summary TEXT, payload TEXT, approved INTEGER DEFAULT 0)`,
		`INSERT INTO approvals(action, summary, payload) VALUES('send_email', 'legacy', 'not json')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("seed legacy: %v", err)
		}
	}
	db.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open migrated: %v", err)
	}

	a, err := s.GetApproval(context.Background(), 1)
	if err != nil {
		t.Fatalf("legacy row lost: %v", err)
	}
	if a.CreatedAt.IsZero() {
		t.Fatalf("created_at should be backfilled")
	}
	if a.User != "" || string(a.Payload) != `"not json"` {
		t.Fatalf("unexpected legacy row: %+v", a)
	}

	// 再次打开不应重复迁移。
	s.Close()
	again, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	again.Close()
}
