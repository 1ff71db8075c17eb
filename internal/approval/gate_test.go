package approval

import (
	"context"
	"errors"
	"sync"
	"testing"

	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/tools"
)

func newGate(t *testing.T, opts ...Option) (*Gate, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return New(store, opts...), store
}

func TestApproveAllDrainsPending(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)
	for i := 0; i < 3; i++ {
		if _, err := g.Require(ctx, "u1", ActionSendEmail, "Send meeting proposal", map[string]int{"n": i}); err != nil {
			t.Fatalf("require: %v", err)
		}
	}
	if _, err := g.Require(ctx, "u2", ActionSendEmail, "other user", nil); err != nil {
		t.Fatalf("require: %v", err)
	}

	n, err := g.ApproveAll(ctx, "u1")
	if err != nil {
		t.Fatalf("approve all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 approvals, got %d", n)
	}
	pending, _ := g.ListPending(ctx, "u1")
	if len(pending) != 0 {
		t.Fatalf("expected empty pending list, got %d", len(pending))
	}
	approved, _ := g.ListApproved(ctx, "u1")
	if len(approved) != 3 {
		t.Fatalf("expected 3 approved, got %d", len(approved))
	}
	other, _ := g.ListPending(ctx, "u2")
	if len(other) != 1 {
		t.Fatalf("other user's request should stay pending, got %d", len(other))
	}

	n, err = g.ApproveAll(ctx, "u1")
	if err != nil || n != 0 {
		t.Fatalf("second approve all should be a no-op, got %d %v", n, err)
	}
}

func TestApproveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)
	id, _ := g.Require(ctx, "u1", ActionSendEmail, "s", map[string]string{"to": "a@example.com"})

	first, err := g.Approve(ctx, id)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !first.Approved || first.ID != id || first.User != "u1" {
		t.Fatalf("unexpected snapshot: %+v", first)
	}
	second, err := g.Approve(ctx, id)
	if err != nil {
		t.Fatalf("second approve: %v", err)
	}
	if !second.Approved {
		t.Fatalf("expected approved snapshot")
	}
	approved, _ := g.ListApproved(ctx, "u1")
	if len(approved) != 1 {
		t.Fatalf("expected single approved row, got %d", len(approved))
	}
}

func TestApproveUnknownID(t *testing.T) {
	g, _ := newGate(t)
	if _, err := g.Approve(context.Background(), 42); !storage.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := g.Execute(context.Background(), 42); !storage.IsNotFound(err) {
		t.Fatalf("expected not found from execute, got %v", err)
	}
}

func TestRequireDoesNotDeduplicate(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)
	payload := map[string]string{"to": "alex@example.com"}
	var last int64
	for i := 0; i < 4; i++ {
		id, err := g.Require(ctx, "u1", ActionSendEmail, "same", payload)
		if err != nil {
			t.Fatalf("require: %v", err)
		}
		if id <= last {
			t.Fatalf("ids must increase: %d after %d", id, last)
		}
		last = id
	}
	pending, _ := g.ListPending(ctx, "u1")
	if len(pending) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(pending))
	}
	for i := 1; i < len(pending); i++ {
		if pending[i].ID <= pending[i-1].ID {
			t.Fatalf("pending list must be ordered by id")
		}
	}
}

func TestRequireValidatesInput(t *testing.T) {
	g, _ := newGate(t)
	if _, err := g.Require(context.Background(), " ", ActionSendEmail, "s", nil); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := g.Require(context.Background(), "u1", "", "s", nil); err == nil {
		t.Fatalf("expected error for empty action")
	}
	if _, err := g.Require(context.Background(), "u1", "x", "s", make(chan int)); err == nil {
		t.Fatalf("expected error for unencodable payload")
	}
}

func TestRequireRejectsCancelledContext(t *testing.T) {
	g, store := newGate(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Require(ctx, "u1", ActionSendEmail, "s", map[string]string{"to": "a"}); !xerrors.HasCode(err, xerrors.CodeTimeout) {
		t.Fatalf("expected timeout for cancelled context, got %v", err)
	}
	rows, err := store.ListApprovals(context.Background(), "u1", false)
	if err != nil || len(rows) != 0 {
		t.Fatalf("cancelled require must not insert: %v %+v", err, rows)
	}
}

func TestClearPendingKeepsApproved(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)
	id, _ := g.Require(ctx, "u1", ActionSendEmail, "a", nil)
	_, _ = g.Require(ctx, "u1", ActionSendEmail, "b", nil)
	_, _ = g.Require(ctx, "u1", ActionSendEmail, "c", nil)
	if _, err := g.Approve(ctx, id); err != nil {
		t.Fatalf("approve: %v", err)
	}

	n, err := g.ClearPending(ctx, "u1")
	if err != nil || n != 2 {
		t.Fatalf("expected 2 cleared, got %d %v", n, err)
	}
	pending, _ := g.ListPending(ctx, "u1")
	if len(pending) != 0 {
		t.Fatalf("expected no pending, got %d", len(pending))
	}
	approved, _ := g.ListApproved(ctx, "u1")
	if len(approved) != 1 || approved[0].ID != id {
		t.Fatalf("approved row should survive clear: %+v", approved)
	}
}

func TestConcurrentApproveAllCountsOnce(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t)
	const total = 20
	for i := 0; i < total; i++ {
		if _, err := g.Require(ctx, "u1", ActionSendEmail, "s", i); err != nil {
			t.Fatalf("require: %v", err)
		}
	}

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		sum int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := g.ApproveAll(ctx, "u1")
			if err != nil {
				t.Errorf("approve all: %v", err)
				return
			}
			mu.Lock()
			sum += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	if sum != total {
		t.Fatalf("expected %d transitions in total, got %d", total, sum)
	}
}

func TestExecuteSendsApprovedDraft(t *testing.T) {
	ctx := context.Background()
	mail := tools.NewMockMail()
	g, _ := newGate(t, WithHandler(ActionSendEmail, SendEmail(mail)))

	draft := tools.Draft{To: "alex@example.com", Subject: "Meeting proposal", Body: "Hi"}
	id, err := g.Require(ctx, "u1", ActionSendEmail, "Send meeting proposal to alex@example.com", draft)
	if err != nil {
		t.Fatalf("require: %v", err)
	}
	if len(mail.Sent()) != 0 {
		t.Fatalf("nothing should be sent before approval")
	}

	out, err := g.Execute(ctx, id)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !out.Executed || out.Error != "" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	delivery, ok := out.Result.(tools.Delivery)
	if !ok || !delivery.OK || delivery.Sent.To != draft.To {
		t.Fatalf("unexpected delivery: %+v", out.Result)
	}

	again, err := g.Execute(ctx, id)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if again.Executed {
		t.Fatalf("already approved request must not run again")
	}
	if sent := mail.Sent(); len(sent) != 1 {
		t.Fatalf("expected one sent mail, got %d", len(sent))
	}
}

type failingMail struct{ tools.Mail }

func (failingMail) Send(context.Context, tools.Draft) (tools.Delivery, error) {
	return tools.Delivery{}, errors.New("smtp down")
}

func TestExecuteAllKeepsApprovalWhenActionFails(t *testing.T) {
	ctx := context.Background()
	g, _ := newGate(t, WithHandler(ActionSendEmail, SendEmail(failingMail{tools.NewMockMail()})))
	_, _ = g.Require(ctx, "u1", ActionSendEmail, "a", tools.Draft{To: "a@example.com"})
	_, _ = g.Require(ctx, "u1", "unhandled", "b", nil)

	outcomes, err := g.ExecuteAll(ctx, "u1")
	if err != nil {
		t.Fatalf("execute all: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if !outcomes[0].Executed || outcomes[0].Error == "" {
		t.Fatalf("expected failed execution: %+v", outcomes[0])
	}
	if outcomes[1].Executed {
		t.Fatalf("unhandled action should not execute: %+v", outcomes[1])
	}
	pending, _ := g.ListPending(ctx, "u1")
	if len(pending) != 0 {
		t.Fatalf("approvals must stick even when the action fails")
	}
}

func TestSendEmailRejectsBadPayload(t *testing.T) {
	h := SendEmail(tools.NewMockMail())
	if _, err := h(context.Background(), storage.Approval{Payload: []byte(`"not a draft"`)}); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := h(context.Background(), storage.Approval{Payload: []byte(`{"subject":"x"}`)}); err == nil {
		t.Fatalf("expected missing recipient error")
	}
}
