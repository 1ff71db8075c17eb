package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"OpenEA-Agent/internal/agent"
	"OpenEA-Agent/internal/config"
	xerrors "OpenEA-Agent/internal/errors"
	"OpenEA-Agent/internal/storage"
	"OpenEA-Agent/internal/task"
	"OpenEA-Agent/internal/tools"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb")
	if err := os.MkdirAll(kb, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(kb, "expense_policy.md"),
		[]byte("Expenses require manager approval. Receipts must be attached."), 0o644); err != nil {
		t.Fatalf("write kb: %v", err)
	}
	cfg := config.Default(dir)
	cfg.Storage.Driver = "memory"
	cfg.Alerts.Channel = "#ops"
	return cfg
}

func TestBuildWiresEndToEnd(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	res, err := a.Agent.Execute(ctx, "u1", "Schedule a 30-minute sync with Alex next Tuesday and draft the email for approval.")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if _, ok := res.Artifact(agent.ArtifactEmailDraft); !ok {
		t.Fatalf("missing draft: %v", res.ArtifactKeys())
	}
	outcomes, err := a.Gate.ExecuteAll(ctx, "u1")
	if err != nil || len(outcomes) != 1 || !outcomes[0].Executed {
		t.Fatalf("approve all: %+v %v", outcomes, err)
	}
	if sent := a.Tools.Mail.Sent(); len(sent) != 1 {
		t.Fatalf("approved draft should be sent once, got %d", len(sent))
	}

	answer := a.Knowledge.Answer("What is the expense approval policy?")
	if len(answer.Citations) != 1 || answer.Citations[0] != "expense_policy.md" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if got := a.Alerts.Channels(); len(got) != 2 {
		t.Fatalf("expected log and messaging channels, got %v", got)
	}
}

func TestBuildRunsAsyncTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Build(ctx, testConfig(t))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	submitted, err := a.Tasks.Submit(ctx, task.Request{User: "u2", Text: "Book a zoom with Sam and file the receipt"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := a.Processor.Handle(ctx, submitted.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	done, err := a.Tasks.WaitUntilCompleted(ctx, submitted.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != task.StatusSucceeded {
		t.Fatalf("unexpected status: %+v", done)
	}
	if _, ok := done.Result.Artifact(agent.ArtifactZoomMeeting); !ok {
		t.Fatalf("missing zoom artifact: %v", done.Result.ArtifactKeys())
	}
}

type brokenCalendar struct{}

func (brokenCalendar) ListBusy(context.Context, string) ([]tools.Slot, error) {
	return nil, errors.New("calendar offline")
}

func (brokenCalendar) ProposeSlots(context.Context, string, int, string) ([]tools.Slot, error) {
	return nil, errors.New("calendar offline")
}

func TestBuildAcceptsToolOverrides(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), WithoutTaskPipeline(), WithToolOptions(tools.WithCalendar(brokenCalendar{})))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if a.Tasks != nil || a.Processor != nil {
		t.Fatalf("pipeline should be skipped")
	}
	res, err := a.Agent.Execute(ctx, "u3", "Schedule a meeting with Bob")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Failed() == 0 {
		t.Fatalf("calendar failures should be recorded in the trace")
	}
}

func TestRememberFailureStoresLastError(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), WithoutTaskPipeline())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	res, err := a.rememberFailure(ctx, &task.Task{ID: "t", User: "u4"}, errors.New("bad input"))
	if err != nil || res != nil {
		t.Fatalf("recovery should fall through to failure: %v %v", res, err)
	}
	got, err := storage.GetOr(ctx, a.Store, "u4", SessionLastError, "")
	if err != nil || got != "bad input" {
		t.Fatalf("unexpected session value %q %v", got, err)
	}
}

func TestBuildRejectsUnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = "cassandra"
	if _, err := Build(context.Background(), cfg); !xerrors.HasCode(err, xerrors.CodeConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := Build(context.Background(), nil); err == nil {
		t.Fatalf("nil config should fail")
	}
}
