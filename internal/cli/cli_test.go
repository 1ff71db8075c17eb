package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "kb"), 0o755); err != nil {
		t.Fatalf("mkdir kb: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "kb", "expense_policy.md"),
		[]byte("Expenses above $50 require manager approval. Receipts must be attached within 30 days."), 0o644); err != nil {
		t.Fatalf("write kb: %v", err)
	}
	scenarios := `
- name: schedule
  task: Schedule a 30-minute sync with Alex next Tuesday and draft the email for approval.
  expects:
    artifacts: [candidate_slots, email_draft_id]
- name: policy
  task: What is our travel expense policy?
  expects:
    artifacts: [grounded_answer]
`
	if err := os.WriteFile(filepath.Join(dir, "scenarios.yaml"), []byte(scenarios), 0o644); err != nil {
		t.Fatalf("write scenarios: %v", err)
	}
	cfg := `{
  "storage": {"driver": "sqlite"},
  "runtime": {"data_dir": "data"},
  "knowledge": {"dir": "kb"},
  "evals": {"scenarios": "scenarios.yaml"},
  "logging": {"level": "error", "output_paths": ["discard"]}
}`
	path := filepath.Join(dir, "eagent.json")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunThenApproveAcrossInvocations(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, cfg, "run", "Schedule a 30-minute sync with Alex next Tuesday and draft the email for approval.")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, want := range []string{"Plan", "candidate_slots", "email_draft_id"} {
		if !strings.Contains(out, want) {
			t.Fatalf("run output missing %q:\n%s", want, out)
		}
	}

	out, err = runCLI(t, cfg, "approvals", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "[send_email]") {
		t.Fatalf("pending approval should survive between commands:\n%s", out)
	}

	out, err = runCLI(t, cfg, "approvals", "approve-all")
	if err != nil {
		t.Fatalf("approve-all: %v", err)
	}
	if !strings.Contains(out, "approved 1 request(s)") {
		t.Fatalf("unexpected approve-all output: %s", out)
	}

	out, err = runCLI(t, cfg, "--format", "json", "approvals", "list")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var pending []map[string]any
	if err := json.Unmarshal([]byte(out), &pending); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(pending) != 0 {
		t.Fatalf("nothing should be pending after approve-all: %v", pending)
	}

	out, err = runCLI(t, cfg, "--format", "json", "approvals", "list", "--approved")
	if err != nil {
		t.Fatalf("list approved: %v", err)
	}
	var approved []map[string]any
	if err := json.Unmarshal([]byte(out), &approved); err != nil || len(approved) != 1 {
		t.Fatalf("expected one approved row: %v %s", err, out)
	}
}

func TestRunJSONOutput(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCLI(t, cfg, "-f", "json", "run", "What is our expense policy?")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var res struct {
		Plan      string                       `json:"plan"`
		Artifacts []map[string]json.RawMessage `json:"artifacts"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if res.Plan == "" || len(res.Artifacts) == 0 {
		t.Fatalf("unexpected result: %s", out)
	}
	first := res.Artifacts[0]
	if _, ok := first["grounded_answer"]; !ok {
		t.Fatalf("first artifact should be the grounded answer: %s", out)
	}
	if _, ok := first["citations"]; !ok {
		t.Fatalf("grounded answer should carry citations: %s", out)
	}
}

func TestAskCitesDocument(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCLI(t, cfg, "ask", "Who approves expenses?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "manager approval") || !strings.Contains(out, "expense_policy.md") {
		t.Fatalf("unexpected answer:\n%s", out)
	}
}

func TestNotesAndSession(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, err := runCLI(t, cfg, "notes", "add", "call", "the", "bank"); err != nil {
		t.Fatalf("add: %v", err)
	}
	out, err := runCLI(t, cfg, "notes", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "- call the bank") {
		t.Fatalf("note missing:\n%s", out)
	}

	out, err = runCLI(t, cfg, "session", "get", "timezone", "--default", "UTC")
	if err != nil || strings.TrimSpace(out) != "UTC" {
		t.Fatalf("default not returned: %q %v", out, err)
	}
	if _, err := runCLI(t, cfg, "session", "reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	out, err = runCLI(t, cfg, "--format", "json", "notes", "list")
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if strings.Contains(out, "bank") {
		t.Fatalf("reset should clear notes:\n%s", out)
	}
}

func TestPostIsSafetyChecked(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCLI(t, cfg, "post", "--channel", "#ops", "please", "DELETE", "ALL", "records")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if !strings.Contains(out, "blocked") {
		t.Fatalf("destructive post should be blocked:\n%s", out)
	}
	out, err = runCLI(t, cfg, "post", "hello team")
	if err != nil || !strings.Contains(out, "posted to #general") {
		t.Fatalf("unexpected post output: %q %v", out, err)
	}
}

func TestEvalUsesConfiguredScenarios(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runCLI(t, cfg, "eval")
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !strings.Contains(out, "Eval: 2/2 passed") {
		t.Fatalf("unexpected eval output:\n%s", out)
	}
}

func TestArgumentErrors(t *testing.T) {
	cfg := writeTestConfig(t)
	if _, err := runCLI(t, cfg, "approvals", "approve", "abc"); err == nil {
		t.Fatalf("non-numeric id should fail")
	}
	if _, err := runCLI(t, cfg, "approvals", "approve", "999"); err == nil {
		t.Fatalf("unknown id should fail")
	}
	if _, err := runCLI(t, filepath.Join(t.TempDir(), "missing.json"), "notes", "list"); err == nil {
		t.Fatalf("explicit missing config should fail")
	}
}
