package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eagent.json")
	if err := os.WriteFile(path, []byte(`{"knowledge":{"dir":"docs"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected storage driver: %s", cfg.Storage.Driver)
	}
	if want := filepath.Join(dir, "data", "runs.sqlite"); cfg.Storage.SQLite.Path != want {
		t.Fatalf("sqlite path = %s, want %s", cfg.Storage.SQLite.Path, want)
	}
	if want := filepath.Join(dir, "docs"); cfg.Knowledge.Dir != want {
		t.Fatalf("knowledge dir = %s, want %s", cfg.Knowledge.Dir, want)
	}
	if cfg.Knowledge.TopK != 3 || cfg.Knowledge.Window != 1 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg.Knowledge)
	}
	if !cfg.Knowledge.IsEnabled() {
		t.Fatalf("knowledge should default to enabled")
	}
	if len(cfg.Agent.KnowledgeTerms) != len(DefaultKnowledgeTerms) {
		t.Fatalf("unexpected knowledge terms: %v", cfg.Agent.KnowledgeTerms)
	}
	if cfg.Agent.StepTimeout().Seconds() != 5 {
		t.Fatalf("unexpected step timeout: %v", cfg.Agent.StepTimeout())
	}
	if cfg.TaskQueue.Driver != "memory" || cfg.TaskStore.Retries != 3 {
		t.Fatalf("unexpected task defaults: %+v %+v", cfg.TaskQueue, cfg.TaskStore)
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eagent.json")
	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"postgres"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRequiresMySQLDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eagent.json")
	if err := os.WriteFile(path, []byte(`{"storage":{"driver":"mysql"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected missing dsn error")
	}
}
