package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
anthropic:
  model: claude-opus-4-20250514
timeouts:
  idle: 2m
  hard: 10m
meeting:
  max_action_items: 5
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Anthropic.Model != "claude-opus-4-20250514" {
		t.Errorf("model = %q", cfg.Anthropic.Model)
	}
	if cfg.Timeouts.Idle != 2*time.Minute {
		t.Errorf("idle = %v, want 2m", cfg.Timeouts.Idle)
	}
	if cfg.Timeouts.Hard != 10*time.Minute {
		t.Errorf("hard = %v, want 10m", cfg.Timeouts.Hard)
	}
	if cfg.Meeting.MaxActionItems != 5 {
		t.Errorf("max_action_items = %d, want 5", cfg.Meeting.MaxActionItems)
	}
	// Unset keys keep defaults.
	if cfg.Meeting.MaxRevisionSignals != 8 {
		t.Errorf("max_revision_signals = %d, want default 8", cfg.Meeting.MaxRevisionSignals)
	}
	if cfg.Defaults.Provider != "claude-cli" {
		t.Errorf("provider = %q, want default claude-cli", cfg.Defaults.Provider)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Timeouts.Idle != 5*time.Minute || cfg.Timeouts.Hard != 30*time.Minute {
		t.Errorf("timeouts = %+v", cfg.Timeouts)
	}
	if cfg.Resume.MinDelay >= cfg.Resume.MaxDelay {
		t.Errorf("resume window inverted: %+v", cfg.Resume)
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid", "sk-ant-REDACTED", false},
		{"empty", "", true},
		{"wrong prefix", "sk-openai-abcdefghijklmnop", true},
		{"too short", "sk-ant-x", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("empty = %q", got)
	}
	if got := MaskAPIKey("short"); got != "***" {
		t.Errorf("short = %q", got)
	}
	masked := MaskAPIKey("sk-ant-REDACTED")
	if masked != "sk-ant-...1234" {
		t.Errorf("masked = %q", masked)
	}
}

func TestLoadDepartments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "departments.yaml")
	writeFile(t, path, `
departments:
  - id: eng
    name: Engineering
    aliases: [engineering, dev]
    keywords: [bug, deploy, api]
  - id: design
    name: Design
    aliases: [design]
    keywords: [mockup, figma, layout]
`)

	entries, err := LoadDepartments(path)
	if err != nil {
		t.Fatalf("LoadDepartments: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	if entries[0].ID != "eng" || len(entries[0].Keywords) != 3 {
		t.Errorf("entries[0] = %+v", entries[0])
	}
}

func TestLoadDepartmentsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "departments.yaml")
	writeFile(t, path, "departments:\n  - name: Nameless\n")

	if _, err := LoadDepartments(path); err == nil {
		t.Error("expected error for entry without id")
	}
}

func TestDepartmentWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "departments.yaml")
	writeFile(t, path, "departments:\n  - id: eng\n    name: Engineering\n")

	w, err := NewDepartmentWatcher(path, testLogger())
	if err != nil {
		t.Fatalf("NewDepartmentWatcher: %v", err)
	}
	defer w.Close()

	if got := w.Departments(); len(got) != 1 {
		t.Fatalf("initial len = %d, want 1", len(got))
	}

	writeFile(t, path, "departments:\n  - id: eng\n    name: Engineering\n  - id: qa\n    name: QA\n")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(w.Departments()) == 2 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("vocabulary not reloaded, still %d entries", len(w.Departments()))
}

func TestDepartmentWatcherKeepsOldOnBadReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "departments.yaml")
	writeFile(t, path, "departments:\n  - id: eng\n    name: Engineering\n")

	w, err := NewDepartmentWatcher(path, testLogger())
	if err != nil {
		t.Fatalf("NewDepartmentWatcher: %v", err)
	}
	defer w.Close()

	writeFile(t, path, "departments: [not: valid: yaml")

	// Give the watcher a moment to observe the bad write.
	time.Sleep(200 * time.Millisecond)
	if got := w.Departments(); len(got) != 1 || got[0].ID != "eng" {
		t.Errorf("vocabulary changed after bad reload: %+v", got)
	}
}
