package setup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRun_CreatesLayout(t *testing.T) {
	projectDir := t.TempDir()
	if err := Run(projectDir, "myproject"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	stageDir := filepath.Join(projectDir, StageDirName)
	for _, p := range []string{"", "quarantine", "logs"} {
		info, err := os.Stat(filepath.Join(stageDir, p))
		if err != nil {
			t.Fatalf("missing directory %q: %v", p, err)
		}
		if !info.IsDir() {
			t.Errorf("%q is not a directory", p)
		}
	}
	for _, f := range []string{"locks.json", "session.json", "outcomes.json", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(stageDir, f)); err != nil {
			t.Errorf("missing file %q: %v", f, err)
		}
	}

	cfg, err := LoadConfig(stageDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Project.Name != "myproject" {
		t.Errorf("project name: got %q, want myproject", cfg.Project.Name)
	}
	if cfg.Locks.TTLSec != 300 {
		t.Errorf("ttl_sec: got %d, want 300", cfg.Locks.TTLSec)
	}
}

func TestRun_DefaultsNameToBasename(t *testing.T) {
	projectDir := filepath.Join(t.TempDir(), "acme-api")
	if err := os.MkdirAll(projectDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	cfg, err := LoadConfig(filepath.Join(projectDir, StageDirName))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Project.Name != "acme-api" {
		t.Errorf("project name: got %q, want acme-api", cfg.Project.Name)
	}
}

func TestRun_FailsWhenAlreadyInitialized(t *testing.T) {
	projectDir := t.TempDir()
	if err := Run(projectDir, ""); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	if err := Run(projectDir, ""); err == nil {
		t.Fatal("second Run should fail when .stagehand already exists")
	}
}

func TestEnsureLayout_Idempotent(t *testing.T) {
	stageDir := filepath.Join(t.TempDir(), StageDirName)
	if err := EnsureLayout(stageDir); err != nil {
		t.Fatalf("first EnsureLayout failed: %v", err)
	}

	// An existing store file must not be re-seeded.
	marker := []byte(`{"schema_version": 1, "file_type": "lock_store", "locks": [], "marker": true}`)
	locksPath := filepath.Join(stageDir, "locks.json")
	if err := os.WriteFile(locksPath, marker, 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if err := EnsureLayout(stageDir); err != nil {
		t.Fatalf("second EnsureLayout failed: %v", err)
	}
	content, err := os.ReadFile(locksPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(content) != string(marker) {
		t.Error("existing locks.json was overwritten")
	}
}

func TestLoadConfig_MissingFileDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("max_retries: got %d, want 2", cfg.Retry.MaxRetries)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level: got %q, want info", cfg.Logging.Level)
	}
}

func TestLoadConfig_PartialFileFilled(t *testing.T) {
	stageDir := t.TempDir()
	partial := "locks:\n  ttl_sec: 60\n"
	if err := os.WriteFile(filepath.Join(stageDir, "config.yaml"), []byte(partial), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadConfig(stageDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Locks.TTLSec != 60 {
		t.Errorf("ttl_sec: got %d, want 60", cfg.Locks.TTLSec)
	}
	if cfg.Retry.BaseDelayMS != 2000 {
		t.Errorf("base_delay_ms default not applied: got %d", cfg.Retry.BaseDelayMS)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	stageDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(stageDir, "config.yaml"), []byte("locks: [unclosed\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(stageDir); err == nil {
		t.Fatal("expected parse error")
	}
}
