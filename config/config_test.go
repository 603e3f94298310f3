package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ATLQueueSize != Defaults().ATLQueueSize {
		t.Errorf("expected default ATLQueueSize, got %d", cfg.ATLQueueSize)
	}
	if cfg.ATLEnabled() {
		t.Errorf("ATL should be disabled by default (zero threads)")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "openfam.yaml")
	body := []byte("provider: verbs\nATL_threads: 4\nMemservers:\n  0:\n    fam_path: /mnt/fam0\n    memory_type: persistent\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "verbs" {
		t.Errorf("Provider = %q, want verbs", cfg.Provider)
	}
	if !cfg.ATLEnabled() {
		t.Errorf("expected ATL enabled with ATL_threads: 4")
	}
	if cfg.FamBackupPath != Defaults().FamBackupPath {
		t.Errorf("unset key should keep default, got %q", cfg.FamBackupPath)
	}
	ms, ok := cfg.Memservers["0"]
	if !ok || ms.MemoryType != "persistent" {
		t.Errorf("Memservers[0] not decoded correctly: %+v", cfg.Memservers)
	}
}
