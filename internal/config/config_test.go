package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CDNFS_CONFIG", "")
	t.Setenv("CDNFS_RPC_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RPCTimeout != 10*time.Second {
		t.Errorf("expected 10s rpc timeout, got %s", cfg.RPCTimeout)
	}
	if cfg.RootSegment != "/node_modules" {
		t.Errorf("expected /node_modules root, got %q", cfg.RootSegment)
	}
	if cfg.LibraryPackage != "typescript" {
		t.Errorf("expected typescript library package, got %q", cfg.LibraryPackage)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdnfs.yaml")
	content := "channel_id: from-file\nrpc_timeout: 3s\nroot_segment: /deps\ncdn_retries: 5\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CDNFS_CONFIG", path)
	t.Setenv("CDNFS_CHANNEL_ID", "from-env")
	t.Setenv("CDNFS_EMBEDDED_HOST", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ChannelID != "from-env" {
		t.Errorf("env should override file, got %q", cfg.ChannelID)
	}
	if cfg.RPCTimeout != 3*time.Second {
		t.Errorf("expected 3s from file, got %s", cfg.RPCTimeout)
	}
	if cfg.RootSegment != "/deps" {
		t.Errorf("expected /deps from file, got %q", cfg.RootSegment)
	}
	if cfg.CDNRetries != 5 {
		t.Errorf("expected 5 retries from file, got %d", cfg.CDNRetries)
	}
	if !cfg.EmbeddedHost {
		t.Error("expected embedded host from env")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"negative timeout", "CDNFS_RPC_TIMEOUT", "-1s"},
		{"relative root", "CDNFS_ROOT_SEGMENT", "node_modules"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CDNFS_CONFIG", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CDNFS_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
