package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected listen addr :8080, got %s", cfg.ListenAddr)
	}
	if cfg.Mode != ModeInline {
		t.Errorf("expected mode inline, got %s", cfg.Mode)
	}
	if cfg.FieldPrefix != "payvex_" {
		t.Errorf("expected field prefix payvex_, got %s", cfg.FieldPrefix)
	}
	if cfg.GetBulkConcurrency() != 8 || cfg.GetQueryConcurrency() != 16 {
		t.Errorf("unexpected concurrency defaults %d/%d", cfg.GetBulkConcurrency(), cfg.GetQueryConcurrency())
	}
	if cfg.Snapshot.Enabled() {
		t.Error("snapshots should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PAYVEX_LISTEN_ADDR", ":9090")
	t.Setenv("PAYVEX_AUTH_TOKEN", "secret-token")
	t.Setenv("PAYVEX_MODE", "remote")
	t.Setenv("PAYVEX_REMOTE_URL", "http://backend:8080")
	t.Setenv("PAYVEX_REMOTE_TIMEOUT_MS", "1500")
	t.Setenv("PAYVEX_BULK_CONCURRENCY", "3")
	t.Setenv("PAYVEX_PREFIX", "tenant")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected listen addr :9090, got %s", cfg.ListenAddr)
	}
	if cfg.AuthToken != "secret-token" {
		t.Errorf("expected auth token secret-token, got %s", cfg.AuthToken)
	}
	if cfg.Mode != ModeRemote || cfg.Remote.URL != "http://backend:8080" {
		t.Errorf("unexpected remote settings: %+v / %+v", cfg.Mode, cfg.Remote)
	}
	if cfg.Remote.Timeout() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s timeout, got %v", cfg.Remote.Timeout())
	}
	if cfg.GetBulkConcurrency() != 3 {
		t.Errorf("expected bulk concurrency 3, got %d", cfg.GetBulkConcurrency())
	}
	if cfg.Prefix != "tenant" {
		t.Errorf("expected prefix tenant, got %s", cfg.Prefix)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"listen_addr": ":3000",
		"mode": "inline",
		"prefix": "app",
		"field_prefix": "cms_",
		"collections": {
			"users": {"indexes": {"by_status": "status", "by_created": "createdAt"}}
		},
		"snapshot": {
			"object_store": {"type": "fs", "root_path": "/var/lib/payvex"},
			"prefix": "snapshots/main/",
			"retain": 5,
			"interval_seconds": 10
		},
		"timeout": {"query_timeout_ms": 500}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":3000" || cfg.Prefix != "app" || cfg.FieldPrefix != "cms_" {
		t.Errorf("unexpected top-level settings: %+v", cfg)
	}
	if !cfg.Snapshot.Enabled() || cfg.Snapshot.GetPrefix() != "snapshots/main/" || cfg.Snapshot.GetRetain() != 5 || cfg.Snapshot.Interval() != 10*time.Second {
		t.Errorf("unexpected snapshot settings: %+v", cfg.Snapshot)
	}
	if cfg.Timeout.GetQueryTimeout() != 500*time.Millisecond {
		t.Errorf("expected query timeout 500ms, got %v", cfg.Timeout.GetQueryTimeout())
	}
	if cfg.Timeout.GetMutationTimeout() != time.Minute {
		t.Errorf("expected default mutation timeout, got %v", cfg.Timeout.GetMutationTimeout())
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		t.Fatalf("Catalog failed: %v", err)
	}
	defs := catalog.Indexes("app_users")
	found := map[string]string{}
	for _, d := range defs {
		found[d.Name] = d.Field
	}
	if found["by_status"] != "cms_status" {
		t.Errorf("expected by_status on cms_status, got %v", found)
	}
	if found["by_created"] != "_creationTime" {
		t.Errorf("expected by_created on _creationTime, got %v", found)
	}
	if found["by_id"] != "_id" {
		t.Errorf("expected builtin by_id, got %v", found)
	}
}

func TestLoadFromConfigEnv(t *testing.T) {
	path := writeConfig(t, `{"listen_addr": ":4000"}`)
	t.Setenv("PAYVEX_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":4000" {
		t.Errorf("expected :4000, got %s", cfg.ListenAddr)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"listen_addr": ":4000", "snapshot": {"object_store": {"type": "memory"}}}`)
	t.Setenv("PAYVEX_LISTEN_ADDR", ":5000")
	t.Setenv("PAYVEX_SNAPSHOT_STORE_TYPE", "s3")
	t.Setenv("PAYVEX_SNAPSHOT_STORE_BUCKET", "snaps")
	t.Setenv("PAYVEX_SNAPSHOT_STORE_USE_SSL", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":5000" {
		t.Errorf("env should override file, got %s", cfg.ListenAddr)
	}
	store := cfg.Snapshot.ObjectStore
	if store.Type != "s3" || store.Bucket != "snaps" || !store.UseSSL {
		t.Errorf("unexpected object store settings: %+v", store)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"unknown mode", func(c *Config) { c.Mode = "hybrid" }, false},
		{"remote without url", func(c *Config) { c.Mode = ModeRemote }, false},
		{"remote with url", func(c *Config) { c.Mode = ModeRemote; c.Remote.URL = "http://x" }, true},
		{"empty field prefix", func(c *Config) { c.FieldPrefix = "" }, false},
		{"bad collection name", func(c *Config) {
			c.Collections["bad_name"] = CollectionConfig{Indexes: map[string]string{"by_x": "x"}}
		}, false},
		{"bad prefix", func(c *Config) { c.Prefix = "a_b"; c.Collections["users"] = CollectionConfig{} }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestInvalidConfigFile(t *testing.T) {
	path := writeConfig(t, `{not json`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestMissingConfigFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
