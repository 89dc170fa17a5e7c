package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Executor.ListenAddr != ":7420" {
		t.Fatalf("default listen addr: %q", cfg.Executor.ListenAddr)
	}
	if cfg.Executor.RequestTimeoutSeconds != 30 {
		t.Fatalf("default request timeout: %d", cfg.Executor.RequestTimeoutSeconds)
	}
	if cfg.Registry.Pool != "default" {
		t.Fatalf("default pool: %q", cfg.Registry.Pool)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor.json")
	raw := `{
		"executor": {
			"listen_addr": ":9000",
			"advertise_addr": "10.0.0.5:9000",
			"rate_per_second": 50,
			"rate_burst": 10
		},
		"registry": {
			"endpoints": ["etcd-1:2379", "etcd-2:2379"],
			"pool": "render"
		}
	}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Executor.ListenAddr != ":9000" || cfg.Executor.AdvertiseAddr != "10.0.0.5:9000" {
		t.Fatalf("executor addrs: %+v", cfg.Executor)
	}
	if cfg.Executor.RatePerSecond != 50 || cfg.Executor.RateBurst != 10 {
		t.Fatalf("rate settings: %+v", cfg.Executor)
	}
	// Untouched fields keep their defaults
	if cfg.Executor.RequestTimeoutSeconds != 30 {
		t.Fatalf("request timeout default lost: %d", cfg.Executor.RequestTimeoutSeconds)
	}
	if len(cfg.Registry.Endpoints) != 2 || cfg.Registry.Pool != "render" {
		t.Fatalf("registry: %+v", cfg.Registry)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expect error for missing config file")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expect error for malformed config file")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("EXECUTOR_LISTEN_ADDR", ":8111")
	t.Setenv("EXECUTOR_POOL", "staging")
	t.Setenv("ETCD_ENDPOINTS", "e1:2379,e2:2379")

	cfg := Default()
	if cfg.Executor.ListenAddr != ":8111" {
		t.Fatalf("env listen addr not applied: %q", cfg.Executor.ListenAddr)
	}
	if cfg.Registry.Pool != "staging" {
		t.Fatalf("env pool not applied: %q", cfg.Registry.Pool)
	}
	if len(cfg.Registry.Endpoints) != 2 {
		t.Fatalf("env endpoints not split: %v", cfg.Registry.Endpoints)
	}
}
