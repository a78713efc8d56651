package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Sessions.AdminTTL != 24*time.Hour || cfg.Sessions.StaffTTL != 8*time.Hour {
		t.Fatalf("session TTLs = %s / %s", cfg.Sessions.AdminTTL, cfg.Sessions.StaffTTL)
	}
	if cfg.Cleanup.Interval != 10*time.Minute {
		t.Fatalf("cleanup interval = %s", cfg.Cleanup.Interval)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
sessions:
  admin_ttl: 12h
  staff_ttl: 6h
throttle:
  burst: 5
  per_second: 2
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Sessions.AdminTTL != 12*time.Hour || cfg.Sessions.StaffTTL != 6*time.Hour {
		t.Fatalf("session TTLs = %s / %s", cfg.Sessions.AdminTTL, cfg.Sessions.StaffTTL)
	}
	if cfg.Throttle.Burst != 5 || cfg.Throttle.PerSecond != 2 {
		t.Fatalf("throttle = %+v", cfg.Throttle)
	}
	// Untouched sections keep their defaults.
	if cfg.Cleanup.Interval != 10*time.Minute {
		t.Fatalf("cleanup interval = %s", cfg.Cleanup.Interval)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TABLY_ADDR", ":7070")
	t.Setenv("TABLY_STAFF_SESSION_TTL", "4h")
	t.Setenv("TABLY_THROTTLE_BURST", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Sessions.StaffTTL != 4*time.Hour {
		t.Fatalf("staff TTL = %s", cfg.Sessions.StaffTTL)
	}
	if cfg.Throttle.Burst != 42 {
		t.Fatalf("burst = %d", cfg.Throttle.Burst)
	}
}

func TestValidateRejectsStaffTTLOverAdminTTL(t *testing.T) {
	t.Setenv("TABLY_STAFF_SESSION_TTL", "48h")
	if _, err := Load(""); err == nil {
		t.Fatal("staff TTL above admin TTL must be rejected")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("explicit missing file must be an error")
	}
}
