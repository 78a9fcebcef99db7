package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.Booking.SlotLength() != 30*time.Minute {
		t.Errorf("SlotLength = %v, want 30m", cfg.Booking.SlotLength())
	}
	if cfg.Sync.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want 30", cfg.Sync.LookbackDays)
	}
	if cfg.Calendar.Enabled() {
		t.Error("calendar should be disabled without credentials")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: ":9000"
timezone: America/Chicago
booking:
  default_duration_minutes: 60
calendar:
  timeout: 5s
  credentials_file: /etc/bookingsync/sa.json
sync:
  schedule: "*/5 * * * *"
  lookback_days: 0
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "7000")
	t.Setenv("STATIC_TOKENS", "a, b,,c")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want env override :7000", cfg.Listen)
	}
	if cfg.Location().String() != "America/Chicago" {
		t.Errorf("Location = %v", cfg.Location())
	}
	if cfg.Booking.DefaultDuration() != time.Hour {
		t.Errorf("DefaultDuration = %v, want 1h", cfg.Booking.DefaultDuration())
	}
	if cfg.Booking.SlotMinutes != 30 {
		t.Errorf("SlotMinutes = %d, want default 30", cfg.Booking.SlotMinutes)
	}
	if cfg.Calendar.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Calendar.Timeout)
	}
	if !cfg.Calendar.Enabled() || cfg.Calendar.OAuthEnabled() {
		t.Errorf("calendar enabled=%v oauth=%v", cfg.Calendar.Enabled(), cfg.Calendar.OAuthEnabled())
	}
	if cfg.Sync.Schedule != "*/5 * * * *" {
		t.Errorf("Schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.Sync.LookbackDays != 30 {
		t.Errorf("LookbackDays = %d, want normalized 30", cfg.Sync.LookbackDays)
	}
	if got := cfg.Auth.StaticTokens; len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("StaticTokens = %v", got)
	}
}

func TestLoad_InvalidTimezone(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BUSINESS_TIMEZONE", "Mars/Olympus")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
