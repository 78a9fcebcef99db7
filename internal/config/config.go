package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// AuthConfig configures the bearer token middleware. When both fields are
// empty the API is served without authentication.
type AuthConfig struct {
	JWTSecret    string   `yaml:"jwt_secret"`
	StaticTokens []string `yaml:"static_tokens"`
}

// CalendarConfig describes how to reach the external Google calendar.
//
// CredentialsFile (a service account key) takes precedence over the OAuth
// client settings. With neither configured, the external calendar is disabled
// and every lookup degrades to local data.
type CalendarConfig struct {
	CalendarID      string        `yaml:"calendar_id"`
	CredentialsFile string        `yaml:"credentials_file"`
	ClientID        string        `yaml:"client_id"`
	ClientSecret    string        `yaml:"client_secret"`
	RedirectURL     string        `yaml:"redirect_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Enabled reports whether any credential source is configured.
func (c CalendarConfig) Enabled() bool {
	return c.CredentialsFile != "" || c.OAuthEnabled()
}

// OAuthEnabled reports whether the OAuth connect flow can be used.
func (c CalendarConfig) OAuthEnabled() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURL != ""
}

type BookingConfig struct {
	SlotMinutes            int `yaml:"slot_minutes"`
	DefaultDurationMinutes int `yaml:"default_duration_minutes"`
}

func (b BookingConfig) SlotLength() time.Duration {
	return time.Duration(b.SlotMinutes) * time.Minute
}

func (b BookingConfig) DefaultDuration() time.Duration {
	return time.Duration(b.DefaultDurationMinutes) * time.Minute
}

// SyncConfig controls the calendar reconciliation loop.
type SyncConfig struct {
	// Schedule is a robfig/cron spec, e.g. "@every 10m" or "*/10 * * * *".
	// An empty schedule disables the background loop.
	Schedule             string `yaml:"schedule"`
	LookbackDays         int    `yaml:"lookback_days"`
	OwnerEmail           string `yaml:"owner_email"`
	OwnerName            string `yaml:"owner_name"`
	ReconcileBeforeSlots bool   `yaml:"reconcile_before_slots"`
	RunOnStart           bool   `yaml:"run_on_start"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	Timezone string         `yaml:"timezone"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Calendar CalendarConfig `yaml:"calendar"`
	Booking  BookingConfig  `yaml:"booking"`
	Sync     SyncConfig     `yaml:"sync"`
	Log      LogConfig      `yaml:"log"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   ":8080",
		Timezone: "UTC",
		Database: DatabaseConfig{MaxConns: 10},
		Calendar: CalendarConfig{
			CalendarID: "primary",
			Timeout:    15 * time.Second,
		},
		Booking: BookingConfig{
			SlotMinutes:            30,
			DefaultDurationMinutes: 30,
		},
		Sync: SyncConfig{
			Schedule:             "@every 10m",
			LookbackDays:         30,
			OwnerEmail:           "calendar@localhost",
			OwnerName:            "Calendar",
			ReconcileBeforeSlots: true,
			RunOnStart:           true,
		},
		Log: LogConfig{Level: "INFO"},
	}
}

// Normalize fills in missing/zero values so partially-filled files still
// behave.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = d.Database.MaxConns
	}
	if c.Calendar.CalendarID == "" {
		c.Calendar.CalendarID = d.Calendar.CalendarID
	}
	if c.Calendar.Timeout <= 0 {
		c.Calendar.Timeout = d.Calendar.Timeout
	}
	if c.Booking.SlotMinutes <= 0 {
		c.Booking.SlotMinutes = d.Booking.SlotMinutes
	}
	if c.Booking.DefaultDurationMinutes <= 0 {
		c.Booking.DefaultDurationMinutes = d.Booking.DefaultDurationMinutes
	}
	if c.Sync.LookbackDays <= 0 {
		c.Sync.LookbackDays = d.Sync.LookbackDays
	}
	if c.Sync.OwnerEmail == "" {
		c.Sync.OwnerEmail = d.Sync.OwnerEmail
	}
	if c.Sync.OwnerName == "" {
		c.Sync.OwnerName = d.Sync.OwnerName
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the business time zone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration in three layers: defaults, the YAML file at path
// (skipped when missing), then environment variables. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
			// defaults + env only
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	if port := os.Getenv("PORT"); port != "" {
		c.Listen = ":" + port
	}
	setString(&c.Timezone, "BUSINESS_TIMEZONE")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Auth.JWTSecret, "JWT_HMAC_SECRET")
	if v := strings.TrimSpace(os.Getenv("STATIC_TOKENS")); v != "" {
		c.Auth.StaticTokens = splitList(v)
	}
	setString(&c.Calendar.CalendarID, "CALENDAR_ID")
	setString(&c.Calendar.CredentialsFile, "GOOGLE_CREDENTIALS_FILE")
	setString(&c.Calendar.ClientID, "GOOGLE_CLIENT_ID")
	setString(&c.Calendar.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&c.Calendar.RedirectURL, "GOOGLE_REDIRECT_URL")
	setString(&c.Sync.Schedule, "SYNC_SCHEDULE")
	setString(&c.Sync.OwnerEmail, "SYNC_OWNER_EMAIL")
	if v := os.Getenv("SYNC_LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sync.LookbackDays = n
		}
	}
	setString(&c.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
