package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "zero quota",
			mutate: func(cfg *Config) {
				cfg.ReviewQuota = 0
			},
			wantErr: "review quota",
		},
		{
			name: "negative max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = -1
			},
			wantErr: "max pages",
		},
		{
			name: "empty base url",
			mutate: func(cfg *Config) {
				cfg.BaseURL = ""
			},
			wantErr: "base URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.BaseURL = "http://"
			},
			wantErr: "base URL",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "negative feed wait",
			mutate: func(cfg *Config) {
				cfg.FeedTimeout = -1
			},
			wantErr: "wait timeouts",
		},
		{
			name: "unknown format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "email without password",
			mutate: func(cfg *Config) {
				cfg.Email = "reader@example.test"
			},
			wantErr: "email and password",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.ReviewQuota != 100 {
		t.Fatalf("default quota = %d, want 100", cfg.ReviewQuota)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("HARVEST_QUOTA", "40")
	t.Setenv("HARVEST_BAD", "forty")
	t.Setenv("HARVEST_PAUSE", "250ms")
	t.Setenv("HARVEST_BLANK", "  ")

	if v, ok, err := EnvInt("HARVEST_QUOTA"); err != nil || !ok || v != 40 {
		t.Fatalf("EnvInt = %d, %v, %v", v, ok, err)
	}
	if _, _, err := EnvInt("HARVEST_BAD"); err == nil {
		t.Fatalf("expected parse error for HARVEST_BAD")
	}
	if _, ok, err := EnvInt("HARVEST_UNSET"); ok || err != nil {
		t.Fatalf("unset variable reported ok=%v err=%v", ok, err)
	}
	if v, ok, err := EnvDuration("HARVEST_PAUSE"); err != nil || !ok || v != 250*time.Millisecond {
		t.Fatalf("EnvDuration = %v, %v, %v", v, ok, err)
	}
	if _, ok := EnvString("HARVEST_BLANK"); ok {
		t.Fatalf("blank variable should be treated as unset")
	}
}

func TestNewLoggerWithWriters(t *testing.T) {
	var console, file bytes.Buffer
	logger := NewLoggerWithWriters(&console, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("book done", slog.Int("book_id", 7))

	if strings.Contains(console.String(), "hidden") {
		t.Fatalf("debug record leaked to console: %s", console.String())
	}
	if !strings.Contains(console.String(), "book_id=7") {
		t.Fatalf("console output = %q", console.String())
	}
	var record map[string]any
	if err := json.Unmarshal(file.Bytes(), &record); err != nil {
		t.Fatalf("file output is not json: %v", err)
	}
	if record["msg"] != "book done" {
		t.Fatalf("file record = %v", record)
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	logger, level, cleanup, err := NewLogger(true, path)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if level.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", level.Level())
	}
	logger.Debug("written")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
}
