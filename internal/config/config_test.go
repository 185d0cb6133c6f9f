package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseOverridesOnlyDefinedKeys(t *testing.T) {
	base := Default()
	base.EditorPort = 4000
	base.Browser = "firefox"

	cfg, err := Parse(base, `
highlight_theme = "monokai"
dial_timeout = "500ms"
no_browser = true
`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HighlightTheme != "monokai" {
		t.Fatalf("unexpected theme: %q", cfg.HighlightTheme)
	}
	if cfg.DialTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected dial timeout: %v", cfg.DialTimeout)
	}
	if !cfg.NoBrowser {
		t.Fatalf("expected no_browser to be applied")
	}
	if cfg.Browser != "firefox" {
		t.Fatalf("undefined key overwrote browser: %q", cfg.Browser)
	}
	if cfg.Addr != DefaultAddr {
		t.Fatalf("undefined key overwrote addr: %q", cfg.Addr)
	}
	if cfg.EditorPort != 4000 {
		t.Fatalf("port changed: %d", cfg.EditorPort)
	}
}

func TestParseRejectsUnknownKeysAndBadDurations(t *testing.T) {
	if _, err := Parse(Default(), `nvim_port = 1`); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := Parse(Default(), `dial_timeout = "soon"`); err == nil {
		t.Fatalf("expected duration error")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composer.toml")
	body := "addr = \"127.0.0.1:8090\"\nroot = \"/tmp/docs\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := LoadFile(Default(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:8090" || cfg.Root != "/tmp/docs" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	if _, err := LoadFile(Default(), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.EditorPort = 8080

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
		ok      bool
	}{
		{name: "valid", mutate: func(*Config) {}, ok: true},
		{name: "missing port", mutate: func(c *Config) { c.EditorPort = 0 }, wantErr: ErrMissingPort},
		{name: "unknown theme", mutate: func(c *Config) { c.HighlightTheme = "no-such-theme" }, wantErr: ErrUnknownTheme},
		{name: "empty theme", mutate: func(c *Config) { c.HighlightTheme = "" }, ok: true},
		{name: "zero timeout", mutate: func(c *Config) { c.DialTimeout = 0 }},
		{name: "empty addr", mutate: func(c *Config) { c.Addr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
