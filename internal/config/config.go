package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alecthomas/chroma/styles"
)

const (
	DefaultAddr           = "127.0.0.1:0"
	DefaultHighlightTheme = "github"
	DefaultDialTimeout    = 2 * time.Second
	DefaultLogLevel       = "info"
)

var (
	ErrMissingPort  = errors.New("config: editor port is required")
	ErrUnknownTheme = errors.New("config: unknown highlight theme")
)

// Config is the process startup configuration.
type Config struct {
	// EditorPort is the port the editor listens on for the composer.
	EditorPort uint16
	// InitialMarkdown is published before any frame arrives.
	InitialMarkdown string
	HasInitial      bool

	NoBrowser      bool
	Browser        string
	HighlightTheme string

	// Addr is the preview HTTP listen address. Port 0 picks a free port.
	Addr string
	// Root resolves relative image paths in the document.
	Root string

	DialTimeout time.Duration
	LogLevel    string
}

func Default() Config {
	return Config{
		HighlightTheme: DefaultHighlightTheme,
		Addr:           DefaultAddr,
		DialTimeout:    DefaultDialTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

type fileConfig struct {
	NoBrowser      bool   `toml:"no_browser"`
	Browser        string `toml:"browser"`
	HighlightTheme string `toml:"highlight_theme"`
	Addr           string `toml:"addr"`
	Root           string `toml:"root"`
	LogLevel       string `toml:"log_level"`
	DialTimeout    string `toml:"dial_timeout"`
}

// LoadFile applies the keys present in the TOML file at path on top of cfg.
func LoadFile(cfg Config, path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return apply(cfg, raw, meta)
}

// Parse is LoadFile for in-memory TOML.
func Parse(cfg Config, data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return apply(cfg, raw, meta)
}

func apply(cfg Config, raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("no_browser") {
		cfg.NoBrowser = raw.NoBrowser
	}
	if meta.IsDefined("browser") {
		cfg.Browser = strings.TrimSpace(raw.Browser)
	}
	if meta.IsDefined("highlight_theme") {
		cfg.HighlightTheme = strings.TrimSpace(raw.HighlightTheme)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("root") {
		cfg.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("dial_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.DialTimeout))
		if err != nil {
			return Config{}, fmt.Errorf("parse dial_timeout: %w", err)
		}
		cfg.DialTimeout = d
	}

	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.EditorPort == 0 {
		return ErrMissingPort
	}
	if c.Addr == "" {
		return errors.New("config: preview addr is empty")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("config: dial timeout must be positive, got %s", c.DialTimeout)
	}
	if c.HighlightTheme != "" {
		if _, ok := styles.Registry[c.HighlightTheme]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTheme, c.HighlightTheme)
		}
	}
	return nil
}
