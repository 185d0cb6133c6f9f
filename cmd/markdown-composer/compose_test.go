package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"markdown-composer/internal/config"
	"markdown-composer/internal/editor"
	"markdown-composer/internal/ingest"
)

type recordingLauncher struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (l *recordingLauncher) Open(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.urls = append(l.urls, url)
	return l.err
}

func parseComposeFlags(t *testing.T, argv ...string) (*cobra.Command, composeFlags) {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	var flags composeFlags
	bindComposeFlags(cmd, &flags)
	if err := cmd.ParseFlags(argv); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return cmd, flags
}

func testConfig(port uint16) config.Config {
	cfg := config.Default()
	cfg.EditorPort = port
	cfg.DialTimeout = time.Second
	return cfg
}

func TestResolveConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "composer.toml")
	body := "highlight_theme = \"monokai\"\nbrowser = \"chromium\"\nno_browser = true\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd, flags := parseComposeFlags(t, "--config", path, "--browser", "firefox", "--root", "/docs")
	cfg, err := resolveConfig(cmd, flags, []string{"7800", "# initial"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if cfg.EditorPort != 7800 {
		t.Fatalf("unexpected port: %d", cfg.EditorPort)
	}
	if !cfg.HasInitial || cfg.InitialMarkdown != "# initial" {
		t.Fatalf("unexpected initial markdown: %+v", cfg)
	}
	if cfg.HighlightTheme != "monokai" {
		t.Fatalf("file value lost: %q", cfg.HighlightTheme)
	}
	if cfg.Browser != "firefox" {
		t.Fatalf("flag did not override file: %q", cfg.Browser)
	}
	if !cfg.NoBrowser {
		t.Fatalf("unset flag overrode file value")
	}
	if cfg.Root != "/docs" {
		t.Fatalf("unexpected root: %q", cfg.Root)
	}
}

func TestResolveConfigRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		args []string
	}{
		{name: "non numeric port", args: []string{"abc"}},
		{name: "port out of range", args: []string{"70000"}},
		{name: "zero port", args: []string{"0"}},
		{name: "unknown theme", argv: []string{"--highlight-theme", "nope"}, args: []string{"7800"}},
		{name: "missing config file", argv: []string{"--config", "/does/not/exist.toml"}, args: []string{"7800"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, flags := parseComposeFlags(t, tt.argv...)
			if _, err := resolveConfig(cmd, flags, tt.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestExitCodes(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		err  error
		want int
	}{
		{err: nil, want: exitOK},
		{err: fatalError(boom), want: exitFatal},
		{err: loggedFatalError(boom), want: exitFatal},
		{err: usageError(boom), want: exitUsage},
		{err: boom, want: exitUsage},
	}
	for _, tt := range tests {
		if got := exitCode(tt.err); got != tt.want {
			t.Fatalf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRootCommandUsageErrors(t *testing.T) {
	for _, args := range [][]string{{}, {"1", "2", "3"}, {"not-a-port", "--no-browser"}} {
		cmd := newRootCmd()
		cmd.SetArgs(args)
		cmd.SetOut(&strings.Builder{})
		cmd.SetErr(&strings.Builder{})
		if code := exitCode(cmd.Execute()); code != exitUsage {
			t.Fatalf("args %v: exit code %d, want %d", args, code, exitUsage)
		}
	}
}

func TestComposeCleanDisconnect(t *testing.T) {
	pub, err := editor.Listen("127.0.0.1:0", zerolog.Nop())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer pub.Close()

	cfg := testConfig(pub.Port())
	cfg.HasInitial = true
	cfg.InitialMarkdown = "# initial"

	launcher := &recordingLauncher{err: errors.New("no display")}
	done := make(chan error, 1)
	go func() { done <- compose(context.Background(), cfg, launcher, zerolog.Nop()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pub.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}
	for _, doc := range []string{"# A", "# B"} {
		if err := pub.Publish(doc); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := pub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-done:
		if code := exitCode(err); code != exitOK {
			t.Fatalf("expected exit 0, got %d (%v)", code, err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("compose did not return after disconnect")
	}

	launcher.mu.Lock()
	defer launcher.mu.Unlock()
	if len(launcher.urls) != 1 || !strings.HasPrefix(launcher.urls[0], "http://127.0.0.1:") {
		t.Fatalf("launcher should be invoked once with the preview url: %v", launcher.urls)
	}
}

func TestComposeWithoutEditorFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()

	err = compose(context.Background(), testConfig(port), nil, zerolog.Nop())
	if code := exitCode(err); code != exitFatal {
		t.Fatalf("expected exit %d, got %d", exitFatal, code)
	}
	var connectErr *ingest.ConnectError
	if !errors.As(err, &connectErr) || connectErr.Port != port {
		t.Fatalf("expected connect error for port %d, got %v", port, err)
	}
}

func TestComposeMalformedStreamFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// fixstr "# A" followed by a positive fixint
		_, _ = conn.Write([]byte{0xa3, '#', ' ', 'A', 0x07})
	}()

	err = compose(context.Background(), testConfig(uint16(ln.Addr().(*net.TCPAddr).Port)), nil, zerolog.Nop())
	if code := exitCode(err); code != exitFatal {
		t.Fatalf("expected exit %d, got %d", exitFatal, code)
	}
	var malformed *ingest.MalformedStreamError
	if !errors.As(err, &malformed) || malformed.Frames != 1 {
		t.Fatalf("expected malformed stream after 1 frame, got %v", err)
	}
}
