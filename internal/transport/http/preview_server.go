// Package httpserver serves the preview page and pushes rendered documents
// to connected browsers over WebSocket.
package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"markdown-composer/internal/contracts"
	"markdown-composer/internal/telemetry"
)

const writeTimeout = 5 * time.Second

var ErrNotStarted = errors.New("httpserver: preview server not started")

type renderPayload struct {
	html  string
	title string
}

// PreviewServer coordinates HTTP serving and WebSocket updates.
type PreviewServer struct {
	addr  string
	shell string
	log   zerolog.Logger

	mu       sync.Mutex
	started  bool
	listener net.Listener
	server   *http.Server
	pending  *renderPayload

	notify     chan struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stopLoop   chan struct{}
	loopDone   chan struct{}

	upgrader websocket.Upgrader
}

// NewPreviewServer creates an HTTP/WebSocket preview server bound to addr.
func NewPreviewServer(addr string, shell string, logger zerolog.Logger) *PreviewServer {
	return &PreviewServer{
		addr:  addr,
		shell: shell,
		log:   logger,

		notify:     make(chan struct{}, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stopLoop:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Start binds the listener and begins serving. The URL is valid once
// Start returns.
func (m *PreviewServer) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", m.addr, err)
	}

	m.listener = ln
	m.server = &http.Server{Handler: m.routes(), ReadHeaderTimeout: 10 * time.Second}
	m.started = true

	go m.runLoop()
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error().Err(err).Msg("preview server stopped")
		}
	}()

	m.log.Info().Str("url", m.urlLocked()).Msg("preview server listening")
	return nil
}

func (m *PreviewServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/", telemetry.Instrument("index", http.HandlerFunc(m.handleIndex)))
	r.Method(http.MethodGet, "/healthz", telemetry.Instrument("healthz", http.HandlerFunc(m.handleHealth)))
	r.Method(http.MethodGet, "/metrics", telemetry.MetricsHandler())
	r.Handle("/@mdfs/*", telemetry.Instrument("asset", http.HandlerFunc(m.handleAsset)))
	// Not instrumented: the upgrader needs the raw ResponseWriter to hijack.
	r.Get("/ws", m.handleWS)

	return r
}

// URL returns the browser URL for the preview server.
func (m *PreviewServer) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.urlLocked()
}

func (m *PreviewServer) urlLocked() string {
	if m.listener != nil {
		return "http://" + m.listener.Addr().String()
	}
	return "http://" + m.addr
}

// Publish hands a rendered fragment to the run loop and returns without
// waiting for browsers. If several fragments arrive before the loop runs,
// browsers only receive the newest.
func (m *PreviewServer) Publish(fragment string, title string) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.pending = &renderPayload{html: fragment, title: title}
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *PreviewServer) takePending() *renderPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pending
	m.pending = nil
	return p
}

// Stop gracefully shuts down the HTTP server and run loop.
func (m *PreviewServer) Stop() error {
	m.mu.Lock()
	if !m.started || m.server == nil {
		m.mu.Unlock()
		return nil
	}
	server := m.server
	m.started = false
	m.server = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := server.Shutdown(ctx)

	close(m.stopLoop)
	<-m.loopDone
	return err
}

// handleIndex serves the initial HTML shell.
func (m *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(m.shell))
}

func (m *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

// handleWS upgrades the connection and holds it until the browser leaves.
func (m *PreviewServer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	select {
	case m.register <- conn:
	case <-m.stopLoop:
		_ = conn.Close()
		return
	}
	defer func() {
		select {
		case m.unregister <- conn:
		case <-m.stopLoop:
		}
	}()

	// Browsers send nothing we act on; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleAsset serves local markdown assets via encoded absolute paths.
func (m *PreviewServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := chi.URLParam(r, "*")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	decoded, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	assetPath := filepath.Clean(string(decoded))
	if assetPath == "." || !filepath.IsAbs(assetPath) {
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(assetPath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, assetPath)
}

// runLoop serializes state updates and websocket writes on a single goroutine.
func (m *PreviewServer) runLoop() {
	defer close(m.loopDone)

	clients := make(map[*websocket.Conn]struct{})
	lastRender := contracts.RenderMessage{Type: contracts.MessageTypeRender}

	drop := func(conn *websocket.Conn) {
		if _, ok := clients[conn]; !ok {
			return
		}
		delete(clients, conn)
		_ = conn.Close()
		telemetry.BrowserClients.Set(float64(len(clients)))
	}

	for {
		select {
		case <-m.notify:
			update := m.takePending()
			if update == nil {
				continue
			}
			lastRender.Rev++
			lastRender.HTML = update.html
			lastRender.Title = update.title

			for conn := range clients {
				if !writeJSON(conn, lastRender) {
					drop(conn)
				}
			}

		case conn := <-m.register:
			clients[conn] = struct{}{}
			telemetry.BrowserClients.Set(float64(len(clients)))
			m.log.Debug().Str("remote", conn.RemoteAddr().String()).Int("clients", len(clients)).Msg("browser connected")

			if lastRender.Rev > 0 && !writeJSON(conn, lastRender) {
				drop(conn)
			}

		case conn := <-m.unregister:
			drop(conn)

		case <-m.stopLoop:
			for conn := range clients {
				drop(conn)
			}
			return
		}
	}
}

// writeJSON writes a JSON message and reports whether the connection is usable.
func writeJSON(conn *websocket.Conn, v any) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		_ = conn.Close()
		return false
	}
	return true
}
