// Package editor is the editor side of the composer protocol: it listens
// for the composer and streams document snapshots to it.
package editor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"markdown-composer/internal/wire"
)

var ErrNotConnected = errors.New("editor: no composer connected")

// Publisher accepts a single composer connection and writes frames to it.
type Publisher struct {
	ln  net.Listener
	log zerolog.Logger

	mu        sync.Mutex
	conn      net.Conn
	enc       *wire.Encoder
	last      string
	published bool
}

// Listen binds addr. Use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, logger zerolog.Logger) (*Publisher, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("editor: listen %s: %w", addr, err)
	}
	return &Publisher{ln: ln, log: logger}, nil
}

func (p *Publisher) Addr() net.Addr {
	return p.ln.Addr()
}

// Port returns the bound TCP port.
func (p *Publisher) Port() uint16 {
	if addr, ok := p.ln.Addr().(*net.TCPAddr); ok {
		return uint16(addr.Port)
	}
	return 0
}

// Accept waits for the composer to connect, then stops listening.
func (p *Publisher) Accept(ctx context.Context) error {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := p.ln.Accept()
		done <- result{conn: c, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		_ = p.ln.Close()
		<-done
		return ctx.Err()
	}
	_ = p.ln.Close()
	if res.err != nil {
		return fmt.Errorf("editor: accept: %w", res.err)
	}

	p.mu.Lock()
	p.conn = res.conn
	p.enc = wire.NewEncoder(res.conn)
	p.mu.Unlock()

	p.log.Info().Str("remote", res.conn.RemoteAddr().String()).Msg("composer connected")
	return nil
}

// Publish sends doc as one frame.
func (p *Publisher) Publish(doc string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishLocked(doc)
}

// PublishChanged sends doc only if it differs from the last published
// snapshot. It reports whether a frame was written.
func (p *Publisher) PublishChanged(doc string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.published && doc == p.last {
		return false, nil
	}
	if err := p.publishLocked(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Publisher) publishLocked(doc string) error {
	if p.enc == nil {
		return ErrNotConnected
	}
	if err := p.enc.Encode(doc); err != nil {
		return err
	}
	p.last = doc
	p.published = true
	p.log.Debug().Int("bytes", len(doc)).Msg("published snapshot")
	return nil
}

// Close ends the session between frames, which the composer treats as a
// clean disconnect.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	_ = p.ln.Close()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.enc = nil
	return err
}
