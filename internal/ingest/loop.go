// Package ingest connects to the editor and feeds each decoded document
// snapshot to the preview renderer.
package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"markdown-composer/internal/contracts"
	"markdown-composer/internal/telemetry"
	"markdown-composer/internal/wire"
)

type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateReceiving
	StateDispatching
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateDispatching:
		return "dispatching"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MalformedStreamError aborts ingestion after a frame could not be decoded.
type MalformedStreamError struct {
	// Frames is the number of snapshots dispatched before the bad frame.
	Frames int
	Err    error
}

func (e *MalformedStreamError) Error() string {
	return fmt.Sprintf("malformed editor stream after %d frames: %v", e.Frames, e.Err)
}

func (e *MalformedStreamError) Unwrap() error { return e.Err }

// Termination describes how the loop ended.
type Termination struct {
	Clean  bool
	Frames int
	Cause  error
}

// Loop decodes frames from one connection and dispatches them in order.
type Loop struct {
	decoder  *wire.Decoder
	renderer contracts.Renderer
	log      zerolog.Logger

	state  atomic.Int32
	frames int
}

func NewLoop(r *bufio.Reader, renderer contracts.Renderer, logger zerolog.Logger) *Loop {
	l := &Loop{
		decoder:  wire.NewDecoder(r),
		renderer: renderer,
		log:      logger,
	}
	l.state.Store(int32(StateConnected))
	return l
}

// SetMaxFrameBytes forwards the payload limit to the decoder.
func (l *Loop) SetMaxFrameBytes(n uint32) {
	l.decoder.SetMaxFrameBytes(n)
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.log.Trace().Stringer("state", s).Int("frames", l.frames).Msg("ingest state")
}

// Run blocks until the editor disconnects cleanly or the stream turns out
// to be malformed. A clean disconnect returns a nil error.
func (l *Loop) Run() (Termination, error) {
	for {
		l.setState(StateReceiving)
		out := l.decoder.Next()
		telemetry.ObserveFrame(out.Kind.String(), len(out.Text))

		switch out.Kind {
		case wire.KindMessage:
			l.setState(StateDispatching)
			l.renderer.Update(out.Text)
			l.frames++
			l.log.Debug().Int("bytes", len(out.Text)).Int("frame", l.frames).Msg("dispatched snapshot")

		case wire.KindPeerClosed:
			l.setState(StateTerminated)
			return Termination{Clean: true, Frames: l.frames}, nil

		default:
			l.setState(StateTerminated)
			err := &MalformedStreamError{Frames: l.frames, Err: out.Cause}
			return Termination{Frames: l.frames, Cause: err}, err
		}
	}
}

// Options configures Run.
type Options struct {
	Port          uint16
	DialTimeout   time.Duration
	MaxFrameBytes uint32
	Renderer      contracts.Renderer
	Logger        zerolog.Logger

	// OnConnected, if set, observes the loop before the first read.
	OnConnected func(*Loop)
}

// Run connects to the editor and runs the ingestion loop to completion.
// ctx bounds only the dial.
func Run(ctx context.Context, opts Options) (Termination, error) {
	if opts.Renderer == nil {
		return Termination{}, errors.New("ingest: renderer is required")
	}

	log := opts.Logger.With().Uint16("port", opts.Port).Logger()
	log.Debug().Stringer("state", StateConnecting).Msg("ingest state")

	conn, err := Connect(ctx, opts.Port, opts.DialTimeout)
	if err != nil {
		return Termination{Cause: err}, err
	}
	defer conn.Close()

	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("connected to editor")

	loop := NewLoop(conn.Reader(), opts.Renderer, log)
	if opts.MaxFrameBytes > 0 {
		loop.SetMaxFrameBytes(opts.MaxFrameBytes)
	}
	if opts.OnConnected != nil {
		opts.OnConnected(loop)
	}

	term, err := loop.Run()
	if err != nil {
		return term, err
	}

	log.Info().Int("frames", term.Frames).Msg("editor disconnected")
	return term, nil
}
