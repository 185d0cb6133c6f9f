// Package wire decodes the document snapshots an editor streams to the
// composer: one MessagePack string per frame, no framing beyond the
// MessagePack type and length prefix.
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/neovim/go-client/msgpack"
)

const (
	// DefaultMaxFrameBytes bounds the declared payload of a single frame.
	DefaultMaxFrameBytes = 64 << 20

	// ReadBufferSize is the size of the buffered reader shared with the
	// MessagePack decoder. It must stay at least as large as the decoder's
	// own default so the decoder reuses our reader instead of wrapping it.
	ReadBufferSize = 64 << 10

	markerStr32 = 0xdb
)

var (
	ErrTruncated      = errors.New("wire: truncated frame")
	ErrUnexpectedType = errors.New("wire: unexpected value type")
	ErrInvalidUTF8    = errors.New("wire: invalid utf-8 in string payload")
	ErrFrameTooLarge  = errors.New("wire: frame too large")
)

// Kind tags an Outcome.
type Kind int

const (
	KindMessage Kind = iota
	KindPeerClosed
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindPeerClosed:
		return "peer_closed"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Outcome is the result of decoding one frame. Text is set only for
// KindMessage and Cause only for KindMalformed.
type Outcome struct {
	Kind  Kind
	Text  string
	Cause error
}

func Message(text string) Outcome { return Outcome{Kind: KindMessage, Text: text} }

func PeerClosed() Outcome { return Outcome{Kind: KindPeerClosed} }

func Malformed(cause error) Outcome { return Outcome{Kind: KindMalformed, Cause: cause} }

// Terminal reports whether no further frames can follow this outcome.
func (o Outcome) Terminal() bool {
	return o.Kind != KindMessage
}

// Decoder reads document frames from a buffered stream.
type Decoder struct {
	r   *bufio.Reader
	dec *msgpack.Decoder

	maxFrameBytes uint32

	// done latches the first terminal outcome; once set the stream is
	// never read again.
	done *Outcome
}

// NewDecoder returns a decoder reading from r. r must be positioned on a
// frame boundary.
func NewDecoder(r *bufio.Reader) *Decoder {
	return &Decoder{
		r:             r,
		dec:           msgpack.NewDecoder(r),
		maxFrameBytes: DefaultMaxFrameBytes,
	}
}

// SetMaxFrameBytes overrides the payload size limit. Zero restores the default.
func (d *Decoder) SetMaxFrameBytes(n uint32) {
	if n == 0 {
		n = DefaultMaxFrameBytes
	}
	d.maxFrameBytes = n
}

// Next decodes the next frame.
//
// End-of-stream is only clean when it is observed before the first byte
// of a frame. The decoder checks that position itself by peeking the
// marker byte, so any failure after the marker is available counts as a
// malformed frame regardless of which error value the underlying reader
// or MessagePack decoder reports.
func (d *Decoder) Next() Outcome {
	if d.done != nil {
		return *d.done
	}

	out := d.next()
	if out.Terminal() {
		d.done = &out
	}
	return out
}

func (d *Decoder) next() Outcome {
	head, err := d.r.Peek(1)
	if len(head) == 0 {
		if errors.Is(err, io.EOF) {
			return PeerClosed()
		}
		return Malformed(fmt.Errorf("wire: read frame marker: %w", err))
	}

	marker := head[0]
	if marker == markerStr32 {
		if out, ok := d.checkDeclaredLength(); !ok {
			return out
		}
	}

	if err := d.dec.Unpack(); err != nil {
		return Malformed(fmt.Errorf("%w: %v", ErrTruncated, err))
	}

	if t := d.dec.Type(); t != msgpack.String {
		return Malformed(fmt.Errorf("%w: got %v (marker 0x%02x), want string", ErrUnexpectedType, t, marker))
	}

	payload := d.dec.Bytes()
	if !utf8.Valid(payload) {
		return Malformed(fmt.Errorf("%w (%d bytes)", ErrInvalidUTF8, len(payload)))
	}

	return Message(string(payload))
}

// checkDeclaredLength rejects oversized str32 frames before the payload
// is allocated.
func (d *Decoder) checkDeclaredLength() (Outcome, bool) {
	header, err := d.r.Peek(5)
	if err != nil {
		return Malformed(fmt.Errorf("%w: str32 length prefix: %v", ErrTruncated, err)), false
	}

	n := binary.BigEndian.Uint32(header[1:5])
	if n > d.maxFrameBytes {
		return Malformed(fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, n, d.maxFrameBytes)), false
	}
	return Outcome{}, true
}
