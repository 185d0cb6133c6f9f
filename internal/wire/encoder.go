package wire

import (
	"bufio"
	"fmt"
	"io"

	"github.com/neovim/go-client/msgpack"
)

// Encoder writes document snapshots as MessagePack string frames.
type Encoder struct {
	w   *bufio.Writer
	enc *msgpack.Encoder
}

func NewEncoder(w io.Writer) *Encoder {
	bw := bufio.NewWriter(w)
	return &Encoder{w: bw, enc: msgpack.NewEncoder(bw)}
}

// Encode writes one frame and flushes it to the underlying writer.
func (e *Encoder) Encode(document string) error {
	if err := e.enc.Encode(document); err != nil {
		return fmt.Errorf("wire: encode frame: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("wire: flush frame: %w", err)
	}
	return nil
}
