package ingest

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"markdown-composer/internal/wire"
)

// ConnectError reports that no editor was listening on the port.
type ConnectError struct {
	Port uint16
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("no listener on port %d: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn is the single client connection to the editor.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Connect dials the editor on the loopback interface. It does not retry.
func Connect(ctx context.Context, port uint16, timeout time.Duration) (*Conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port)))

	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Port: port, Err: err}
	}

	return &Conn{
		conn:   c,
		reader: bufio.NewReaderSize(c, wire.ReadBufferSize),
	}, nil
}

// Reader returns the buffered stream positioned at the first frame.
func (c *Conn) Reader() *bufio.Reader {
	return c.reader
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}
