package network

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// WriteTimeout bounds how long Send may stall the caller.
	WriteTimeout = 250 * time.Millisecond

	readChunkSize = 4096
	// maxInboxSize caps bytes received but not yet consumed by Recv.
	maxInboxSize = 1 << 20
)

var errInboxFull = errors.New("network: receive queue full")

// Connection is a TCP StreamSocket. A background reader moves bytes from the
// kernel into an inbox that Recv drains without blocking.
type Connection struct {
	mu     sync.Mutex
	conn   net.Conn
	remote string
	logger zerolog.Logger

	state   ConnectionState
	err     error // connect or read error, reported once the inbox is empty
	inbox   bytes.Buffer
	closed  bool
	started time.Time
}

func newPendingConn(addr string, logger zerolog.Logger) *Connection {
	return &Connection{
		remote:  addr,
		state:   StatePending,
		started: time.Now(),
		logger:  logger.With().Str("remote", addr).Logger(),
	}
}

func newConnectedConn(conn net.Conn, logger zerolog.Logger) *Connection {
	c := newPendingConn(conn.RemoteAddr().String(), logger)
	c.attach(conn)
	return c
}

// attach completes the connect and starts the reader.
func (c *Connection) attach(conn net.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	c.logger.Debug().Dur("connect_time", time.Since(c.started)).Msg("connection established")
	go c.readLoop()
}

// fail marks a connect attempt as failed.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateError
	c.err = err
}

func (c *Connection) readLoop() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)

		c.mu.Lock()
		if n > 0 {
			c.inbox.Write(buf[:n])
			if c.inbox.Len() > maxInboxSize && err == nil {
				err = errInboxFull
			}
		}
		if err != nil {
			if c.err == nil && !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			if errors.Is(err, errInboxFull) {
				c.conn.Close()
			}
			return
		}
		c.mu.Unlock()
	}
}

// Send writes data. It returns ErrWouldBlock while the connect is pending.
func (c *Connection) Send(data []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	switch c.state {
	case StatePending:
		c.mu.Unlock()
		return 0, ErrWouldBlock
	case StateError:
		err := c.err
		c.mu.Unlock()
		return 0, err
	}
	conn := c.conn
	c.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	n, err := conn.Write(data)
	if err != nil {
		return n, fmt.Errorf("failed to write to %s: %w", c.remote, err)
	}
	return n, nil
}

// Recv copies buffered bytes into buf.
func (c *Connection) Recv(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if c.inbox.Len() > 0 {
		n, _ := c.inbox.Read(buf)
		return n, nil
	}
	if c.err != nil {
		return 0, c.err
	}
	return 0, ErrWouldBlock
}

// ConnectionState reports the connect progress.
func (c *Connection) ConnectionState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	return c.remote
}

// Close closes the connection. A connect still in flight is closed as soon
// as it completes.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.inbox.Reset()
	if c.conn == nil {
		return nil
	}
	c.logger.Debug().Msg("connection closed")
	return c.conn.Close()
}
