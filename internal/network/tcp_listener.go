package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultDialTimeout bounds a single connect attempt.
	DefaultDialTimeout = 10 * time.Second

	acceptRetryDelay = 5 * time.Millisecond
	keepAlivePeriod  = 15 * time.Second
)

// TCPFactory is the SocketFactory backed by real TCP sockets.
type TCPFactory struct {
	DialTimeout time.Duration
	logger      zerolog.Logger
}

// NewTCPFactory creates a TCP socket factory.
func NewTCPFactory() *TCPFactory {
	return &TCPFactory{
		DialTimeout: DefaultDialTimeout,
		logger:      log.With().Str("component", "tcp_socket").Logger(),
	}
}

// Listen binds addr with SO_REUSEADDR and starts accepting in the background.
func (f *TCPFactory) Listen(addr string, backlog int) (ListenSocket, error) {
	if backlog < 1 {
		backlog = 1
	}

	// Use SO_REUSEADDR to allow immediate rebinding after restart
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	l := &TCPListener{
		listener: ln,
		pending:  make(chan net.Conn, backlog),
		done:     make(chan struct{}),
		logger:   f.logger.With().Str("addr", ln.Addr().String()).Logger(),
	}
	go l.acceptLoop()

	l.logger.Info().Int("backlog", backlog).Msg("TCP listener started")
	return l, nil
}

// Dial starts connecting to addr in the background.
func (f *TCPFactory) Dial(addr string) (StreamSocket, error) {
	c := newPendingConn(addr, f.logger)
	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	go func() {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			f.logger.Debug().Err(err).Str("remote", addr).Msg("connect failed")
			c.fail(err)
			return
		}
		c.attach(conn)
	}()

	return c, nil
}

// TCPListener queues accepted connections so Accept never blocks.
type TCPListener struct {
	listener net.Listener
	pending  chan net.Conn
	done     chan struct{}
	once     sync.Once
	logger   zerolog.Logger
}

func (l *TCPListener) acceptLoop() {
	defer l.drain()
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				l.logger.Error().Err(err).Msg("failed to accept connection")
				time.Sleep(acceptRetryDelay)
				continue
			}
		}

		l.logger.Debug().
			Str("remote", conn.RemoteAddr().String()).
			Msg("new connection")

		select {
		case l.pending <- conn:
		case <-l.done:
			conn.Close()
			return
		}
	}
}

// drain closes connections that were queued but never accepted. Only the
// accept loop sends on pending, so once it has exited the queue is final.
func (l *TCPListener) drain() {
	for {
		select {
		case conn := <-l.pending:
			conn.Close()
		default:
			return
		}
	}
}

// Accept returns the next queued connection or ErrWouldBlock.
func (l *TCPListener) Accept() (StreamSocket, error) {
	select {
	case <-l.done:
		return nil, ErrClosed
	default:
	}

	select {
	case conn := <-l.pending:
		return newConnectedConn(conn, l.logger), nil
	default:
		return nil, ErrWouldBlock
	}
}

// Addr returns the bound address, including the chosen port when 0 was requested.
func (l *TCPListener) Addr() string {
	return l.listener.Addr().String()
}

// Close stops the listener and drops connections that were never accepted.
func (l *TCPListener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		err = l.listener.Close()
		l.logger.Info().Msg("TCP listener stopped")
	})
	return err
}
