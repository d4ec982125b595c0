package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/simpit-core/internal/input"
)

const defaultCommandQueueSize = 64

// CommandConn is a write-only command connection. Every write carries a
// deadline, and a failed connection is redialled on the next write.
//
// All methods are safe for concurrent use.
type CommandConn struct {
	ep           Endpoint
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	redials atomic.Uint64
}

// DialCommands opens a command connection. Supported schemes are udp, tcp
// and unix. The first dial must succeed.
func DialCommands(ctx context.Context, connURL string) (*CommandConn, error) {
	ep, err := ParseURL(connURL)
	if err != nil {
		return nil, err
	}
	if ep.Scheme == SchemeSerial {
		return nil, fmt.Errorf("%w: use the stream link for serial commands", ErrInvalidURL)
	}

	c := &CommandConn{ep: ep, writeTimeout: defaultWriteTimeout}
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

func (c *CommandConn) dial(ctx context.Context) (net.Conn, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, c.ep.Scheme, c.ep.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectionFailed, c.ep, err)
	}
	return conn, nil
}

// Write sends p, redialling first if the previous write failed.
func (c *CommandConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if c.conn == nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.writeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			return 0, err
		}
		c.conn = conn
		c.redials.Add(1)
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.drop()
		return 0, fmt.Errorf("set write deadline: %w", err)
	}
	n, err := c.conn.Write(p)
	if err != nil {
		c.drop()
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// drop discards the current connection. Callers hold c.mu.
func (c *CommandConn) drop() {
	_ = c.conn.Close()
	c.conn = nil
}

// Redials returns how many times the connection was reopened.
func (c *CommandConn) Redials() uint64 { return c.redials.Load() }

// Close closes the connection. Later writes return ErrClosed.
func (c *CommandConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// CommandWriter is an input.Sender writing one "NAME ARG\n" line per message.
//
// Send never blocks: lines are queued for a background writer and dropped,
// then counted, while the queue is full. Each line goes out in a single Write
// call so datagram links carry exactly one command per packet.
type CommandWriter struct {
	w io.Writer

	mu     sync.RWMutex
	lines  chan []byte
	closed bool
	wg     sync.WaitGroup

	// Once a write fails after Close, abandon sheds the rest of the queue
	// so shutdown does not wait out one write timeout per line.
	closing atomic.Bool
	abandon bool

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64

	loggerMu sync.RWMutex
	logger   Logger
}

var _ input.Sender = (*CommandWriter)(nil)

// NewCommandWriter starts a CommandWriter on w. Call Close to stop it.
func NewCommandWriter(w io.Writer) *CommandWriter {
	c := &CommandWriter{w: w, lines: make(chan []byte, defaultCommandQueueSize)}
	c.wg.Add(1)
	go c.run()
	return c
}

// SetLogger sets the logger for write failures.
func (c *CommandWriter) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Send queues msg. Failures are counted and logged, never returned.
func (c *CommandWriter) Send(msg input.Message) {
	line := make([]byte, 0, len(msg.Name)+len(msg.Arg)+2)
	line = append(line, msg.Name...)
	line = append(line, ' ')
	line = append(line, msg.Arg...)
	line = append(line, '\n')

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.lines <- line:
	default:
		c.dropped.Add(1)
	}
}

func (c *CommandWriter) run() {
	defer c.wg.Done()
	for line := range c.lines {
		if c.abandon {
			c.dropped.Add(1)
			continue
		}
		if _, err := c.w.Write(line); err != nil {
			c.failed.Add(1)
			c.logWarn("command write failed", "line", string(line[:len(line)-1]), "error", err)
			if c.closing.Load() {
				c.abandon = true
			}
			continue
		}
		c.sent.Add(1)
	}
}

func (c *CommandWriter) logWarn(msg string, args ...any) {
	c.loggerMu.RLock()
	l := c.logger
	c.loggerMu.RUnlock()
	if l != nil {
		l.Warn(msg, args...)
	}
}

// Close writes the queued lines and stops the writer. Safe to call twice.
func (c *CommandWriter) Close() {
	c.closing.Store(true)
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.lines)
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Sent returns the number of commands written.
func (c *CommandWriter) Sent() uint64 { return c.sent.Load() }

// Failed returns the number of commands whose write failed.
func (c *CommandWriter) Failed() uint64 { return c.failed.Load() }

// Dropped returns the number of commands discarded while the queue was full.
func (c *CommandWriter) Dropped() uint64 { return c.dropped.Load() }
