package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and sizes.
const (
	defaultConnectTimeout    = 10 * time.Second
	defaultReadTimeout       = time.Second
	defaultWriteTimeout      = 2 * time.Second
	defaultReconnectInterval = time.Second
	maxReconnectInterval     = 2 * time.Minute
	defaultReadBufferSize    = 2048
	defaultQueueSize         = 256
)

// Config holds stream link settings.
type Config struct {
	// Connection is the link URL; see ParseURL.
	Connection string

	// Interface names the network interface for multicast joins. Empty lets
	// the kernel choose.
	Interface string

	// ReadBufferSize is the maximum size of one chunk.
	ReadBufferSize int

	// QueueSize is the number of chunks buffered for the consumer.
	QueueSize int

	// ConnectTimeout bounds each dial.
	ConnectTimeout time.Duration

	// ReadTimeout bounds each read so Close is noticed on a quiet link.
	// A timeout is not an error.
	ReadTimeout time.Duration

	// ReconnectInterval is the first reconnect backoff.
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the backoff.
	MaxReconnectInterval time.Duration
}

// Stats holds link statistics.
type Stats struct {
	BytesRx         uint64    `json:"bytes_rx"`
	BytesTx         uint64    `json:"bytes_tx"`
	ChunksRx        uint64    `json:"chunks_rx"`
	ChunksDropped   uint64    `json:"chunks_dropped"`
	ErrorsTotal     uint64    `json:"errors_total"`
	ReconnectsTotal uint64    `json:"reconnects_total"`
	LastActivity    time.Time `json:"last_activity"`
	Connected       bool      `json:"connected"`
	Reconnecting    bool      `json:"reconnecting"`
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Stream delivers the raw export stream as byte chunks.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Chunks are produced by one receive goroutine and must be consumed by one.
//
// Auto-Reconnection:
//   - Read errors other than timeouts drop the link and reconnect with
//     exponential backoff (x1.5, capped at MaxReconnectInterval).
//   - Reconnection stops only when Close is called.
//
// When the consumer falls behind, the newest chunk is dropped and counted.
// The parser's sync marker realigns on the next frame.
type Stream struct {
	cfg Config
	ep  Endpoint

	linkMu    sync.RWMutex
	link      link
	connected bool

	reconnecting atomic.Bool

	chunks chan []byte

	done *closeOnce
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex

	bytesRx         atomic.Uint64
	bytesTx         atomic.Uint64
	chunksRx        atomic.Uint64
	chunksDropped   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix nanoseconds
}

// Connect opens the link and starts receiving.
//
// The initial open must succeed; later failures are retried in the
// background.
func Connect(ctx context.Context, cfg Config) (*Stream, error) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = maxReconnectInterval
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = defaultReadBufferSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	ep, err := ParseURL(cfg.Connection)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	l, err := openLink(connectCtx, ep, cfg.Interface, cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s := &Stream{
		cfg:       cfg,
		ep:        ep,
		link:      l,
		connected: true,
		chunks:    make(chan []byte, cfg.QueueSize),
		done:      newCloseOnce(),
	}
	s.touch()

	s.wg.Add(1)
	go s.receiveLoop()

	return s, nil
}

// Endpoint returns the parsed link URL.
func (s *Stream) Endpoint() Endpoint {
	return s.ep
}

// Chunks returns the channel of received byte chunks. It is closed after
// Close once the receive goroutine exits.
func (s *Stream) Chunks() <-chan []byte {
	return s.chunks
}

// LocalAddr returns the bound socket address, or nil for serial links.
func (s *Stream) LocalAddr() net.Addr {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	if s.link == nil {
		return nil
	}
	return s.link.localAddr()
}

// receiveLoop reads chunks until Close, reconnecting on failure.
func (s *Stream) receiveLoop() {
	defer s.wg.Done()
	defer close(s.chunks)

	buf := make([]byte, s.cfg.ReadBufferSize)

	for {
		if s.isClosed() {
			return
		}

		n, err := s.read(buf)
		if n > 0 {
			s.deliver(buf[:n])
		}
		if err == nil {
			continue
		}
		if !s.handleReadError(err) {
			continue
		}
		if !s.reconnect() {
			return
		}
	}
}

func (s *Stream) read(buf []byte) (int, error) {
	s.linkMu.RLock()
	l := s.link
	s.linkMu.RUnlock()

	if l == nil {
		return 0, ErrNotConnected
	}
	if err := l.beforeRead(s.cfg.ReadTimeout); err != nil {
		return 0, fmt.Errorf("set read deadline: %w", err)
	}
	return l.Read(buf)
}

// deliver copies p onto the chunk queue, dropping it if the queue is full.
func (s *Stream) deliver(p []byte) {
	s.bytesRx.Add(uint64(len(p)))
	s.chunksRx.Add(1)
	s.touch()

	chunk := make([]byte, len(p))
	copy(chunk, p)

	select {
	case s.chunks <- chunk:
	default:
		s.chunksDropped.Add(1)
		s.logWarn("chunk queue full, dropping chunk", "bytes", len(p))
	}
}

// handleReadError reports whether err means the link must be reopened.
func (s *Stream) handleReadError(err error) bool {
	if s.isClosed() {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return false
	}

	if errors.Is(err, io.EOF) {
		s.logInfo("link closed by peer", "url", s.ep.String())
	} else {
		s.logError("read failed", err)
	}
	s.errorsTotal.Add(1)
	s.handleDisconnect()
	return true
}

func (s *Stream) handleDisconnect() {
	s.linkMu.Lock()
	wasConnected := s.connected
	s.connected = false
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	s.linkMu.Unlock()

	if wasConnected {
		s.logInfo("connection lost, will attempt reconnection", "url", s.ep.String())
	}
}

// reconnect reopens the link with exponential backoff.
// It returns false if Close was called first.
func (s *Stream) reconnect() bool {
	s.reconnecting.Store(true)
	defer s.reconnecting.Store(false)

	backoff := s.cfg.ReconnectInterval
	attempt := 0

	for {
		select {
		case <-s.done.Done():
			return false
		case <-time.After(backoff):
		}

		attempt++
		s.logInfo("attempting reconnection", "attempt", attempt, "backoff", backoff.String())

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
		l, err := openLink(ctx, s.ep, s.cfg.Interface, s.cfg.ReadTimeout)
		cancel()

		if err != nil {
			s.logError("reconnect failed", err)
			s.errorsTotal.Add(1)
			backoff = time.Duration(float64(backoff) * 1.5)
			if backoff > s.cfg.MaxReconnectInterval {
				backoff = s.cfg.MaxReconnectInterval
			}
			continue
		}

		s.linkMu.Lock()
		if s.isClosed() {
			s.linkMu.Unlock()
			l.Close()
			return false
		}
		s.link = l
		s.connected = true
		s.linkMu.Unlock()

		s.reconnectsTotal.Add(1)
		s.touch()
		s.logInfo("reconnection successful", "total_reconnects", s.reconnectsTotal.Load())
		return true
	}
}

// Write sends p back over the link.
//
// UDP listeners are receive-only and return ErrNotWritable.
func (s *Stream) Write(p []byte) (int, error) {
	if !s.ep.Writable() {
		return 0, ErrNotWritable
	}
	if s.isClosed() {
		return 0, ErrClosed
	}

	s.linkMu.RLock()
	defer s.linkMu.RUnlock()

	if s.link == nil {
		return 0, ErrNotConnected
	}
	if err := s.link.beforeWrite(defaultWriteTimeout); err != nil {
		return 0, fmt.Errorf("set write deadline: %w", err)
	}

	n, err := s.link.Write(p)
	s.bytesTx.Add(uint64(n))
	if err != nil {
		s.errorsTotal.Add(1)
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// isClosed returns true if the stream has been closed.
func (s *Stream) isClosed() bool {
	select {
	case <-s.done.Done():
		return true
	default:
		return false
	}
}

// Close stops the receive goroutine and closes the link.
// Safe to call multiple times.
func (s *Stream) Close() error {
	s.done.Close()

	s.linkMu.Lock()
	s.connected = false
	if s.link != nil {
		s.link.Close()
		s.link = nil
	}
	s.linkMu.Unlock()

	s.wg.Wait()
	return nil
}

// IsConnected returns true while the link is open.
func (s *Stream) IsConnected() bool {
	s.linkMu.RLock()
	defer s.linkMu.RUnlock()
	return s.connected
}

// HealthCheck returns ErrNotConnected while the link is down.
func (s *Stream) HealthCheck(_ context.Context) error {
	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Stats returns current link statistics.
func (s *Stream) Stats() Stats {
	return Stats{
		BytesRx:         s.bytesRx.Load(),
		BytesTx:         s.bytesTx.Load(),
		ChunksRx:        s.chunksRx.Load(),
		ChunksDropped:   s.chunksDropped.Load(),
		ErrorsTotal:     s.errorsTotal.Load(),
		ReconnectsTotal: s.reconnectsTotal.Load(),
		LastActivity:    time.Unix(0, s.lastActivity.Load()),
		Connected:       s.IsConnected(),
		Reconnecting:    s.reconnecting.Load(),
	}
}

// SetLogger sets the logger for this stream.
func (s *Stream) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

func (s *Stream) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *Stream) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Stream) logInfo(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Stream) logWarn(msg string, keysAndValues ...any) {
	if logger := s.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Stream) logError(msg string, err error) {
	if logger := s.getLogger(); logger != nil {
		logger.Error(msg, "error", err, "url", s.ep.String())
	}
}
