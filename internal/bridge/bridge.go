package bridge

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/input"
)

const defaultPollInterval = 10 * time.Millisecond

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChunkSource delivers raw export stream bytes. *transport.Stream
// implements it.
type ChunkSource interface {
	Chunks() <-chan []byte
}

// Config holds run loop settings.
type Config struct {
	// PollInterval is the input sampling period. Default 10ms.
	PollInterval time.Duration
}

// Bridge drives the decoder and input polling from one goroutine.
type Bridge struct {
	source ChunkSource
	parser *exportstream.Parser
	inputs *input.Registry
	poll   time.Duration
	logger Logger

	polls   atomic.Uint64
	running atomic.Bool
}

// New creates a Bridge decoding source into listeners and polling inputs.
// Both registries must be fully populated before Run.
func New(cfg Config, source ChunkSource, listeners *exportstream.Registry, inputs *input.Registry) *Bridge {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Bridge{
		source: source,
		parser: exportstream.NewParser(listeners),
		inputs: inputs,
		poll:   poll,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger. Call before Run.
func (b *Bridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	b.logger = logger
}

// Parser returns the decoder, for its stats.
func (b *Bridge) Parser() *exportstream.Parser {
	return b.parser
}

// Polls returns the number of completed input polls.
func (b *Bridge) Polls() uint64 {
	return b.polls.Load()
}

// Running reports whether Run is active.
func (b *Bridge) Running() bool {
	return b.running.Load()
}

// Run decodes chunks and polls inputs until ctx is cancelled (returning nil)
// or the source closes (returning ErrStreamClosed).
func (b *Bridge) Run(ctx context.Context) error {
	b.running.Store(true)
	defer b.running.Store(false)

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	b.logger.Info("bridge running", "poll_interval", b.poll.String(), "inputs", b.inputs.Len())

	chunks := b.source.Chunks()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bridge stopped", "reason", ctx.Err().Error())
			return nil
		case chunk, ok := <-chunks:
			if !ok {
				return ErrStreamClosed
			}
			// Parser.Write never fails.
			_, _ = b.parser.Write(chunk)
		case <-ticker.C:
			b.inputs.PollAll()
			b.polls.Add(1)
		}
	}
}
