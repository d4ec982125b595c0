package bridge

import (
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
)

const defaultQueueSize = 64

// Publisher sends MQTT messages. *mqtt.Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// StateConfig holds StatePublisher settings.
type StateConfig struct {
	QoS byte

	// Filter limits publishing to these addresses. Empty publishes all.
	Filter []uint16

	// QueueSize is the number of frames buffered for publishing.
	QueueSize int
}

// StatePublisher is a Listener that publishes each address whose value
// changed during a frame as a retained simpit/state/{addr} message.
//
// OnWrite and OnFrameSync run on the bridge goroutine. Publishing happens on
// a background queue. While the queue is full a frame's changes are held and
// merged into the next frame. Values the broker has not accepted stay
// pending in the worker and are sent again with the next frame, and Resync
// republishes every known value after a reconnect.
type StatePublisher struct {
	pub    Publisher
	qos    byte
	filter map[uint16]bool

	// Bridge goroutine only.
	last    map[uint16]uint16
	pending map[uint16]uint16

	queue  *queue[[]exportstream.Write]
	resync atomic.Bool
	retry  atomic.Bool // worker holds unaccepted values

	// Worker goroutine only.
	known map[uint16]uint16
	stale map[uint16]struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	logger Logger
}

// NewStatePublisher creates a StatePublisher. Call Close to stop it.
func NewStatePublisher(pub Publisher, cfg StateConfig) *StatePublisher {
	s := &StatePublisher{
		pub:     pub,
		qos:     cfg.QoS,
		last:    make(map[uint16]uint16),
		pending: make(map[uint16]uint16),
		known:   make(map[uint16]uint16),
		stale:   make(map[uint16]struct{}),
		logger:  noopLogger{},
	}
	if len(cfg.Filter) > 0 {
		s.filter = make(map[uint16]bool, len(cfg.Filter))
		for _, a := range cfg.Filter {
			s.filter[a] = true
		}
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	s.queue = newQueue(size, s.publish)
	return s
}

// SetLogger sets the logger. Call before the bridge runs.
func (s *StatePublisher) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// OnWrite records value if it differs from the last one seen at address.
func (s *StatePublisher) OnWrite(address, value uint16) {
	if s.filter != nil && !s.filter[address] {
		return
	}
	if v, ok := s.last[address]; ok && v == value {
		return
	}
	s.last[address] = value
	s.pending[address] = value
}

// OnFrameSync hands the frame's changes to the publish queue. If the queue
// is full the changes are kept for the next frame.
func (s *StatePublisher) OnFrameSync() {
	if len(s.pending) == 0 {
		if s.retry.Load() {
			s.queue.offer(nil)
		}
		return
	}
	if !s.queue.offer(s.batch()) {
		s.dropped.Add(1)
		return
	}
	clear(s.pending)
}

func (s *StatePublisher) batch() []exportstream.Write {
	batch := make([]exportstream.Write, 0, len(s.pending))
	for a, v := range s.pending {
		batch = append(batch, exportstream.Write{Address: a, Value: v})
	}
	return batch
}

// Resync republishes every value seen so far. It is safe to call from any
// goroutine, typically the MQTT on-connect callback.
func (s *StatePublisher) Resync() {
	s.resync.Store(true)
	// An empty batch wakes the worker; if the queue is full the next
	// frame carries the request instead.
	s.queue.offer(nil)
}

func (s *StatePublisher) publish(batch []exportstream.Write) {
	for _, w := range batch {
		s.known[w.Address] = w.Value
		s.stale[w.Address] = struct{}{}
	}
	if s.resync.Swap(false) {
		for a := range s.known {
			s.stale[a] = struct{}{}
		}
	}
	defer func() { s.retry.Store(len(s.stale) > 0) }()
	if len(s.stale) == 0 {
		return
	}
	if !s.pub.IsConnected() {
		s.failed.Add(uint64(len(batch)))
		return
	}

	addrs := make([]uint16, 0, len(s.stale))
	for a := range s.stale {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, a := range addrs {
		payload := strconv.AppendUint(nil, uint64(s.known[a]), 10)
		if err := s.pub.Publish(mqtt.Topics{}.State(a), payload, s.qos, true); err != nil {
			s.failed.Add(1)
			s.logger.Warn("state publish failed", "address", a, "error", err)
			continue
		}
		delete(s.stale, a)
		s.published.Add(1)
	}
}

// Published returns the number of state messages sent.
func (s *StatePublisher) Published() uint64 { return s.published.Load() }

// Failed returns the number of state messages that could not be sent.
func (s *StatePublisher) Failed() uint64 { return s.failed.Load() }

// Dropped returns how many times a frame's changes found the queue full.
// Dropped changes are carried into the next frame, not lost.
func (s *StatePublisher) Dropped() uint64 { return s.dropped.Load() }

// Pending returns the number of addresses whose latest value the broker
// has not accepted. Only meaningful after Close.
func (s *StatePublisher) Pending() int { return len(s.stale) }

// Close makes a last attempt at held, queued and unaccepted changes and
// stops the publisher. Call it after the bridge has stopped.
func (s *StatePublisher) Close() {
	if s.queue.push(s.batch()) {
		clear(s.pending)
	}
	s.queue.close()
}
