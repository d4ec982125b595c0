package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/simpit-core/internal/transport"
)

type publication struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

// mockPublisher records publications.
type mockPublisher struct {
	mu        sync.Mutex
	msgs      []publication
	connected atomic.Bool
	fail      atomic.Bool
	block     chan struct{}
}

func newMockPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.connected.Store(true)
	return p
}

func (p *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.block != nil {
		<-p.block
	}
	if p.fail.Load() {
		return errors.New("broker rejected")
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, publication{topic, string(payload), qos, retained})
	p.mu.Unlock()
	return nil
}

func (p *mockPublisher) IsConnected() bool { return p.connected.Load() }

func (p *mockPublisher) published() []publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publication(nil), p.msgs...)
}

// mockSubscriber captures the subscribed handler.
type mockSubscriber struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
	err     error
}

func (s *mockSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	s.topic, s.qos, s.handler = topic, qos, handler
	return s.err
}

// chanSource is a ChunkSource fed by the test.
type chanSource struct {
	ch chan []byte
}

func (c *chanSource) Chunks() <-chan []byte { return c.ch }

type mockStream struct {
	connected bool
	stats     transport.Stats
}

func (m *mockStream) IsConnected() bool      { return m.connected }
func (m *mockStream) Stats() transport.Stats { return m.stats }

type point struct {
	panelID string
	address uint16
	value   uint16
	at      time.Time
}

type mockPointWriter struct {
	points []point
	stats  []map[string]interface{}
}

func (w *mockPointWriter) WriteExportValue(panelID string, address, value uint16, at time.Time) {
	w.points = append(w.points, point{panelID, address, value, at})
}

func (w *mockPointWriter) WritePanelStats(_ string, fields map[string]interface{}, _ time.Time) {
	w.stats = append(w.stats, fields)
}
