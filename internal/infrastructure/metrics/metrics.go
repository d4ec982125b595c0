// Package metrics exposes panel counters in Prometheus format.
//
// Decoder and link counters are read from their Stats snapshots at scrape
// time, so the hot path only touches the atomics it already maintains.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/input"
	"github.com/nerrad567/simpit-core/internal/transport"
)

const namespace = "simpit"

// Metrics owns a private registry for one panel process.
type Metrics struct {
	registry *prometheus.Registry
	labels   prometheus.Labels

	commands      *prometheus.CounterVec
	frameInterval prometheus.Histogram
}

// New creates a registry with Go runtime and process collectors and the
// panel_id constant label on every panel metric.
func New(panelID string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		labels:   prometheus.Labels{"panel_id": panelID},
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "input",
			Name:        "commands_total",
			Help:        "Input commands emitted, by control name.",
			ConstLabels: prometheus.Labels{"panel_id": panelID},
		}, []string{"name"}),
		frameInterval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "decoder",
			Name:        "frame_interval_seconds",
			Help:        "Time between consecutive frame syncs.",
			ConstLabels: prometheus.Labels{"panel_id": panelID},
			Buckets:     prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}
	reg.MustRegister(m.commands, m.frameInterval)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) counterFunc(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.labels,
	}, fn))
}

func (m *Metrics) gaugeFunc(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.labels,
	}, fn))
}

// RegisterParser exports decoder counters.
func (m *Metrics) RegisterParser(stats func() exportstream.ParserStats) {
	m.counterFunc("decoder", "bytes_total", "Bytes fed to the decoder.",
		func() float64 { return float64(stats().Bytes) })
	m.counterFunc("decoder", "writes_total", "Decoded value writes dispatched.",
		func() float64 { return float64(stats().Writes) })
	m.counterFunc("decoder", "syncs_total", "Frame syncs dispatched.",
		func() float64 { return float64(stats().Syncs) })
	m.counterFunc("decoder", "realigns_total", "Syncs that interrupted a partial frame.",
		func() float64 { return float64(stats().Realigns) })
}

// RegisterStream exports link counters.
func (m *Metrics) RegisterStream(stats func() transport.Stats) {
	m.counterFunc("stream", "received_bytes_total", "Bytes received on the export link.",
		func() float64 { return float64(stats().BytesRx) })
	m.counterFunc("stream", "sent_bytes_total", "Bytes sent back over the export link.",
		func() float64 { return float64(stats().BytesTx) })
	m.counterFunc("stream", "dropped_chunks_total", "Chunks dropped because the decoder lagged.",
		func() float64 { return float64(stats().ChunksDropped) })
	m.counterFunc("stream", "errors_total", "Link read, write and reconnect errors.",
		func() float64 { return float64(stats().ErrorsTotal) })
	m.counterFunc("stream", "reconnects_total", "Successful link reconnects.",
		func() float64 { return float64(stats().ReconnectsTotal) })
	m.gaugeFunc("stream", "connected", "1 while the export link is up.",
		func() float64 {
			if stats().Connected {
				return 1
			}
			return 0
		})
}

// CountingSender counts every message by name before passing it to next.
func (m *Metrics) CountingSender(next input.Sender) input.Sender {
	return input.SenderFunc(func(msg input.Message) {
		m.commands.WithLabelValues(msg.Name).Inc()
		next.Send(msg)
	})
}

// FrameListener observes the interval between frame syncs.
func (m *Metrics) FrameListener() exportstream.Listener {
	return &frameTimer{hist: m.frameInterval, now: time.Now}
}

type frameTimer struct {
	mu   sync.Mutex
	hist prometheus.Histogram
	now  func() time.Time
	last time.Time
}

func (f *frameTimer) OnWrite(uint16, uint16) {}

func (f *frameTimer) OnFrameSync() {
	f.mu.Lock()
	defer f.mu.Unlock()

	t := f.now()
	if !f.last.IsZero() {
		f.hist.Observe(t.Sub(f.last).Seconds())
	}
	f.last = t
}
