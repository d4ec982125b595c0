package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/simpit-core/internal/transport"
)

const (
	defaultHealthInterval = 30 * time.Second

	// defaultStaleAfter is how long the link may be silent before the panel
	// is reported degraded.
	defaultStaleAfter = 5 * time.Second
)

// HealthStatus is the panel's operational status.
type HealthStatus string

// Health statuses.
const (
	HealthStarting HealthStatus = "starting"
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is published retained on simpit/health/{panel} and served
// by the status API.
type HealthMessage struct {
	PanelID       string                   `json:"panel_id"`
	Version       string                   `json:"version"`
	Status        HealthStatus             `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	Timestamp     time.Time                `json:"timestamp"`
	UptimeSeconds int64                    `json:"uptime_seconds"`
	Stream        *transport.Stats         `json:"stream,omitempty"`
	Decoder       exportstream.ParserStats `json:"decoder"`
	Polls         uint64                   `json:"polls"`
}

// StreamStatus reports link state. *transport.Stream implements it.
type StreamStatus interface {
	IsConnected() bool
	Stats() transport.Stats
}

// StatsWriter records periodic counter snapshots.
// *influxdb.Client implements it.
type StatsWriter interface {
	WritePanelStats(panelID string, fields map[string]interface{}, at time.Time)
}

// HealthConfig holds HealthReporter settings.
type HealthConfig struct {
	PanelID  string
	Version  string
	Interval time.Duration

	// StaleAfter marks the panel degraded when no bytes arrived for this
	// long. Default 5s.
	StaleAfter time.Duration

	// Publisher, Stream, Bridge and Stats are each optional.
	Publisher Publisher
	Stream    StreamStatus
	Bridge    *Bridge
	Stats     StatsWriter
}

// HealthReporter periodically publishes panel health and, when a
// StatsWriter is set, writes counter snapshots to telemetry.
type HealthReporter struct {
	cfg       HealthConfig
	startTime time.Time
	now       func() time.Time

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. Call before Start.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Start publishes immediately and then every interval until ctx is
// cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		//nolint:errcheck // best effort during shutdown
		h.publish(h.snapshot(HealthStopping, "panel stopping"))
	})
}

// PublishStarting publishes a starting status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(h.snapshot(HealthStarting, "panel starting"))
}

// PublishNow publishes the current status.
func (h *HealthReporter) PublishNow() error {
	return h.publish(h.Snapshot())
}

// Snapshot returns the current health.
func (h *HealthReporter) Snapshot() HealthMessage {
	status, reason := h.determineStatus()
	return h.snapshot(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthReporter) tick() {
	msg := h.Snapshot()
	if err := h.publish(msg); err != nil {
		h.logger.Warn("failed to publish health", "error", err)
	}
	if h.cfg.Stats != nil {
		h.cfg.Stats.WritePanelStats(h.cfg.PanelID, statsFields(msg), msg.Timestamp)
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher != nil && !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "mqtt disconnected"
	}
	if h.cfg.Stream != nil {
		if !h.cfg.Stream.IsConnected() {
			return HealthDegraded, "stream disconnected"
		}
		last := h.cfg.Stream.Stats().LastActivity
		if !last.IsZero() && h.now().Sub(last) > h.cfg.StaleAfter {
			return HealthDegraded, "no export data"
		}
	}
	if h.cfg.Bridge != nil && !h.cfg.Bridge.Running() {
		return HealthDegraded, "bridge not running"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) snapshot(status HealthStatus, reason string) HealthMessage {
	now := h.now()
	msg := HealthMessage{
		PanelID:       h.cfg.PanelID,
		Version:       h.cfg.Version,
		Status:        status,
		Reason:        reason,
		Timestamp:     now.UTC(),
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
	}
	if h.cfg.Stream != nil {
		stats := h.cfg.Stream.Stats()
		msg.Stream = &stats
	}
	if h.cfg.Bridge != nil {
		msg.Decoder = h.cfg.Bridge.Parser().Stats()
		msg.Polls = h.cfg.Bridge.Polls()
	}
	return msg
}

func (h *HealthReporter) publish(msg HealthMessage) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(mqtt.Topics{}.Health(h.cfg.PanelID), payload, 1, true)
}

func statsFields(msg HealthMessage) map[string]interface{} {
	fields := map[string]interface{}{
		"decoder_bytes":    int64(msg.Decoder.Bytes),
		"decoder_writes":   int64(msg.Decoder.Writes),
		"decoder_syncs":    int64(msg.Decoder.Syncs),
		"decoder_realigns": int64(msg.Decoder.Realigns),
		"polls":            int64(msg.Polls),
		"healthy":          msg.Status == HealthHealthy,
	}
	if msg.Stream != nil {
		fields["stream_bytes_rx"] = int64(msg.Stream.BytesRx)
		fields["stream_chunks_dropped"] = int64(msg.Stream.ChunksDropped)
		fields["stream_reconnects"] = int64(msg.Stream.ReconnectsTotal)
	}
	return fields
}
