package bridge

import (
	"time"
)

// PointWriter queues telemetry points without blocking.
// *influxdb.Client implements it.
type PointWriter interface {
	WriteExportValue(panelID string, address, value uint16, at time.Time)
}

// TelemetryListener is a Listener writing every changed address value as a
// telemetry point at frame sync, all stamped with the sync time.
type TelemetryListener struct {
	writer  PointWriter
	panelID string
	now     func() time.Time

	last    map[uint16]uint16
	pending map[uint16]uint16
	order   []uint16
}

// NewTelemetryListener creates a TelemetryListener for panelID.
func NewTelemetryListener(writer PointWriter, panelID string) *TelemetryListener {
	return &TelemetryListener{
		writer:  writer,
		panelID: panelID,
		now:     time.Now,
		last:    make(map[uint16]uint16),
		pending: make(map[uint16]uint16),
	}
}

// OnWrite buffers value if it changed.
func (t *TelemetryListener) OnWrite(address, value uint16) {
	if v, ok := t.last[address]; ok && v == value {
		return
	}
	t.last[address] = value
	if _, seen := t.pending[address]; !seen {
		t.order = append(t.order, address)
	}
	t.pending[address] = value
}

// OnFrameSync writes the buffered changes in arrival order.
func (t *TelemetryListener) OnFrameSync() {
	if len(t.order) == 0 {
		return
	}
	at := t.now()
	for _, a := range t.order {
		t.writer.WriteExportValue(t.panelID, a, t.pending[a], at)
	}
	clear(t.pending)
	t.order = t.order[:0]
}
