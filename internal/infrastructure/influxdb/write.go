package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementExportValue = "export_value"
	MeasurementPanelStats  = "panel_stats"
)

// WriteExportValue records one address value as seen at a frame sync.
// Addresses are tagged as four lower-case hex digits.
func (c *Client) WriteExportValue(panelID string, address, value uint16, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementExportValue,
		map[string]string{
			"panel_id": panelID,
			"address":  fmt.Sprintf("%04x", address),
		},
		map[string]interface{}{
			"value": int64(value),
		},
		at,
	))
}

// WritePanelStats records a snapshot of counters for a panel.
func (c *Client) WritePanelStats(panelID string, fields map[string]interface{}, at time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementPanelStats,
		map[string]string{"panel_id": panelID},
		fields,
		at,
	))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.points.Add(1)
	c.writeAPI.WritePoint(p)
}
