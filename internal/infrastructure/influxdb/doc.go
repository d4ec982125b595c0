// Package influxdb writes panel telemetry to InfluxDB v2.
//
// Points are queued on the client's non-blocking write API and sent in
// batches; a slow or absent server never stalls the decoder loop. Write
// failures surface through SetOnError.
//
// Measurements:
//   - export_value: tags panel_id, address (hex); field value
//   - panel_stats: tag panel_id; decoder and link counters as fields
package influxdb
