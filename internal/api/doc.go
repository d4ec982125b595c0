// Package api implements the panel's local status server.
//
// This package provides:
//   - GET /api/v1/health, the current health snapshot
//   - GET /api/v1/stats, decoder, link, journal and publisher counters
//   - GET /api/v1/addresses, the address journal when the recorder is enabled
//   - GET /metrics, the Prometheus scrape endpoint
//   - GET /api/v1/ws, a WebSocket feed of per-frame value changes
//
// The server is read-only. Inputs reach the simulator through the command
// senders, never through HTTP.
//
// # Graceful Degradation
//
// Every dependency except the logger is optional. Endpoints backed by a
// missing dependency answer 404 and the rest keep working.
package api
