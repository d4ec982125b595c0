package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/simpit-core/internal/bridge"
	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/recorder"
	"github.com/nerrad567/simpit-core/internal/transport"
)

// maxListLimit caps the limit query parameter of /addresses.
const maxListLimit = 65536

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Route("/addresses", func(r chi.Router) {
			r.Get("/", s.handleListAddresses)
			r.Get("/{addr}", s.handleGetAddress)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint")
	})

	return r
}

// handleHealth returns the current health snapshot.
// Degraded panels answer 503 so load balancers and probes can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  bridge.HealthHealthy,
			"version": s.version,
		})
		return
	}

	msg := s.health.Snapshot()
	status := http.StatusOK
	if msg.Status == bridge.HealthDegraded {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, msg)
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Decoder       *exportstream.ParserStats `json:"decoder,omitempty"`
	Stream        *transport.Stats          `json:"stream,omitempty"`
	Polls         uint64                    `json:"polls"`
	Recorder      *RecorderStats            `json:"recorder,omitempty"`
	WebSocket     WSStats                   `json:"websocket"`
	Counters      map[string]uint64         `json:"counters,omitempty"`
}

// RecorderStats is the journal section of StatsResponse.
type RecorderStats struct {
	recorder.Stats
	Addresses int `json:"addresses"`
}

// WSStats is the live feed section of StatsResponse.
type WSStats struct {
	Clients int `json:"clients"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		WebSocket:     WSStats{Clients: s.hub.ClientCount()},
	}

	if s.health != nil {
		msg := s.health.Snapshot()
		resp.Decoder = &msg.Decoder
		resp.Stream = msg.Stream
		resp.Polls = msg.Polls
	}

	if s.addresses != nil {
		rs := &RecorderStats{Stats: s.addresses.Stats()}
		count, err := s.addresses.Count(r.Context())
		if err != nil {
			s.logger.Warn("counting journal addresses failed", "error", err)
		}
		rs.Addresses = count
		resp.Recorder = rs
	}

	if len(s.counters) > 0 {
		resp.Counters = make(map[string]uint64, len(s.counters))
		for name, fn := range s.counters {
			resp.Counters[name] = fn()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// AddressList is the body of GET /api/v1/addresses.
type AddressList struct {
	Addresses []recorder.AddressRecord `json:"addresses"`
	Count     int                      `json:"count"`
}

func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	if s.addresses == nil {
		writeDisabled(w, "recorder")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 65536")
			return
		}
		limit = n
	}

	records, err := s.addresses.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing journal addresses failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list addresses")
		return
	}
	if records == nil {
		records = []recorder.AddressRecord{}
	}

	writeJSON(w, http.StatusOK, AddressList{Addresses: records, Count: len(records)})
}

func (s *Server) handleGetAddress(w http.ResponseWriter, r *http.Request) {
	if s.addresses == nil {
		writeDisabled(w, "recorder")
		return
	}

	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := s.addresses.Get(r.Context(), addr)
	if errors.Is(err, recorder.ErrNotFound) {
		writeError(w, http.StatusNotFound, "address has not been seen")
		return
	}
	if err != nil {
		s.logger.Error("reading journal address failed", "address", addr, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read address")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseAddress accepts a decimal address or a hex one prefixed with 0x,
// matching how addresses appear in both logs and MQTT topics.
func parseAddress(raw string) (uint16, error) {
	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(raw), "0x"); ok {
		raw, base = rest, 16
	}
	n, err := strconv.ParseUint(raw, base, 16)
	if err != nil {
		return 0, errors.New("address must be 0-65535 or 0x0000-0xffff")
	}
	return uint16(n), nil
}
