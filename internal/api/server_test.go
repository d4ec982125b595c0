package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/simpit-core/internal/bridge"
	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
	"github.com/nerrad567/simpit-core/internal/infrastructure/database"
	"github.com/nerrad567/simpit-core/internal/infrastructure/logging"
	"github.com/nerrad567/simpit-core/internal/infrastructure/metrics"
	"github.com/nerrad567/simpit-core/internal/recorder"
	"github.com/nerrad567/simpit-core/internal/transport"
	"github.com/nerrad567/simpit-core/migrations"
)

func testLogger() *logging.Logger {
	return logging.NewWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
}

// testServer creates a Server with the given optional dependencies.
func testServer(t *testing.T, deps Deps) *Server {
	t.Helper()

	deps.Logger = testLogger()
	deps.Version = "test"
	deps.Config = config.APIConfig{
		Host:     "127.0.0.1",
		Port:     0,
		Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

type fakeHealth struct {
	msg bridge.HealthMessage
}

func (f fakeHealth) Snapshot() bridge.HealthMessage { return f.msg }

type fakeStore struct {
	records []recorder.AddressRecord
	stats   recorder.Stats
	err     error
}

func (f *fakeStore) List(_ context.Context, limit int) ([]recorder.AddressRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeStore) Get(_ context.Context, address uint16) (recorder.AddressRecord, error) {
	for _, r := range f.records {
		if r.Address == address {
			return r, nil
		}
	}
	return recorder.AddressRecord{}, recorder.ErrNotFound
}

func (f *fakeStore) Count(context.Context) (int, error) { return len(f.records), f.err }
func (f *fakeStore) Stats() recorder.Stats              { return f.stats }

// ─── Health ────────────────────────────────────────────────────────

func TestNew_RequiresLogger(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

func TestHealth_NoSource(t *testing.T) {
	w := get(t, testServer(t, Deps{}), "/api/v1/health")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp map[string]any
	decode(t, w, &resp)
	if resp["status"] != "healthy" || resp["version"] != "test" {
		t.Errorf("resp = %v", resp)
	}
}

func TestHealth_Snapshot(t *testing.T) {
	tests := []struct {
		status bridge.HealthStatus
		code   int
	}{
		{bridge.HealthHealthy, http.StatusOK},
		{bridge.HealthStarting, http.StatusOK},
		{bridge.HealthDegraded, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			srv := testServer(t, Deps{Health: fakeHealth{bridge.HealthMessage{
				PanelID: "panel-001",
				Status:  tt.status,
				Reason:  "no export data",
			}}})

			w := get(t, srv, "/api/v1/health")
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
			var msg bridge.HealthMessage
			decode(t, w, &msg)
			if msg.PanelID != "panel-001" || msg.Status != tt.status {
				t.Errorf("msg = %+v", msg)
			}
		})
	}
}

// ─── Middleware ────────────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv := testServer(t, Deps{})

	w := get(t, srv, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

type panickingHealth struct{}

func (panickingHealth) Snapshot() bridge.HealthMessage { panic("boom") }

func TestRecovery(t *testing.T) {
	w := get(t, testServer(t, Deps{Health: panickingHealth{}}), "/api/v1/health")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	w := get(t, testServer(t, Deps{}), "/api/v1/nope")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	var e Error
	decode(t, w, &e)
	if e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

// ─── Stats ─────────────────────────────────────────────────────────

func TestStats(t *testing.T) {
	srv := testServer(t, Deps{
		Health: fakeHealth{bridge.HealthMessage{
			Stream:  &transport.Stats{BytesRx: 1024, Connected: true},
			Decoder: exportstream.ParserStats{Bytes: 1024, Writes: 40, Syncs: 3},
			Polls:   12,
		}},
		Addresses: &fakeStore{
			records: []recorder.AddressRecord{{Address: 1}, {Address: 2}},
			stats:   recorder.Stats{Batches: 3, Rows: 5},
		},
		Counters: map[string]func() uint64{
			"state_published": func() uint64 { return 7 },
		},
	})

	w := get(t, srv, "/api/v1/stats")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp StatsResponse
	decode(t, w, &resp)
	if resp.Decoder == nil || resp.Decoder.Writes != 40 {
		t.Errorf("decoder = %+v", resp.Decoder)
	}
	if resp.Stream == nil || !resp.Stream.Connected {
		t.Errorf("stream = %+v", resp.Stream)
	}
	if resp.Polls != 12 {
		t.Errorf("polls = %d, want 12", resp.Polls)
	}
	if resp.Recorder == nil || resp.Recorder.Addresses != 2 || resp.Recorder.Rows != 5 {
		t.Errorf("recorder = %+v", resp.Recorder)
	}
	if resp.Counters["state_published"] != 7 {
		t.Errorf("counters = %v", resp.Counters)
	}
}

func TestStats_Minimal(t *testing.T) {
	w := get(t, testServer(t, Deps{}), "/api/v1/stats")

	var resp map[string]any
	decode(t, w, &resp)
	for _, key := range []string{"decoder", "stream", "recorder", "counters"} {
		if _, ok := resp[key]; ok {
			t.Errorf("unexpected %q section without its source", key)
		}
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v", resp["version"])
	}
}

// ─── Addresses ─────────────────────────────────────────────────────

func TestAddresses_Disabled(t *testing.T) {
	srv := testServer(t, Deps{})
	for _, path := range []string{"/api/v1/addresses", "/api/v1/addresses/10"} {
		w := get(t, srv, path)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
		var e Error
		decode(t, w, &e)
		if e.Code != ErrCodeDisabled {
			t.Errorf("%s code = %q, want %q", path, e.Code, ErrCodeDisabled)
		}
	}
}

func TestListAddresses(t *testing.T) {
	store := &fakeStore{records: []recorder.AddressRecord{
		{Address: 0x1000, LastValue: 1, WriteCount: 4},
		{Address: 0x1A2E, LastValue: 42, WriteCount: 9},
	}}
	srv := testServer(t, Deps{Addresses: store})

	w := get(t, srv, "/api/v1/addresses")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list AddressList
	decode(t, w, &list)
	if list.Count != 2 || list.Addresses[1].LastValue != 42 {
		t.Errorf("list = %+v", list)
	}

	w = get(t, srv, "/api/v1/addresses?limit=1")
	decode(t, w, &list)
	if list.Count != 1 {
		t.Errorf("limited count = %d, want 1", list.Count)
	}

	for _, bad := range []string{"0", "-3", "abc", "70000"} {
		w = get(t, srv, "/api/v1/addresses?limit="+bad)
		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s status = %d, want 400", bad, w.Code)
		}
	}
}

func TestListAddresses_EmptyIsArray(t *testing.T) {
	w := get(t, testServer(t, Deps{Addresses: &fakeStore{}}), "/api/v1/addresses")
	if !strings.Contains(w.Body.String(), `"addresses":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestListAddresses_StoreError(t *testing.T) {
	w := get(t, testServer(t, Deps{Addresses: &fakeStore{err: errors.New("disk I/O error")}}), "/api/v1/addresses")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestGetAddress(t *testing.T) {
	store := &fakeStore{records: []recorder.AddressRecord{{Address: 0x1A2E, LastValue: 42}}}
	srv := testServer(t, Deps{Addresses: store})

	tests := []struct {
		path string
		code int
	}{
		{"/api/v1/addresses/6702", http.StatusOK},
		{"/api/v1/addresses/0x1a2e", http.StatusOK},
		{"/api/v1/addresses/0X1A2E", http.StatusOK},
		{"/api/v1/addresses/7", http.StatusNotFound},
		{"/api/v1/addresses/65536", http.StatusBadRequest},
		{"/api/v1/addresses/0xzz", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := get(t, srv, tt.path)
			if w.Code != tt.code {
				t.Errorf("status = %d, want %d", w.Code, tt.code)
			}
		})
	}
}

func TestAddresses_WithRecorder(t *testing.T) {
	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	rec := recorder.New(db.DB, 4)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.OnWrite(0x1000, 7)
	rec.OnFrameSync()
	rec.Stop()

	srv := testServer(t, Deps{Addresses: rec})
	w := get(t, srv, "/api/v1/addresses/0x1000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var got recorder.AddressRecord
	decode(t, w, &got)
	if got.LastValue != 7 || got.WriteCount != 1 {
		t.Errorf("record = %+v", got)
	}
}

// ─── Metrics ───────────────────────────────────────────────────────

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New("panel-001")
	w := get(t, testServer(t, Deps{Metrics: m.Handler()}), "/metrics")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("scrape should include Go runtime metrics")
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	if w := get(t, testServer(t, Deps{}), "/metrics"); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestServer_StartClose(t *testing.T) {
	srv := testServer(t, Deps{})

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck before Start should fail")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck after Close should fail")
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := testServer(t, Deps{})
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Close()

	_, port, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	second := testServer(t, Deps{})
	second.cfg.Port, _ = strconv.Atoi(port)
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start on a bound port should fail")
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testLogger())

	subscribed := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{ChannelFrames: {}},
	}
	other := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: map[string]struct{}{"health": {}},
	}
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast(ChannelFrames, FrameEvent{Frame: 1})

	select {
	case msg := <-subscribed.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.Type != WSTypeEvent || wsMsg.EventType != ChannelFrames {
			t.Errorf("msg = %+v", wsMsg)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}

	select {
	case <-other.send:
		t.Error("unsubscribed client should not receive message")
	default:
	}
}

func TestHub_DropsForSlowClient(t *testing.T) {
	hub := NewHub(testLogger())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 1),
		subscriptions: map[string]struct{}{ChannelFrames: {}},
	}
	hub.Register(client)

	for i := 0; i < 3; i++ {
		hub.Broadcast(ChannelFrames, FrameEvent{Frame: uint64(i)})
	}
	if hub.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", hub.Dropped())
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testLogger())
	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: make(map[string]struct{})}

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
	if _, open := <-client.send; open {
		t.Error("send channel should be closed")
	}
}

func TestFeedListener(t *testing.T) {
	hub := NewHub(testLogger())
	client := &WSClient{
		hub:           hub,
		send:          make(chan []byte, 8),
		subscriptions: map[string]struct{}{ChannelFrames: {}},
	}
	hub.Register(client)
	feed := NewFeedListener(hub)

	feed.OnWrite(0x2000, 5)
	feed.OnWrite(0x1000, 1)
	feed.OnWrite(0x2000, 6)
	feed.OnFrameSync()

	ev := readFrameEvent(t, client.send)
	want := []ValueChange{{Address: 0x2000, Value: 6}, {Address: 0x1000, Value: 1}}
	if ev.Frame != 1 || len(ev.Changes) != 2 || ev.Changes[0] != want[0] || ev.Changes[1] != want[1] {
		t.Errorf("event = %+v, want changes %v", ev, want)
	}

	// Unchanged values are not relayed and an empty frame sends nothing.
	feed.OnWrite(0x1000, 1)
	feed.OnFrameSync()
	select {
	case <-client.send:
		t.Error("frame without changes should not broadcast")
	default:
	}

	snap := feed.Snapshot()
	if snap.Frame != 2 || len(snap.Changes) != 2 || snap.Changes[0].Address != 0x1000 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func readFrameEvent(t *testing.T, ch <-chan []byte) FrameEvent {
	t.Helper()
	select {
	case data := <-ch:
		var msg struct {
			Payload FrameEvent `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return msg.Payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame event")
	}
	return FrameEvent{}
}

func TestWebSocket_FrameFeed(t *testing.T) {
	srv := testServer(t, Deps{})
	feed := NewFeedListener(srv.Hub())
	feed.OnWrite(0x1000, 3)
	feed.OnFrameSync()

	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	sub := map[string]any{"type": "subscribe", "id": "1", "payload": WSSubscribePayload{Channels: []string{ChannelFrames}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var resp WSMessage
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Errorf("response = %+v", resp)
	}

	var snap struct {
		EventType string     `json:"event_type"`
		Payload   FrameEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if snap.EventType != "frames.snapshot" || len(snap.Payload.Changes) != 1 || snap.Payload.Changes[0].Value != 3 {
		t.Errorf("snapshot = %+v", snap)
	}

	feed.OnWrite(0x1000, 4)
	feed.OnFrameSync()

	var event struct {
		EventType string     `json:"event_type"`
		Payload   FrameEvent `json:"payload"`
	}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.EventType != ChannelFrames || event.Payload.Frame != 2 || event.Payload.Changes[0].Value != 4 {
		t.Errorf("event = %+v", event)
	}
	if got := srv.Hub().ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
}

func TestWebSocket_UnknownMessage(t *testing.T) {
	srv := testServer(t, Deps{})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("SetReadDeadline: %v", err)
	}

	for _, tc := range []struct {
		send string
		want string
	}{
		{`{"type":"ping","id":"p"}`, WSTypePong},
		{`{"type":"dance"}`, WSTypeError},
		{`not json`, WSTypeError},
		{`{"type":"subscribe","payload":{"channels":[]}}`, WSTypeError},
	} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tc.send)); err != nil {
			t.Fatalf("write: %v", err)
		}
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != tc.want {
			t.Errorf("%s: type = %q, want %q", tc.send, msg.Type, tc.want)
		}
	}
}
