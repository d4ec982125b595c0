package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
	"github.com/nerrad567/simpit-core/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records line protocol sent to /api/v2/write.
type fakeInflux struct {
	mu     sync.Mutex
	lines  []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		status := f.status
		if status == 0 {
			status = http.StatusNoContent
		}
		if status == http.StatusNoContent {
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
		}
		f.mu.Unlock()
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "simpit",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func TestConnectDisabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	_, err := influxdb.Connect(context.Background(), cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnectUnreachable(t *testing.T) {
	_, err := influxdb.Connect(context.Background(), testConfig("http://127.0.0.1:1"))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteExportValue(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Unix(1_700_000_000, 0)
	client.WriteExportValue("panel-001", 0x1a2e, 42, at)
	client.WritePanelStats("panel-001", map[string]interface{}{"syncs": int64(7)}, at)
	client.Flush()

	lines := fake.written()
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2: %v", len(lines), lines)
	}
	if want := "export_value,address=1a2e,panel_id=panel-001 value=42i 1700000000000000000"; lines[0] != want {
		t.Errorf("line[0] = %q, want %q", lines[0], want)
	}
	if !strings.HasPrefix(lines[1], "panel_stats,panel_id=panel-001 syncs=7i") {
		t.Errorf("line[1] = %q", lines[1])
	}
	if client.Points() != 2 {
		t.Errorf("Points() = %d, want 2", client.Points())
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestWriteErrorsReported(t *testing.T) {
	fake := &fakeInflux{status: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	reported := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case reported <- err:
		default:
		}
	})

	client.WriteExportValue("panel-001", 1, 1, time.Now())
	client.Flush()

	select {
	case <-reported:
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not reported")
	}
	if client.WriteErrors() == 0 {
		t.Error("WriteErrors() = 0 after a rejected batch")
	}
}

func TestClosedClientDropsWrites(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(context.Background(), testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	client.WriteExportValue("panel-001", 1, 1, time.Now())
	client.Flush()

	if n := client.Points(); n != 0 {
		t.Errorf("Points() = %d after Close, want 0", n)
	}
	if !errors.Is(client.HealthCheck(context.Background()), influxdb.ErrNotConnected) {
		t.Error("HealthCheck() after Close should be ErrNotConnected")
	}
}
