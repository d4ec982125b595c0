package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file and points SIMPIT_CONFIG at it.
func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("SIMPIT_CONFIG", path)
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

const baseConfig = `
panel:
  id: test-panel
stream:
  connection: "udp://127.0.0.1:0"
logging:
  level: error
  format: text
`

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("SIMPIT_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_InvalidDevice verifies a bad device entry stops startup.
func TestRun_InvalidDevice(t *testing.T) {
	writeConfig(t, baseConfig+`
commands:
  connection: ""
devices:
  - type: flux_capacitor
    name: FLUX
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "building devices") {
		t.Fatalf("run() error = %v, want building devices failure", err)
	}
}

// TestRun_StreamCommandsNeedWritableLink verifies commands cannot share a UDP link.
func TestRun_StreamCommandsNeedWritableLink(t *testing.T) {
	writeConfig(t, baseConfig+`
commands:
  connection: stream
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "receive-only") {
		t.Fatalf("run() error = %v, want receive-only failure", err)
	}
}

// TestRun_StartsAndStops runs the whole process with the sim driver, the
// address journal and the status API, then shuts it down.
func TestRun_StartsAndStops(t *testing.T) {
	cmds, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer cmds.Close()

	port := freePort(t)
	dbPath := filepath.Join(t.TempDir(), "simpit.db")
	writeConfig(t, baseConfig+fmt.Sprintf(`
commands:
  connection: "udp://%s"
hardware:
  driver: sim
database:
  enabled: true
  path: %q
api:
  enabled: true
  host: 127.0.0.1
  port: %d
devices:
  - type: led
    name: MASTER_CAUTION
    pin: 5
    address: 0x1012
    mask: 0x0800
  - type: actionbutton
    name: UFC_1
    pin: 6
`, cmds.LocalAddr().String(), dbPath, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/stats", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, getErr := http.Get(url)
		if getErr == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("stats status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("status API never came up: %v", getErr)
		}
		select {
		case err := <-done:
			t.Fatalf("run() exited early: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() = %v, want nil on shutdown", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancel")
	}

	if _, statErr := os.Stat(dbPath); statErr != nil {
		t.Errorf("journal database not created: %v", statErr)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("SIMPIT_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("SIMPIT_CONFIG", "/etc/simpit/panel.yaml")
	if got := getConfigPath(); got != "/etc/simpit/panel.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}
