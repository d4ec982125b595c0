package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultBatchSize      = 500
	defaultFlushSeconds   = 1
)

var errUnhealthy = errors.New("server reports unhealthy")

// Client queues telemetry points on the library's batching write API.
// Writes never block the caller; failed batches are counted and reported
// through the SetOnError callback.
//
// All methods are safe for concurrent use.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	open atomic.Bool

	mu      sync.RWMutex
	onError func(err error)

	points    atomic.Uint64
	writeErrs atomic.Uint64
}

func orDefault(v, def int) uint {
	if v <= 0 {
		v = def
	}
	return uint(v) // #nosec G115 -- positive by construction
}

// Connect pings cfg.URL and opens a write API on the configured bucket.
// It returns ErrDisabled when telemetry is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(orDefault(cfg.BatchSize, defaultBatchSize)).
		SetFlushInterval(orDefault(cfg.FlushInterval, defaultFlushSeconds) * 1000)
	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	if err := ping(ctx, raw, defaultConnectTimeout); err != nil {
		raw.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{client: raw, writeAPI: raw.WriteAPI(cfg.Org, cfg.Bucket)}
	c.open.Store(true)
	go c.drainErrors(c.writeAPI.Errors())
	return c, nil
}

func ping(ctx context.Context, client influxdb2.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, err := client.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !ok:
		return errUnhealthy
	}
	return nil
}

// drainErrors runs until the write API closes its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		c.writeErrs.Add(1)

		c.mu.RLock()
		report := c.onError
		c.mu.RUnlock()
		if report != nil {
			report(err)
		}
	}
}

// Close flushes queued points and releases the client. Only the first
// call has any effect.
func (c *Client) Close() error {
	if c.client == nil || !c.open.CompareAndSwap(true, false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}

// HealthCheck pings the server. It returns ErrNotConnected after Close.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.client, defaultPingTimeout); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is still open.
func (c *Client) IsConnected() bool { return c.open.Load() }

// SetOnError installs the callback for asynchronous batch failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// Flush blocks until queued points are sent.
func (c *Client) Flush() {
	if c.IsConnected() {
		c.writeAPI.Flush()
	}
}

// Points returns how many points have been queued.
func (c *Client) Points() uint64 { return c.points.Load() }

// WriteErrors returns how many batch writes failed.
func (c *Client) WriteErrors() uint64 { return c.writeErrs.Load() }
