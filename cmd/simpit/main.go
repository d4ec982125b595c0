// Simpit - cockpit panel controller
//
// This is the main entry point for the simpit panel process. It receives the
// simulator's export stream, drives the panel's outputs from it, samples the
// panel's inputs and sends the resulting commands back to the simulator.
//
// Optional sidecars, all off by default, mirror panel state to MQTT, write
// telemetry to InfluxDB, journal seen addresses to SQLite and serve a local
// status API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/simpit-core/internal/api"
	"github.com/nerrad567/simpit-core/internal/bridge"
	"github.com/nerrad567/simpit-core/internal/devices"
	"github.com/nerrad567/simpit-core/internal/exportstream"
	"github.com/nerrad567/simpit-core/internal/hardware"
	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
	"github.com/nerrad567/simpit-core/internal/infrastructure/database"
	"github.com/nerrad567/simpit-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/simpit-core/internal/infrastructure/logging"
	"github.com/nerrad567/simpit-core/internal/infrastructure/metrics"
	"github.com/nerrad567/simpit-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/simpit-core/internal/input"
	"github.com/nerrad567/simpit-core/internal/recorder"
	"github.com/nerrad567/simpit-core/internal/transport"
	"github.com/nerrad567/simpit-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// streamCommands selects the inbound link as the command channel.
const streamCommands = "stream"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Linear startup wiring with optional sidecars
	log := logging.Default()
	log.Info("starting simpit",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version).With("panel_id", cfg.Panel.ID)
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"devices", len(cfg.Devices),
	)

	m := metrics.New(cfg.Panel.ID)
	listeners := exportstream.NewRegistry()
	inputs := input.NewRegistry()
	counters := make(map[string]func() uint64)

	// Open pin driver
	drv, err := hardware.Open(cfg.Hardware.Driver, hardware.Options{
		ADCChipSelect: cfg.Hardware.ADCChipSelect,
		ADCSpeed:      cfg.Hardware.ADCSpeed,
	})
	if err != nil {
		return fmt.Errorf("opening hardware: %w", err)
	}
	defer func() {
		log.Info("releasing hardware")
		if closeErr := drv.Close(); closeErr != nil {
			log.Error("error closing hardware", "error", closeErr)
		}
	}()
	log.Info("hardware ready", "driver", cfg.Hardware.Driver)

	// Connect the export stream
	stream, err := transport.Connect(ctx, transport.Config{
		Connection:           cfg.Stream.Connection,
		Interface:            cfg.Stream.Interface,
		ReadBufferSize:       cfg.Stream.ReadBufferSize,
		QueueSize:            cfg.Stream.QueueSize,
		ConnectTimeout:       time.Duration(cfg.Stream.ConnectTimeout) * time.Second,
		MaxReconnectInterval: time.Duration(cfg.Stream.ReconnectMaxDelay) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("connecting export stream: %w", err)
	}
	stream.SetLogger(log.Component("stream"))
	defer func() {
		log.Info("closing export stream")
		if closeErr := stream.Close(); closeErr != nil {
			log.Error("error closing export stream", "error", closeErr)
		}
	}()
	m.RegisterStream(stream.Stats)
	log.Info("export stream connected", "endpoint", stream.Endpoint().String())

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Command senders
	var senders input.MultiSender
	switch conn := cfg.Commands.Connection; conn {
	case "":
		log.Info("command line channel disabled")
	case streamCommands:
		if !stream.Endpoint().Writable() {
			return fmt.Errorf("commands.connection %q: %s links are receive-only", conn, stream.Endpoint().Scheme)
		}
		w := transport.NewCommandWriter(stream)
		w.SetLogger(log.Component("commands"))
		defer w.Close()
		senders = append(senders, w)
		counters["commands_sent"] = w.Sent
		counters["commands_failed"] = w.Failed
		counters["commands_dropped"] = w.Dropped
		log.Info("commands share the export stream link")
	default:
		cmdConn, dialErr := transport.DialCommands(ctx, conn)
		if dialErr != nil {
			return fmt.Errorf("opening command channel: %w", dialErr)
		}
		defer func() {
			if closeErr := cmdConn.Close(); closeErr != nil {
				log.Error("error closing command channel", "error", closeErr)
			}
		}()
		w := transport.NewCommandWriter(cmdConn)
		w.SetLogger(log.Component("commands"))
		defer w.Close()
		senders = append(senders, w)
		counters["commands_sent"] = w.Sent
		counters["commands_failed"] = w.Failed
		counters["commands_dropped"] = w.Dropped
		counters["commands_redials"] = cmdConn.Redials
		log.Info("command channel open", "connection", conn)
	}

	if mqttClient != nil && cfg.Commands.MQTT {
		pub := bridge.NewCommandPublisher(mqttClient, cfg.Panel.ID, mqttClient.QoS(), 0)
		pub.SetLogger(log.Component("commands"))
		defer pub.Close()
		senders = append(senders, pub)
		counters["commands_mqtt_published"] = pub.Published
		counters["commands_mqtt_dropped"] = pub.Dropped
	}
	sender := m.CountingSender(senders)

	// Build panel devices
	sum, err := devices.Build(cfg.Devices, drv, devices.Targets{
		Listeners: listeners,
		Inputs:    inputs,
		Sender:    sender,
		Display: func(name, text string) {
			log.Debug("display updated", "device", name, "text", text)
		},
		Logger: log.Component("devices"),
	})
	if err != nil {
		return fmt.Errorf("building devices: %w", err)
	}
	log.Info("devices built", "outputs", sum.Listeners, "inputs", sum.Inputs)

	// MQTT sidecars
	if mqttClient != nil {
		state := bridge.NewStatePublisher(mqttClient, bridge.StateConfig{
			QoS:    mqttClient.QoS(),
			Filter: cfg.MQTT.StateFilter,
		})
		state.SetLogger(log.Component("state"))
		defer state.Close()
		listeners.Register(state)
		counters["state_published"] = state.Published
		counters["state_dropped"] = state.Dropped
		counters["state_failed"] = state.Failed

		// The broker may have missed changes while the link was down.
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing state")
			state.Resync()
		})

		if subErr := bridge.SubscribeRemoteInput(mqttClient, cfg.Panel.ID, mqttClient.QoS(), sender); subErr != nil {
			return fmt.Errorf("subscribing to remote input: %w", subErr)
		}
		log.Info("remote input enabled", "topic", mqtt.Topics{}.AllInputs(cfg.Panel.ID))
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		listeners.Register(bridge.NewTelemetryListener(influxClient, cfg.Panel.ID))
		counters["telemetry_points"] = influxClient.Points
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Open address journal (optional)
	var journal *recorder.Recorder
	if cfg.Database.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}

		journal = recorder.New(db.DB, 0)
		journal.SetLogger(log.Component("recorder"))
		if startErr := journal.Start(); startErr != nil {
			return fmt.Errorf("starting recorder: %w", startErr)
		}
		defer journal.Stop()
		listeners.Register(journal)
		log.Info("address journal enabled", "path", cfg.Database.Path)
	}

	listeners.Register(m.FrameListener())

	b := bridge.New(bridge.Config{PollInterval: cfg.PollInterval()}, stream, listeners, inputs)
	b.SetLogger(log.Component("bridge"))
	m.RegisterParser(b.Parser().Stats)

	// Health reporting
	healthCfg := bridge.HealthConfig{
		PanelID:  cfg.Panel.ID,
		Version:  version,
		Interval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
		Stream:   stream,
		Bridge:   b,
	}
	if mqttClient != nil {
		healthCfg.Publisher = mqttClient
	}
	if influxClient != nil {
		healthCfg.Stats = influxClient
	}
	health := bridge.NewHealthReporter(healthCfg)
	health.SetLogger(log.Component("health"))
	if pubErr := health.PublishStarting(); pubErr != nil {
		log.Warn("publishing starting status failed", "error", pubErr)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Status API (optional)
	if cfg.API.Enabled {
		srv, srvErr := newAPIServer(cfg, log, health, journal, m, counters)
		if srvErr != nil {
			return srvErr
		}
		listeners.Register(api.NewFeedListener(srv.Hub()))
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	} else {
		log.Info("status API disabled")
	}

	health.Start(gctx)
	defer health.Stop()

	g.Go(func() error {
		return b.Run(gctx)
	})

	log.Info("initialisation complete",
		"listeners", listeners.Len(),
		"inputs", inputs.Len(),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SIMPIT_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SIMPIT_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newAPIServer wires the status server's optional dependencies.
func newAPIServer(cfg *config.Config, log *logging.Logger, health *bridge.HealthReporter, journal *recorder.Recorder, m *metrics.Metrics, counters map[string]func() uint64) (*api.Server, error) {
	deps := api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		Health:   health,
		Metrics:  m.Handler(),
		Counters: counters,
		Version:  version,
	}
	if journal != nil {
		deps.Addresses = journal
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return srv, nil
}
