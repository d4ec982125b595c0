package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the panel configuration, read from YAML with SIMPIT_*
// environment overrides on top.
type Config struct {
	Panel    PanelConfig    `yaml:"panel"`
	Stream   StreamConfig   `yaml:"stream"`
	Commands CommandsConfig `yaml:"commands"`
	Poll     PollConfig     `yaml:"poll"`
	Hardware HardwareConfig `yaml:"hardware"`
	Devices  []DeviceConfig `yaml:"devices"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PanelConfig identifies this panel host.
type PanelConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// StreamConfig contains settings for the inbound export byte stream.
type StreamConfig struct {
	// Connection is the link URL:
	//   udp://239.255.50.10:5010          multicast export group
	//   udp://:5010                       plain UDP listener
	//   tcp://host:7778, unix:///run/x    stream sockets
	//   serial:///dev/ttyUSB0?baud=250000 serial line
	Connection string `yaml:"connection"`

	// Interface optionally names the network interface for multicast joins.
	Interface string `yaml:"interface"`

	// ReadBufferSize is the size of each read from the link in bytes.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// QueueSize is the number of chunks buffered between reader and decoder.
	QueueSize int `yaml:"queue_size"`

	// ConnectTimeout in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectMaxDelay caps the reconnect backoff, in seconds.
	ReconnectMaxDelay int `yaml:"reconnect_max_delay"`
}

// CommandsConfig contains settings for the outbound command channel.
type CommandsConfig struct {
	// Connection is where "NAME ARG\n" lines are written.
	// "stream" reuses the inbound link (serial/tcp/unix only).
	// Empty disables the line channel.
	Connection string `yaml:"connection"`

	// MQTT additionally publishes each command to the broker.
	MQTT bool `yaml:"mqtt"`
}

// PollConfig controls how often input sources are sampled.
type PollConfig struct {
	// Interval in milliseconds.
	Interval int `yaml:"interval"`
}

// HardwareConfig selects the pin driver.
type HardwareConfig struct {
	// Driver is "rpio" for Raspberry Pi GPIO or "sim" for the in-memory driver.
	Driver string `yaml:"driver"`

	// ADCChipSelect is the SPI chip select wired to the MCP3008 ADC.
	ADCChipSelect int `yaml:"adc_chip_select"`

	// ADCSpeed is the SPI clock in Hz.
	ADCSpeed int `yaml:"adc_speed"`
}

// DeviceConfig describes one panel device adapter.
//
// Only the fields relevant to Type are read; the rest are ignored.
type DeviceConfig struct {
	Type string `yaml:"type"`
	Name string `yaml:"name"`

	// Inputs
	Pin     int      `yaml:"pin,omitempty"`
	PinA    int      `yaml:"pin_a,omitempty"`
	PinB    int      `yaml:"pin_b,omitempty"`
	Pins    []int    `yaml:"pins,omitempty"`
	Channel int      `yaml:"channel,omitempty"`
	Arg     string   `yaml:"arg,omitempty"`
	DecArg  string   `yaml:"dec_arg,omitempty"`
	IncArg  string   `yaml:"inc_arg,omitempty"`
	Levels  []uint16 `yaml:"levels,omitempty"`
	Reverse bool     `yaml:"reverse,omitempty"`

	// Outputs
	Address  uint16 `yaml:"address,omitempty"`
	Mask     uint16 `yaml:"mask,omitempty"`
	Length   int    `yaml:"length,omitempty"`
	// Servo ranges. Leaving both ends of a range at zero selects the
	// default (input 0..65535, pulse 544..2400 us); a range whose ends are
	// equal and non-zero is rejected.
	MinPulse int    `yaml:"min_pulse,omitempty"`
	MaxPulse int    `yaml:"max_pulse,omitempty"`
	InputMin int    `yaml:"input_min,omitempty"`
	InputMax int    `yaml:"input_max,omitempty"`
}

// DatabaseConfig locates the SQLite address journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig enables the optional broker link.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StateFilter limits state publishing to these addresses. Empty publishes all.
	StateFilter []uint16 `yaml:"state_filter"`

	// HealthInterval between health reports, in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTBrokerConfig says where the broker is and who we are to it.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials. Empty means anonymous.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP status server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig holds HTTP server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig points telemetry at an InfluxDB 2.x bucket.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format (json|text) and output (stdout|stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load builds a Config from built-in defaults, then the YAML file at path,
// then SIMPIT_SECTION_KEY environment variables such as
// SIMPIT_STREAM_CONNECTION, and validates the result.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig is what a panel runs with when the file is silent.
func defaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			ID:   "panel-001",
			Name: "Simpit",
		},
		Stream: StreamConfig{
			Connection:        "udp://239.255.50.10:5010",
			ReadBufferSize:    2048,
			QueueSize:         256,
			ConnectTimeout:    10,
			ReconnectMaxDelay: 120,
		},
		Commands: CommandsConfig{
			Connection: "udp://127.0.0.1:7778",
		},
		Poll: PollConfig{
			Interval: 10,
		},
		Hardware: HardwareConfig{
			Driver:   "sim",
			ADCSpeed: 1_000_000,
		},
		Database: DatabaseConfig{
			Path:        "./data/simpit.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "simpit",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			HealthInterval: 30,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     500,
			FlushInterval: 1,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides lets deployment secrets and links bypass the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIMPIT_STREAM_CONNECTION"); v != "" {
		cfg.Stream.Connection = v
	}
	if v := os.Getenv("SIMPIT_COMMANDS_CONNECTION"); v != "" {
		cfg.Commands.Connection = v
	}
	if v := os.Getenv("SIMPIT_HARDWARE_DRIVER"); v != "" {
		cfg.Hardware.Driver = v
	}

	// MQTT
	if v := os.Getenv("SIMPIT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SIMPIT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SIMPIT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("SIMPIT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SIMPIT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Panel.ID == "" {
		errs = append(errs, "panel.id is required")
	}

	if c.Stream.Connection == "" {
		errs = append(errs, "stream.connection is required")
	}
	if c.Stream.ReadBufferSize < 1 {
		errs = append(errs, "stream.read_buffer_size must be positive")
	}
	if c.Stream.QueueSize < 1 {
		errs = append(errs, "stream.queue_size must be positive")
	}

	if c.Poll.Interval < 1 {
		errs = append(errs, "poll.interval must be at least 1ms")
	}

	switch c.Hardware.Driver {
	case "rpio", "sim":
	default:
		errs = append(errs, fmt.Sprintf("hardware.driver %q must be rpio or sim", c.Hardware.Driver))
	}

	names := make(map[string]bool)
	for i, d := range c.Devices {
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].type is required", i))
		}
		if d.Name != "" {
			if names[d.Name] {
				errs = append(errs, fmt.Sprintf("devices[%d].name %q is duplicated", i, d.Name))
			}
			names[d.Name] = true
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PollInterval returns the input sampling interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Millisecond
}

// GetReadTimeout is API.Timeouts.Read as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout is API.Timeouts.Write as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout is API.Timeouts.Idle as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
