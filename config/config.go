package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration strings like "5s" or "1m".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return fmt.Errorf("duration value node is nil")
	}
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decode duration: %w", err)
	}
	if raw == "" || raw == "0" {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// ModuleReference captures metadata about the configuration source that defined an entry.
type ModuleReference struct {
	File        string `json:"file,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

// ModuleInclude describes a referenced configuration module.
type ModuleInclude struct {
	Path        string
	Name        string
	Description string
}

// UnmarshalYAML allows module includes to be declared either as scalar strings or structured objects.
func (m *ModuleInclude) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return errors.New("module include node is nil")
	}
	switch value.Kind {
	case yaml.ScalarNode:
		var path string
		if err := value.Decode(&path); err != nil {
			return fmt.Errorf("decode module path: %w", err)
		}
		m.Path = strings.TrimSpace(path)
		return nil
	case yaml.MappingNode:
		type rawModule struct {
			Path        string `yaml:"path"`
			Name        string `yaml:"name"`
			Description string `yaml:"description"`
		}
		var raw rawModule
		if err := value.Decode(&raw); err != nil {
			return fmt.Errorf("decode module include: %w", err)
		}
		if raw.Path == "" {
			return errors.New("module include missing path")
		}
		m.Path = raw.Path
		m.Name = raw.Name
		m.Description = raw.Description
		return nil
	default:
		return fmt.Errorf("unsupported module include node kind %d", value.Kind)
	}
}

// LokiConfig configures optional Loki integration for logging.
type LokiConfig struct {
	Enabled   bool              `yaml:"enabled"`
	URL       string            `yaml:"url"`
	Labels    map[string]string `yaml:"labels"`
	TenantID  string            `yaml:"tenant_id,omitempty"`
	BatchWait Duration          `yaml:"batch_wait,omitempty"`
}

// LoggingConfig encapsulates runtime logging options.
type LoggingConfig struct {
	Level  string     `yaml:"level"`
	Format string     `yaml:"format,omitempty"`
	Loki   LokiConfig `yaml:"loki"`
}

// TelemetryConfig configures runtime telemetry exporters.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider,omitempty"`
	// Listen is the address of the /metrics endpoint, for example ":9102".
	Listen string `yaml:"listen,omitempty"`
}

// Transport kinds.
const (
	TransportSerial   = "serial"
	TransportTCP      = "tcp"
	TransportFile     = "file"
	TransportSimulate = "simulate"
)

const (
	DefaultBaudRate      = 19200
	DefaultReadTimeout   = 100 * time.Millisecond
	DefaultFrameTimeout  = 200 * time.Millisecond
	DefaultRetryInterval = 5 * time.Second
)

// TransportConfig describes where the byte stream of a device comes from.
type TransportConfig struct {
	Kind string `yaml:"kind,omitempty"`
	// Port is the serial device, for example /dev/ttyUSB0.
	Port string `yaml:"port,omitempty"`
	Baud int    `yaml:"baud,omitempty"`
	// Address is host:port of a serial-to-TCP bridge.
	Address string `yaml:"address,omitempty"`
	// File replays a captured byte stream.
	File          string   `yaml:"file,omitempty"`
	ReadTimeout   Duration `yaml:"read_timeout,omitempty"`
	FrameTimeout  Duration `yaml:"frame_timeout,omitempty"`
	RetryInterval Duration `yaml:"retry_interval,omitempty"`
	// Simulate configures the built-in block generator.
	Simulate *SimulateConfig `yaml:"simulate,omitempty"`
}

// SimulateConfig drives a generated byte stream, useful for demos and
// dashboards without hardware.
type SimulateConfig struct {
	// Profile selects the device family: "mppt" (default) or "bmv".
	Profile string `yaml:"profile,omitempty"`
	// Source is "pseudo" (default) or "secure".
	Source   string   `yaml:"source,omitempty"`
	Seed     *int64   `yaml:"seed,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
	// CorruptRate is the probability of emitting a block with a bad checksum.
	CorruptRate float64 `yaml:"corrupt_rate,omitempty"`
}

// ResolvedKind returns the transport kind, inferred from the populated
// fields when kind is omitted.
func (t TransportConfig) ResolvedKind() string {
	if kind := strings.ToLower(strings.TrimSpace(t.Kind)); kind != "" {
		return kind
	}
	switch {
	case t.Address != "":
		return TransportTCP
	case t.File != "":
		return TransportFile
	case t.Simulate != nil:
		return TransportSimulate
	default:
		return TransportSerial
	}
}

// Endpoint returns the port, address or file the transport opens.
func (t TransportConfig) Endpoint() string {
	switch t.ResolvedKind() {
	case TransportTCP:
		return t.Address
	case TransportFile:
		return t.File
	case TransportSimulate:
		if t.Simulate != nil && t.Simulate.Profile != "" {
			return t.Simulate.Profile
		}
		return "mppt"
	default:
		return t.Port
	}
}

// BaudRate returns the configured baud rate, 19200 by default.
func (t TransportConfig) BaudRate() int {
	if t.Baud <= 0 {
		return DefaultBaudRate
	}
	return t.Baud
}

// ReadTimeoutOrDefault returns how long a single read may block.
func (t TransportConfig) ReadTimeoutOrDefault() time.Duration {
	if t.ReadTimeout.Duration <= 0 {
		return DefaultReadTimeout
	}
	return t.ReadTimeout.Duration
}

// FrameTimeoutOrDefault returns the inter-byte gap after which a partial
// block is discarded. Negative values disable the check.
func (t TransportConfig) FrameTimeoutOrDefault() time.Duration {
	switch {
	case t.FrameTimeout.Duration < 0:
		return 0
	case t.FrameTimeout.Duration == 0:
		return DefaultFrameTimeout
	}
	return t.FrameTimeout.Duration
}

// RetryIntervalOrDefault returns the delay between reconnect attempts.
func (t TransportConfig) RetryIntervalOrDefault() time.Duration {
	if t.RetryInterval.Duration <= 0 {
		return DefaultRetryInterval
	}
	return t.RetryInterval.Duration
}

// DecoderConfig bounds the frame accumulator.
type DecoderConfig struct {
	MaxRecordLength int `yaml:"max_record_length,omitempty"`
	MaxRecords      int `yaml:"max_records,omitempty"`
}

// DerivedChannelConfig declares a numeric channel computed from other
// channels of the same device.
type DerivedChannelConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name,omitempty"`
	Unit       string `yaml:"unit,omitempty"`
	Expression string `yaml:"expression"`
}

// HomeAssistantConfig overrides discovery details for one device.
type HomeAssistantConfig struct {
	Disabled      bool   `yaml:"disabled,omitempty"`
	Name          string `yaml:"name,omitempty"`
	Manufacturer  string `yaml:"manufacturer,omitempty"`
	Model         string `yaml:"model,omitempty"`
	SuggestedArea string `yaml:"suggested_area,omitempty"`
}

// DeviceConfig configures one VE.Direct device.
type DeviceConfig struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name,omitempty"`
	Model     string          `yaml:"model,omitempty"`
	Disable   bool            `yaml:"disable,omitempty"`
	Transport TransportConfig `yaml:"transport"`
	Decoder   DecoderConfig   `yaml:"decoder,omitempty"`
	// Channels selects the channels that reach sinks; empty means all.
	Channels      []string               `yaml:"channels,omitempty"`
	Republish     Duration               `yaml:"republish_interval,omitempty"`
	Ping          Duration               `yaml:"ping_interval,omitempty"`
	Derived       []DerivedChannelConfig `yaml:"derived,omitempty"`
	HomeAssistant *HomeAssistantConfig   `yaml:"home_assistant,omitempty"`
	Source        ModuleReference        `yaml:"-"`
}

// DisplayName returns the configured name or the id.
func (d DeviceConfig) DisplayName() string {
	if strings.TrimSpace(d.Name) != "" {
		return d.Name
	}
	return d.ID
}

// Config is the root configuration structure for the service.
type Config struct {
	Name        string          `yaml:"name,omitempty"`
	Description string          `yaml:"description,omitempty"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	// MQTT holds the MQTT driver settings, decoded by the driver.
	MQTT           *yaml.Node      `yaml:"mqtt,omitempty"`
	Modules        []ModuleInclude `yaml:"modules"`
	Devices        []DeviceConfig  `yaml:"devices"`
	HotReload      bool            `yaml:"hot_reload,omitempty"`
	ReloadInterval Duration        `yaml:"reload_interval,omitempty"`
	Source         ModuleReference `yaml:"-"`
	// Files lists every configuration file that was read.
	Files []string `yaml:"-"`
}

// DecodeMQTT decodes the mqtt section into out. It reports false when the
// section is absent.
func (c *Config) DecodeMQTT(out any) (bool, error) {
	if c == nil || c.MQTT == nil || c.MQTT.Kind == 0 {
		return false, nil
	}
	if err := c.MQTT.Decode(out); err != nil {
		return true, fmt.Errorf("decode mqtt settings: %w", err)
	}
	return true, nil
}

// ReloadIntervalOrDefault returns how often configuration files are checked
// for changes.
func (c *Config) ReloadIntervalOrDefault() time.Duration {
	if c == nil || c.ReloadInterval.Duration <= 0 {
		return 2 * time.Second
	}
	return c.ReloadInterval.Duration
}

// ActiveDevices returns the devices that are not disabled.
func (c *Config) ActiveDevices() []DeviceConfig {
	if c == nil {
		return nil
	}
	out := make([]DeviceConfig, 0, len(c.Devices))
	for _, dev := range c.Devices {
		if dev.Disable {
			continue
		}
		out = append(out, dev)
	}
	return out
}
