package mqtt

import (
	"fmt"
	"strings"
	"time"

	"github.com/timzifer/vedirect/config"
)

const (
	defaultTopicPrefix     = "vedirect"
	defaultDiscoveryPrefix = "homeassistant"
	defaultManufacturer    = "Victron Energy"
)

// ConnectionSettings describe how to reach the MQTT broker.
type ConnectionSettings struct {
	Broker         string           `yaml:"broker"`
	ClientID       string           `yaml:"client_id,omitempty"`
	CleanSession   *bool            `yaml:"clean_session,omitempty"`
	KeepAlive      *config.Duration `yaml:"keep_alive,omitempty"`
	ConnectTimeout *config.Duration `yaml:"connect_timeout,omitempty"`
	AutoReconnect  *bool            `yaml:"auto_reconnect,omitempty"`
	MaxReconnect   *config.Duration `yaml:"max_reconnect_interval,omitempty"`
	Auth           *AuthSettings    `yaml:"auth,omitempty"`
	TLS            *TLSSettings     `yaml:"tls,omitempty"`
	Will           *WillSettings    `yaml:"will,omitempty"`
}

// AuthSettings capture username/password authentication for MQTT.
type AuthSettings struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TLSSettings allow TLS connections to be configured.
type TLSSettings struct {
	Enabled            bool     `yaml:"enabled"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	CAFile             string   `yaml:"ca_file,omitempty"`
	CertFile           string   `yaml:"cert_file,omitempty"`
	KeyFile            string   `yaml:"key_file,omitempty"`
	ServerName         string   `yaml:"server_name,omitempty"`
	ALPN               []string `yaml:"alpn,omitempty"`
}

// WillSettings describe a last will message. Without one the client
// announces itself offline on <prefix>/status.
type WillSettings struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     *byte  `yaml:"qos,omitempty"`
	Retain  *bool  `yaml:"retain,omitempty"`
}

// PayloadConversion defines how payloads are encoded or decoded.
type PayloadConversion struct {
	Encoding  string `yaml:"encoding,omitempty"`
	ValueType string `yaml:"value_type,omitempty"`
	Path      string `yaml:"path,omitempty"`
}

// Deadband ensures only significant changes trigger a publish.
type Deadband struct {
	Absolute *float64 `yaml:"absolute,omitempty"`
	Percent  *float64 `yaml:"percent,omitempty"`
}

// RateLimit limits how frequently a value may be published.
type RateLimit struct {
	MinInterval config.Duration `yaml:"min_interval,omitempty"`
}

// HomeAssistantOptions configure discovery payloads and availability.
type HomeAssistantOptions struct {
	Enabled         bool            `yaml:"enabled"`
	DiscoveryPrefix string          `yaml:"discovery_prefix,omitempty"`
	Availability    *HAAvailability `yaml:"availability,omitempty"`
}

// HAAvailability overrides the availability payloads.
type HAAvailability struct {
	PayloadOnline  string `yaml:"payload_online,omitempty"`
	PayloadOffline string `yaml:"payload_offline,omitempty"`
}

// Settings is the mqtt section of the configuration.
type Settings struct {
	Enabled       *bool                 `yaml:"enabled,omitempty"`
	Connection    ConnectionSettings    `yaml:",inline"`
	TopicPrefix   string                `yaml:"topic_prefix,omitempty"`
	QoS           *byte                 `yaml:"qos,omitempty"`
	Retain        *bool                 `yaml:"retain,omitempty"`
	Payload       *PayloadConversion    `yaml:"payload,omitempty"`
	Deadband      *Deadband             `yaml:"deadband,omitempty"`
	RateLimit     *RateLimit            `yaml:"rate_limit,omitempty"`
	Commands      bool                  `yaml:"commands,omitempty"`
	HomeAssistant *HomeAssistantOptions `yaml:"home_assistant,omitempty"`
}

// DecodeSettings reads the mqtt section of cfg. It reports false when the
// section is absent or disabled.
func DecodeSettings(cfg *config.Config) (Settings, bool, error) {
	var settings Settings
	present, err := cfg.DecodeMQTT(&settings)
	if err != nil || !present {
		return Settings{}, false, err
	}
	if settings.Enabled != nil && !*settings.Enabled {
		return Settings{}, false, nil
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, false, fmt.Errorf("mqtt: %w", err)
	}
	return settings, true, nil
}

// Validate performs lightweight validation of the settings.
func (s Settings) Validate() error {
	if s.Connection.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if s.QoS != nil && *s.QoS > 2 {
		return fmt.Errorf("qos %d out of range", *s.QoS)
	}
	if s.Payload != nil {
		switch strings.ToLower(s.Payload.Encoding) {
		case "", "string", "json":
		default:
			return fmt.Errorf("payload encoding %q not supported", s.Payload.Encoding)
		}
	}
	if strings.ContainsAny(s.TopicPrefix, "+#") {
		return fmt.Errorf("topic prefix %q must not contain wildcards", s.TopicPrefix)
	}
	return nil
}

// Prefix returns the topic prefix without surrounding slashes.
func (s Settings) Prefix() string {
	prefix := strings.Trim(s.TopicPrefix, "/")
	if prefix == "" {
		return defaultTopicPrefix
	}
	return prefix
}

// ResolvePayload returns the conversion used for readings, plain strings by
// default.
func (s Settings) ResolvePayload() PayloadConversion {
	if s.Payload != nil {
		return *s.Payload
	}
	return PayloadConversion{Encoding: "string"}
}

// RetainFlag resolves the retain behaviour, true unless disabled.
func (s Settings) RetainFlag() bool {
	if s.Retain == nil {
		return true
	}
	return *s.Retain
}

// QoSLevel resolves the QoS for publications.
func (s Settings) QoSLevel() byte {
	if s.QoS == nil {
		return 0
	}
	return *s.QoS
}

// DurationValue converts a config.Duration pointer to time.Duration.
func DurationValue(d *config.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}
