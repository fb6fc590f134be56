package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/timzifer/vedirect/channels"
)

func ensureIdentifier(value, kind string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s identifier must not be empty", kind)
	}
	if strings.Contains(trimmed, ".") {
		return fmt.Errorf("%s %q must not contain '.'", kind, trimmed)
	}
	for idx, r := range trimmed {
		if idx == 0 && unicode.IsDigit(r) {
			return fmt.Errorf("%s %q must not start with a digit", kind, trimmed)
		}
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return fmt.Errorf("%s %q contains invalid character %q", kind, trimmed, r)
		}
	}
	return nil
}

func validateConfigIdentifiers(cfg *Config) error {
	for _, dev := range cfg.Devices {
		if err := ensureIdentifier(dev.ID, "device"); err != nil {
			return err
		}
		for _, derived := range dev.Derived {
			if err := ensureIdentifier(derived.ID, "derived channel"); err != nil {
				return fmt.Errorf("device %s: %w", dev.ID, err)
			}
		}
	}
	return nil
}

// Validate checks cross references the schema cannot express: unique
// device ids, transport endpoints and channel selections.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	seen := make(map[string]string, len(c.Devices))
	for _, dev := range c.Devices {
		if prev, dup := seen[dev.ID]; dup {
			return fmt.Errorf("device %q declared twice (%s and %s)", dev.ID, prev, dev.Source.File)
		}
		seen[dev.ID] = dev.Source.File
		if err := dev.validate(); err != nil {
			return fmt.Errorf("device %s: %w", dev.ID, err)
		}
	}
	switch strings.ToLower(c.Telemetry.Provider) {
	case "", "prometheus":
	default:
		return fmt.Errorf("telemetry provider %q not supported", c.Telemetry.Provider)
	}
	return nil
}

func (d DeviceConfig) validate() error {
	t := d.Transport
	switch t.ResolvedKind() {
	case TransportSerial:
		if t.Port == "" {
			return errors.New("serial transport requires port")
		}
	case TransportTCP:
		if t.Address == "" {
			return errors.New("tcp transport requires address")
		}
	case TransportFile:
		if t.File == "" {
			return errors.New("file transport requires file")
		}
	case TransportSimulate:
		if sim := t.Simulate; sim != nil {
			switch strings.ToLower(sim.Profile) {
			case "", "mppt", "bmv":
			default:
				return fmt.Errorf("unknown simulate profile %q", sim.Profile)
			}
			if sim.CorruptRate < 0 || sim.CorruptRate > 1 {
				return errors.New("simulate corrupt_rate must be between 0 and 1")
			}
		}
	default:
		return fmt.Errorf("unknown transport kind %q", t.Kind)
	}

	derived := make(map[string]struct{}, len(d.Derived))
	for _, dc := range d.Derived {
		if strings.TrimSpace(dc.Expression) == "" {
			return fmt.Errorf("derived channel %s requires expression", dc.ID)
		}
		if _, ok := channels.Lookup(channels.Channel(dc.ID)); ok {
			return fmt.Errorf("derived channel %s shadows a built-in channel", dc.ID)
		}
		if _, dup := derived[dc.ID]; dup {
			return fmt.Errorf("derived channel %s declared twice", dc.ID)
		}
		derived[dc.ID] = struct{}{}
	}
	for _, name := range d.Channels {
		if _, ok := channels.Lookup(channels.Channel(name)); ok {
			continue
		}
		if _, ok := derived[name]; ok {
			continue
		}
		return fmt.Errorf("unknown channel %q", name)
	}
	return nil
}
