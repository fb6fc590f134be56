package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/timzifer/vedirect/channels"
)

var (
	errUnsupportedEncoding = errors.New("mqtt: unsupported payload encoding")
	errUnsupportedType     = errors.New("mqtt: unsupported payload value type")
)

// Update describes a value published for a channel.
type Update struct {
	Value     any
	Timestamp time.Time
}

// DecodePayload decodes the raw MQTT payload into a Go value using the conversion settings.
func DecodePayload(cfg PayloadConversion, payload []byte) (any, error) {
	switch strings.ToLower(cfg.Encoding) {
	case "json", "":
		return decodeJSON(cfg, payload)
	case "string":
		return string(payload), nil
	default:
		return nil, errUnsupportedEncoding
	}
}

func decodeJSON(cfg PayloadConversion, payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		switch strings.ToLower(cfg.ValueType) {
		case "float", "number":
			return strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		case "bool", "boolean":
			return strconv.ParseBool(strings.TrimSpace(string(payload)))
		case "string", "text":
			return string(payload), nil
		default:
			return nil, fmt.Errorf("%w: %q", errUnsupportedType, cfg.ValueType)
		}
	}

	if cfg.Path != "" {
		current := value
		for _, segment := range strings.Split(cfg.Path, ".") {
			m, ok := current.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("mqtt: path %s not present", cfg.Path)
			}
			current = m[segment]
		}
		value = current
	}

	return coerceType(cfg.ValueType, value)
}

func coerceType(kind string, value any) (any, error) {
	switch strings.ToLower(kind) {
	case "", "any":
		return value, nil
	case "float", "number":
		switch v := value.(type) {
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
		return nil, fmt.Errorf("mqtt: cannot convert %T to float", value)
	case "bool", "boolean":
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		case float64:
			return v != 0, nil
		}
		return nil, fmt.Errorf("mqtt: cannot convert %T to boolean", value)
	case "string", "text":
		if value == nil {
			return "", nil
		}
		return fmt.Sprint(value), nil
	default:
		return nil, fmt.Errorf("mqtt: unknown value type %s", kind)
	}
}

// EncodePayload encodes a Go value to bytes for outbound MQTT messages.
func EncodePayload(cfg PayloadConversion, value any) ([]byte, error) {
	switch strings.ToLower(cfg.Encoding) {
	case "json":
		if cfg.ValueType == "string" {
			return json.Marshal(fmt.Sprint(value))
		}
		return json.Marshal(value)
	case "string", "":
		return []byte(fmt.Sprint(value)), nil
	default:
		return nil, errUnsupportedEncoding
	}
}

// payloadValue returns the representation of a reading for the encoding:
// the display string for "string", typed JSON values otherwise. Enums are
// published by name.
func payloadValue(cfg PayloadConversion, v channels.Value) any {
	if !strings.EqualFold(cfg.Encoding, "json") {
		return v.String()
	}
	switch v.Kind {
	case channels.KindNumber:
		return json.Number(v.Number.String())
	case channels.KindBinary:
		return v.Bool
	default:
		return v.String()
	}
}

// compareValue is the value deadbands and change detection work on.
func compareValue(v channels.Value) any {
	if v.Kind == channels.KindNumber {
		f, _ := v.Float64()
		return f
	}
	return v.String()
}

// ShouldPublish evaluates whether a new value should be published based on
// deadband and rate limit constraints.
func ShouldPublish(deadband *Deadband, rateLimit *RateLimit, last *Update, next Update) bool {
	if last == nil {
		return true
	}

	if rateLimit != nil && rateLimit.MinInterval.Duration > 0 {
		if next.Timestamp.Sub(last.Timestamp) < rateLimit.MinInterval.Duration {
			return false
		}
	}

	if deadband == nil {
		return true
	}

	lastFloat, lastOK := toFloat(last.Value)
	nextFloat, nextOK := toFloat(next.Value)
	if !lastOK || !nextOK {
		return next.Value != last.Value
	}

	if deadband.Absolute != nil {
		diff := nextFloat - lastFloat
		if diff < 0 {
			diff = -diff
		}
		if diff < *deadband.Absolute {
			return false
		}
	}

	if deadband.Percent != nil && lastFloat != 0 {
		diff := (nextFloat - lastFloat) / lastFloat
		if diff < 0 {
			diff = -diff
		}
		if diff*100 < *deadband.Percent {
			return false
		}
	}

	return true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
