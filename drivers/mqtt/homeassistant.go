package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timzifer/vedirect/channels"
)

// DeviceInfo describes a device in discovery payloads.
type DeviceInfo struct {
	ID            string
	Name          string
	Manufacturer  string
	Model         string
	SuggestedArea string
	// DiscoveryDisabled suppresses discovery for this device only.
	DiscoveryDisabled bool
}

type homeAssistant struct {
	prefix  string
	online  string
	offline string
}

func newHomeAssistant(opts *HomeAssistantOptions) *homeAssistant {
	if opts == nil || !opts.Enabled {
		return nil
	}
	ha := &homeAssistant{
		prefix:  strings.Trim(opts.DiscoveryPrefix, "/"),
		online:  "online",
		offline: "offline",
	}
	if ha.prefix == "" {
		ha.prefix = defaultDiscoveryPrefix
	}
	if opts.Availability != nil {
		if opts.Availability.PayloadOnline != "" {
			ha.online = opts.Availability.PayloadOnline
		}
		if opts.Availability.PayloadOffline != "" {
			ha.offline = opts.Availability.PayloadOffline
		}
	}
	return ha
}

func component(info channels.Info) string {
	if info.Kind == channels.KindBinary {
		return "binary_sensor"
	}
	return "sensor"
}

func objectID(device string, ch channels.Channel) string {
	return fmt.Sprintf("%s_%s", device, ch)
}

// discoveryTopic returns <prefix>/<component>/<device>_<channel>/config.
func (h *homeAssistant) discoveryTopic(device string, info channels.Info) string {
	return fmt.Sprintf("%s/%s/%s/config", h.prefix, component(info), objectID(device, info.Channel))
}

// discoveryPayload builds the config message of one channel entity.
func (h *homeAssistant) discoveryPayload(dev DeviceInfo, info channels.Info, stateTopic, availabilityTopic string, conv PayloadConversion) ([]byte, error) {
	id := objectID(dev.ID, info.Channel)
	name := info.Name
	if name == "" {
		name = string(info.Channel)
	}
	payload := map[string]any{
		"name":                  name,
		"object_id":             id,
		"unique_id":             "vedirect_" + id,
		"state_topic":           stateTopic,
		"availability_topic":    availabilityTopic,
		"payload_available":     h.online,
		"payload_not_available": h.offline,
	}
	if info.Unit != "" {
		payload["unit_of_measurement"] = info.Unit
	}
	if info.DeviceClass != "" {
		payload["device_class"] = info.DeviceClass
	}
	if info.StateClass != "" {
		payload["state_class"] = info.StateClass
	}
	switch {
	case info.Kind == channels.KindBinary && strings.EqualFold(conv.Encoding, "json"):
		payload["payload_on"] = true
		payload["payload_off"] = false
	case info.Kind == channels.KindBinary:
		payload["payload_on"] = "ON"
		payload["payload_off"] = "OFF"
	case info.Kind == channels.KindEnum && info.Enum != nil:
		payload["device_class"] = "enum"
		payload["options"] = info.Enum.Names()
	case info.Kind == channels.KindText:
		payload["entity_category"] = "diagnostic"
	}

	device := map[string]any{
		"identifiers":  []string{"vedirect_" + dev.ID},
		"name":         firstNonEmpty(dev.Name, dev.ID),
		"manufacturer": firstNonEmpty(dev.Manufacturer, defaultManufacturer),
	}
	if dev.Model != "" {
		device["model"] = dev.Model
	}
	if dev.SuggestedArea != "" {
		device["suggested_area"] = dev.SuggestedArea
	}
	payload["device"] = device

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("mqtt: encode home assistant discovery: %w", err)
	}
	return body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
