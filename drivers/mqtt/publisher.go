package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/timzifer/vedirect/channels"
)

const publishTimeout = 5 * time.Second

// ErrCommandsDisabled is returned by OnCommand unless commands are enabled.
var ErrCommandsDisabled = errors.New("mqtt: commands are disabled")

// Publisher owns the broker connection shared by all device sinks.
type Publisher struct {
	settings Settings
	conv     PayloadConversion
	client   mqtt.Client
	logger   zerolog.Logger
	ha       *homeAssistant

	mu      sync.Mutex
	devices map[string]*DeviceSink

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher connects to the broker described by settings.
func NewPublisher(settings Settings, logger zerolog.Logger) (*Publisher, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	p := &Publisher{
		settings: settings,
		conv:     settings.ResolvePayload(),
		logger:   logger,
		ha:       newHomeAssistant(settings.HomeAssistant),
		devices:  make(map[string]*DeviceSink),
	}
	will := &WillSettings{Topic: p.StatusTopic(), Payload: "offline"}
	client, err := buildClient(settings.Connection, will, logger, p.onConnect)
	if err != nil {
		return nil, err
	}
	p.client = client
	return p, nil
}

// StatusTopic is where the service announces itself online or offline.
func (p *Publisher) StatusTopic() string {
	return p.settings.Prefix() + "/status"
}

// Stats returns the number of successful and failed publications.
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Device returns the sink of one device, creating it on first use.
func (p *Publisher) Device(dev DeviceInfo) *DeviceSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sink, ok := p.devices[dev.ID]; ok {
		return sink
	}
	sink := &DeviceSink{
		p:         p,
		dev:       dev,
		extra:     make(map[channels.Channel]channels.Info),
		announced: make(map[channels.Channel]bool),
		last:      make(map[channels.Channel]*Update),
	}
	p.devices[dev.ID] = sink
	return sink
}

// Close marks every device and the service offline and disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	sinks := make([]*DeviceSink, 0, len(p.devices))
	for _, sink := range p.devices {
		sinks = append(sinks, sink)
	}
	p.mu.Unlock()
	for _, sink := range sinks {
		sink.Close()
	}
	if p.client == nil || !p.client.IsConnected() {
		return nil
	}
	p.publish(p.client, p.StatusTopic(), true, "offline")
	p.client.Disconnect(250)
	return nil
}

// onConnect runs on every (re)connect: announce the service, then
// re-announce discovery and command subscriptions.
func (p *Publisher) onConnect(client mqtt.Client) {
	p.publish(client, p.StatusTopic(), true, "online")
	p.mu.Lock()
	sinks := make([]*DeviceSink, 0, len(p.devices))
	for _, sink := range p.devices {
		sinks = append(sinks, sink)
	}
	p.mu.Unlock()
	for _, sink := range sinks {
		sink.reconnected(client)
	}
}

func (p *Publisher) publish(client mqtt.Client, topic string, retain bool, payload any) bool {
	token := client.Publish(topic, p.settings.QoSLevel(), retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.failed.Add(1)
		p.logger.Error().Str("topic", topic).Msg("mqtt: publish timeout")
		return false
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		p.logger.Error().Err(err).Str("topic", topic).Msg("mqtt: publish failed")
		return false
	}
	p.published.Add(1)
	return true
}

// DeviceSink publishes the readings of one device below
// <prefix>/<device>/<channel>. It implements sinks.Sink.
type DeviceSink struct {
	p   *Publisher
	dev DeviceInfo

	mu        sync.Mutex
	extra     map[channels.Channel]channels.Info
	announced map[channels.Channel]bool
	last      map[channels.Channel]*Update
	online    bool
	onCommand func(string)
	closed    bool
}

// Describe registers metadata for channels outside the built-in table.
func (s *DeviceSink) Describe(info channels.Info) {
	s.mu.Lock()
	s.extra[info.Channel] = info
	s.mu.Unlock()
}

// Topic returns the state topic of a channel.
func (s *DeviceSink) Topic(ch channels.Channel) string {
	return fmt.Sprintf("%s/%s/%s", s.p.settings.Prefix(), s.dev.ID, ch)
}

// AvailabilityTopic returns the online/offline topic of the device.
func (s *DeviceSink) AvailabilityTopic() string {
	return fmt.Sprintf("%s/%s/status", s.p.settings.Prefix(), s.dev.ID)
}

// CommandTopic returns the topic the device listens on for commands.
func (s *DeviceSink) CommandTopic() string {
	return fmt.Sprintf("%s/%s/cmd", s.p.settings.Prefix(), s.dev.ID)
}

func (s *DeviceSink) info(ch channels.Channel, kind channels.Kind) channels.Info {
	if info, ok := channels.Lookup(ch); ok {
		return info
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, ok := s.extra[ch]; ok {
		return info
	}
	return channels.Info{Channel: ch, Name: string(ch), Kind: kind}
}

// Publish sends a reading, subject to the configured deadband and rate
// limit. A reading stamped with the time of the last publication of its
// channel is a republish and bypasses both.
func (s *DeviceSink) Publish(reading channels.Reading) {
	info := s.info(reading.Channel, reading.Value.Kind)
	s.ensureDiscovery(info)
	s.SetAvailable(true)

	next := Update{Value: compareValue(reading.Value), Timestamp: reading.Time}
	s.mu.Lock()
	last := s.last[reading.Channel]
	s.mu.Unlock()
	republish := last != nil && reading.Time.Equal(last.Timestamp)
	if !republish && !ShouldPublish(s.p.settings.Deadband, s.p.settings.RateLimit, last, next) {
		return
	}

	payload, err := EncodePayload(s.p.conv, payloadValue(s.p.conv, reading.Value))
	if err != nil {
		s.p.logger.Error().Err(err).Str("device", s.dev.ID).Str("channel", string(reading.Channel)).Msg("mqtt: encode payload failed")
		return
	}
	if !s.p.publish(s.p.client, s.Topic(reading.Channel), s.p.settings.RetainFlag(), payload) {
		return
	}
	s.mu.Lock()
	s.last[reading.Channel] = &next
	s.mu.Unlock()
}

// SetAvailable publishes the availability of the device when it changes.
func (s *DeviceSink) SetAvailable(online bool) {
	s.mu.Lock()
	if s.online == online || s.closed {
		s.mu.Unlock()
		return
	}
	s.online = online
	s.mu.Unlock()
	s.p.publish(s.p.client, s.AvailabilityTopic(), true, s.availabilityPayload(online))
}

func (s *DeviceSink) availabilityPayload(online bool) string {
	if s.p.ha == nil {
		if online {
			return "online"
		}
		return "offline"
	}
	if online {
		return s.p.ha.online
	}
	return s.p.ha.offline
}

func (s *DeviceSink) ensureDiscovery(info channels.Info) {
	if s.p.ha == nil || s.dev.DiscoveryDisabled {
		return
	}
	s.mu.Lock()
	done := s.announced[info.Channel]
	s.announced[info.Channel] = true
	s.mu.Unlock()
	if done {
		return
	}
	s.announce(s.p.client, info)
}

func (s *DeviceSink) announce(client mqtt.Client, info channels.Info) {
	body, err := s.p.ha.discoveryPayload(s.dev, info, s.Topic(info.Channel), s.AvailabilityTopic(), s.p.conv)
	if err != nil {
		s.p.logger.Error().Err(err).Str("device", s.dev.ID).Msg("mqtt: build discovery failed")
		return
	}
	topic := s.p.ha.discoveryTopic(s.dev.ID, info)
	if s.p.publish(client, topic, true, body) {
		s.p.logger.Debug().Str("topic", topic).Msg("mqtt: home assistant discovery published")
	}
}

// OnCommand subscribes to the command topic of the device. Payloads are
// either a bare command or {"command": "..."}; fn receives it lower-cased.
func (s *DeviceSink) OnCommand(fn func(command string)) error {
	if !s.p.settings.Commands {
		return ErrCommandsDisabled
	}
	s.mu.Lock()
	s.onCommand = fn
	s.mu.Unlock()
	return s.subscribe(s.p.client)
}

func (s *DeviceSink) subscribe(client mqtt.Client) error {
	token := client.Subscribe(s.CommandTopic(), 1, s.handleCommand)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", s.CommandTopic())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", s.CommandTopic(), err)
	}
	return nil
}

func (s *DeviceSink) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	conv := PayloadConversion{Encoding: "string"}
	if strings.HasPrefix(strings.TrimSpace(string(msg.Payload())), "{") {
		conv = PayloadConversion{Encoding: "json", Path: "command", ValueType: "string"}
	}
	value, err := DecodePayload(conv, msg.Payload())
	if err != nil {
		s.p.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt: invalid command payload")
		return
	}
	command := strings.ToLower(strings.TrimSpace(fmt.Sprint(value)))
	s.mu.Lock()
	fn := s.onCommand
	s.mu.Unlock()
	if fn != nil && command != "" {
		fn(command)
	}
}

func (s *DeviceSink) reconnected(client mqtt.Client) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	announced := make([]channels.Channel, 0, len(s.announced))
	for ch := range s.announced {
		announced = append(announced, ch)
	}
	online := s.online
	subscribe := s.onCommand != nil
	s.mu.Unlock()

	if s.p.ha != nil && !s.dev.DiscoveryDisabled {
		for _, ch := range announced {
			s.announce(client, s.info(ch, channels.KindNumber))
		}
	}
	if online {
		s.p.publish(client, s.AvailabilityTopic(), true, s.availabilityPayload(true))
	}
	if subscribe {
		if err := s.subscribe(client); err != nil {
			s.p.logger.Warn().Err(err).Str("device", s.dev.ID).Msg("mqtt: resubscribe failed")
		}
	}
}

// Close marks the device offline and drops its command subscription.
func (s *DeviceSink) Close() {
	s.SetAvailable(false)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subscribed := s.onCommand != nil
	s.mu.Unlock()
	if subscribed && s.p.client != nil && s.p.client.IsConnected() {
		s.p.client.Unsubscribe(s.CommandTopic()).WaitTimeout(publishTimeout)
	}
	s.p.mu.Lock()
	if s.p.devices[s.dev.ID] == s {
		delete(s.p.devices, s.dev.ID)
	}
	s.p.mu.Unlock()
}
