// Package service runs one VE.Direct pipeline per configured device.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/vedirect/channels"
	"github.com/timzifer/vedirect/config"
	mqttdrv "github.com/timzifer/vedirect/drivers/mqtt"
	"github.com/timzifer/vedirect/drivers/serialport"
	"github.com/timzifer/vedirect/internal/logging"
	"github.com/timzifer/vedirect/sinks"
	"github.com/timzifer/vedirect/telemetry"
	"github.com/timzifer/vedirect/vedirect"
)

// CommandRepublish asks a device to publish its last known readings again.
const CommandRepublish = "republish"

// Service owns the device pipelines and the shared MQTT connection.
type Service struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry telemetry.Collector
	publisher *mqttdrv.Publisher

	devices  []*device
	byID     map[string]*device
	liveView *liveViewServer

	closeOnce sync.Once
}

// DeviceStatus is a snapshot of one device pipeline.
type DeviceStatus struct {
	ID            string
	Name          string
	Source        config.ModuleReference
	State         vedirect.State
	Transport     serialport.Status
	Decoder       vedirect.Stats
	Dispatched    uint64
	Dropped       uint64
	DerivedErrors uint64
	LastHexFrame  string
	Readings      []channels.Reading
}

// Option customises a Service.
type Option func(*options)

type options struct {
	telemetry telemetry.Collector
	opener    serialport.Opener
	clock     func() time.Time
	sinks     []sinks.Sink
	mqtt      *mqttdrv.Publisher
	noMQTT    bool
}

// WithTelemetry routes decoder counters and readings to collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(o *options) {
		if collector != nil {
			o.telemetry = collector
		}
	}
}

// WithOpener replaces the transport opener of every device.
func WithOpener(open serialport.Opener) Option {
	return func(o *options) {
		o.opener = open
	}
}

// WithClock overrides the time source of decoders and readers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithSink attaches an additional sink to every channel of every device.
func WithSink(s sinks.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sinks = append(o.sinks, s)
		}
	}
}

// WithMQTTPublisher uses an existing publisher instead of connecting with
// the mqtt section of the configuration. The service does not close it.
func WithMQTTPublisher(p *mqttdrv.Publisher) Option {
	return func(o *options) {
		o.mqtt = p
	}
}

// WithoutMQTT ignores the mqtt section.
func WithoutMQTT() Option {
	return func(o *options) {
		o.noMQTT = true
	}
}

// New builds the pipelines of all enabled devices. Transports are opened by
// Run.
func New(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	o := options{telemetry: telemetry.Noop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	s := &Service{
		cfg:       cfg,
		logger:    logger,
		telemetry: o.telemetry,
		byID:      make(map[string]*device),
	}

	publisher := o.mqtt
	if publisher == nil && !o.noMQTT {
		settings, ok, err := mqttdrv.DecodeSettings(cfg)
		if err != nil {
			return nil, err
		}
		if ok {
			publisher, err = mqttdrv.NewPublisher(settings, logger.With().Str("component", "mqtt").Logger())
			if err != nil {
				return nil, err
			}
			s.publisher = publisher
		}
	}

	for _, devCfg := range cfg.ActiveDevices() {
		dev, err := newDevice(devCfg, deviceDeps{
			logger:    logging.ForDevice(logger, devCfg),
			telemetry: o.telemetry,
			opener:    o.opener,
			clock:     o.clock,
			extra:     o.sinks,
			publisher: publisher,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("device %s: %w", devCfg.ID, err)
		}
		if dev.mqtt != nil {
			if err := dev.mqtt.OnCommand(dev.command); err != nil && !errors.Is(err, mqttdrv.ErrCommandsDisabled) {
				logger.Warn().Err(err).Str("device", devCfg.ID).Msg("mqtt commands unavailable")
			}
		}
		s.devices = append(s.devices, dev)
		s.byID[devCfg.ID] = dev
	}
	return s, nil
}

func (d *device) command(cmd string) {
	switch cmd {
	case CommandRepublish:
		d.requestRepublish()
	default:
		d.logger.Warn().Str("command", cmd).Msg("unknown command")
	}
}

// Validate checks that every device pipeline of cfg can be built without
// opening transports or connecting to MQTT.
func Validate(cfg *config.Config, logger zerolog.Logger) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, _, err := mqttdrv.DecodeSettings(cfg); err != nil {
		return err
	}
	for _, devCfg := range cfg.ActiveDevices() {
		if _, err := compileDerived(devCfg.Derived); err != nil {
			return fmt.Errorf("device %s: %w", devCfg.ID, err)
		}
	}
	logger.Debug().Int("devices", len(cfg.ActiveDevices())).Msg("configuration validated")
	return nil
}

// Run starts every device and blocks until ctx is cancelled or all devices
// stopped. Devices replaying capture files stop on their own.
func (s *Service) Run(ctx context.Context) error {
	if len(s.devices) == 0 {
		s.logger.Warn().Msg("no devices configured")
		<-ctx.Done()
		return ctx.Err()
	}
	var wg sync.WaitGroup
	errs := make([]error, len(s.devices))
	for i, dev := range s.devices {
		wg.Add(1)
		go func(i int, dev *device) {
			defer wg.Done()
			if err := dev.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = fmt.Errorf("device %s: %w", dev.cfg.ID, err)
			}
		}(i, dev)
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return ctx.Err()
}

// Republish asks device id to publish its last known readings again.
func (s *Service) Republish(id string) error {
	dev, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("unknown device %q", id)
	}
	dev.requestRepublish()
	return nil
}

// Status returns a snapshot of every device, ordered by id.
func (s *Service) Status() []DeviceStatus {
	out := make([]DeviceStatus, 0, len(s.devices))
	for _, dev := range s.devices {
		out = append(out, dev.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LastReadings returns the last valid reading of every channel of a device,
// derived channels included.
func (s *Service) LastReadings(id string) ([]channels.Reading, error) {
	dev, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown device %q", id)
	}
	return append(dev.decoder.LastReadings(), dev.derivedReadings()...), nil
}

// EnableLiveView starts the optional live view HTTP server.
func (s *Service) EnableLiveView(listen string) error {
	if s == nil {
		return errors.New("service is nil")
	}
	if s.liveView != nil {
		return errors.New("live view already enabled")
	}
	if listen == "" {
		listen = DefaultLiveViewListen
	}
	server, err := newLiveViewServer(listen, s, s.logger.With().Str("component", "live_view").Logger())
	if err != nil {
		return err
	}
	s.liveView = server
	return nil
}

// Close stops the live view, marks devices offline and disconnects from
// MQTT. It is safe to call more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.liveView.close()
		for _, dev := range s.devices {
			dev.close()
		}
		if s.publisher != nil {
			if err := s.publisher.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("close mqtt publisher")
			}
		}
	})
	return nil
}
