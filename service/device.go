package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/vedirect/channels"
	"github.com/timzifer/vedirect/config"
	mqttdrv "github.com/timzifer/vedirect/drivers/mqtt"
	"github.com/timzifer/vedirect/drivers/serialport"
	"github.com/timzifer/vedirect/sinks"
	"github.com/timzifer/vedirect/telemetry"
	"github.com/timzifer/vedirect/vedirect"
)

// device is the pipeline of one VE.Direct device: transport reader,
// decoder, sink registry and derived channels. Everything except the
// status accessors runs on the goroutine executing run.
type device struct {
	cfg       config.DeviceConfig
	logger    zerolog.Logger
	telemetry telemetry.Collector

	decoder  *vedirect.Decoder
	registry *sinks.Registry
	reader   *serialport.Reader
	mqtt     *mqttdrv.DeviceSink
	derived  []*derivedChannel

	republishEvery time.Duration
	lastRepublish  time.Time
	republishReq   atomic.Bool

	mu          sync.Mutex
	lastDerived map[channels.Channel]channels.Reading
	derivedOrd  []channels.Channel
	lastHex     *vedirect.HexFrame
	derivedErrs uint64
}

type deviceDeps struct {
	logger    zerolog.Logger
	telemetry telemetry.Collector
	opener    serialport.Opener
	clock     func() time.Time
	extra     []sinks.Sink
	publisher *mqttdrv.Publisher
}

func newDevice(cfg config.DeviceConfig, deps deviceDeps) (*device, error) {
	derived, err := compileDerived(cfg.Derived)
	if err != nil {
		return nil, err
	}
	d := &device{
		cfg:            cfg,
		logger:         deps.logger,
		telemetry:      deps.telemetry,
		registry:       sinks.NewRegistry(),
		derived:        derived,
		republishEvery: cfg.Republish.Duration,
		lastDerived:    make(map[channels.Channel]channels.Reading),
	}

	decoderOpts := []vedirect.Option{
		vedirect.WithLimits(cfg.Decoder.MaxRecordLength, cfg.Decoder.MaxRecords),
		vedirect.WithHooks(vedirect.Hooks{
			OnBlock:    d.onBlock,
			OnDrop:     d.onDrop,
			OnResync:   d.onResync,
			OnUnmapped: d.onUnmapped,
			OnHexFrame: d.onHexFrame,
		}),
	}
	if deps.clock != nil {
		decoderOpts = append(decoderOpts, vedirect.WithClock(deps.clock))
	}
	d.decoder = vedirect.NewDecoder(d.registry, decoderOpts...)

	if len(cfg.Channels) > 0 {
		active := make([]channels.Channel, 0, len(cfg.Channels))
		for _, ch := range cfg.Channels {
			active = append(active, channels.Channel(ch))
		}
		d.registry.Restrict(active)
	}
	d.registry.RegisterAll(sinks.Func(d.logReading))
	d.registry.RegisterAll(sinks.Numeric(func(ch channels.Channel, value float64) {
		d.telemetry.SetReading(cfg.ID, string(ch), value)
	}))
	for _, s := range deps.extra {
		d.registry.RegisterAll(s)
	}
	if deps.publisher != nil {
		d.mqtt = deps.publisher.Device(deviceInfo(cfg))
		for _, dc := range derived {
			d.mqtt.Describe(dc.Info())
		}
		d.registry.RegisterAll(d.mqtt)
	}

	readerOpts := []serialport.Option{
		serialport.WithLogger(deps.logger),
		serialport.WithPingInterval(cfg.Ping.Duration),
		serialport.WithConnectionHook(d.onConnection),
	}
	if deps.opener != nil {
		readerOpts = append(readerOpts, serialport.WithOpener(deps.opener))
	}
	if deps.clock != nil {
		readerOpts = append(readerOpts, serialport.WithClock(deps.clock))
	}
	d.reader = serialport.NewReader(cfg.Transport, readerOpts...)
	return d, nil
}

func deviceInfo(cfg config.DeviceConfig) mqttdrv.DeviceInfo {
	info := mqttdrv.DeviceInfo{ID: cfg.ID, Name: cfg.DisplayName(), Model: cfg.Model}
	if ha := cfg.HomeAssistant; ha != nil {
		info.DiscoveryDisabled = ha.Disabled
		if ha.Name != "" {
			info.Name = ha.Name
		}
		if ha.Model != "" {
			info.Model = ha.Model
		}
		info.Manufacturer = ha.Manufacturer
		info.SuggestedArea = ha.SuggestedArea
	}
	return info
}

func (d *device) run(ctx context.Context) error {
	d.logger.Info().
		Int("baud", d.cfg.Transport.BaudRate()).
		Dur("frame_timeout", d.cfg.Transport.FrameTimeoutOrDefault()).
		Dur("republish_interval", d.republishEvery).
		Int("derived", len(d.derived)).
		Strs("channels", d.cfg.Channels).
		Msg("device configured")
	return d.reader.Run(ctx, d.decoder, d.tick)
}

// tick runs on the reader goroutine after every read.
func (d *device) tick(now time.Time) {
	due := d.republishEvery > 0 && !d.lastRepublish.IsZero() && now.Sub(d.lastRepublish) >= d.republishEvery
	if d.lastRepublish.IsZero() {
		d.lastRepublish = now
	}
	if !d.republishReq.Swap(false) && !due {
		return
	}
	d.lastRepublish = now
	n := d.republish()
	d.logger.Debug().Int("readings", n).Msg("republished last known readings")
}

func (d *device) republish() int {
	n := d.decoder.Republish()
	for _, reading := range d.derivedReadings() {
		d.registry.Publish(reading)
		n++
	}
	return n
}

// requestRepublish asks the device goroutine to republish on its next read.
func (d *device) requestRepublish() {
	d.republishReq.Store(true)
}

func (d *device) onBlock(readings int) {
	d.telemetry.IncBlocks(d.cfg.ID)
	if len(d.derived) == 0 {
		return
	}
	env := readingEnv(d.decoder.LastReadings())
	now := d.decoder.Stats().LastBlock
	for _, dc := range d.derived {
		reading, ok, err := dc.evaluate(env, now)
		if err != nil {
			d.mu.Lock()
			d.derivedErrs++
			d.mu.Unlock()
			d.logger.Warn().Err(err).Msg("derived channel evaluation failed")
			continue
		}
		if !ok {
			continue
		}
		env[dc.cfg.ID], _ = reading.Value.Float64()
		d.mu.Lock()
		if _, seen := d.lastDerived[reading.Channel]; !seen {
			d.derivedOrd = append(d.derivedOrd, reading.Channel)
		}
		d.lastDerived[reading.Channel] = reading
		d.mu.Unlock()
		d.registry.Publish(reading)
	}
}

func (d *device) onDrop(reason vedirect.DropReason, err error) {
	d.telemetry.IncDropped(d.cfg.ID, string(reason))
	d.logger.Debug().Err(err).Str("reason", string(reason)).Msg("block dropped")
}

func (d *device) onResync(reason vedirect.DropReason) {
	d.telemetry.IncResync(d.cfg.ID, string(reason))
}

func (d *device) onUnmapped(record vedirect.Record, err error) {
	d.logger.Trace().Err(err).Str("label", record.Label).Str("value", record.Value).Msg("record not mapped")
}

func (d *device) onHexFrame(frame vedirect.HexFrame) {
	d.telemetry.IncHexFrames(d.cfg.ID)
	d.mu.Lock()
	d.lastHex = &frame
	d.mu.Unlock()
	d.logger.Debug().Str("frame", frame.String()).Msg("hex frame")
}

func (d *device) onConnection(connected bool) {
	d.telemetry.SetDeviceUp(d.cfg.ID, connected)
	if d.mqtt != nil {
		d.mqtt.SetAvailable(connected)
	}
}

func (d *device) logReading(reading channels.Reading) {
	if e := d.logger.Debug(); e.Enabled() {
		e.Str("channel", string(reading.Channel)).Str("value", reading.Value.String()).Msg("reading")
	}
}

func (d *device) derivedReadings() []channels.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]channels.Reading, 0, len(d.derivedOrd))
	for _, ch := range d.derivedOrd {
		out = append(out, d.lastDerived[ch])
	}
	return out
}

func (d *device) status() DeviceStatus {
	d.mu.Lock()
	derivedErrs := d.derivedErrs
	var hex string
	if d.lastHex != nil {
		hex = d.lastHex.String()
	}
	d.mu.Unlock()
	readings := append(d.decoder.LastReadings(), d.derivedReadings()...)
	return DeviceStatus{
		ID:            d.cfg.ID,
		Name:          d.cfg.DisplayName(),
		Source:        d.cfg.Source,
		State:         d.decoder.State(),
		Transport:     d.reader.Status(),
		Decoder:       d.decoder.Stats(),
		Dispatched:    d.registry.Received(),
		Dropped:       d.registry.Dropped(),
		DerivedErrors: derivedErrs,
		LastHexFrame:  hex,
		Readings:      readings,
	}
}

// channelInfo returns table metadata, or the declaration of a derived channel.
func (d *device) channelInfo(ch channels.Channel) channels.Info {
	if info, ok := channels.Lookup(ch); ok {
		return info
	}
	for _, derived := range d.derived {
		if channels.Channel(derived.cfg.ID) == ch {
			return derived.Info()
		}
	}
	return channels.Info{Channel: ch, Name: string(ch)}
}

func (d *device) close() {
	if d.mqtt != nil {
		d.mqtt.Close()
	}
}
