package telemetry

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures telemetry events emitted by the decoders and the
// service.
//
// Implementations may forward metrics to Prometheus, loggers or other
// monitoring systems. They are called inline from decoder goroutines and
// must be cheap.
type Collector interface {
	IncHotReload(file string)
	IncBlocks(device string)
	IncDropped(device, reason string)
	IncResync(device, reason string)
	IncHexFrames(device string)
	SetReading(device, channel string, value float64)
	SetDeviceUp(device string, up bool)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncHotReload(string)                {}
func (noopCollector) IncBlocks(string)                   {}
func (noopCollector) IncDropped(string, string)          {}
func (noopCollector) IncResync(string, string)           {}
func (noopCollector) IncHexFrames(string)                {}
func (noopCollector) SetReading(string, string, float64) {}
func (noopCollector) SetDeviceUp(string, bool)           {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	hotReloads *prometheus.CounterVec
	blocks     *prometheus.CounterVec
	dropped    *prometheus.CounterVec
	resyncs    *prometheus.CounterVec
	hexFrames  *prometheus.CounterVec
	readings   *prometheus.GaugeVec
	deviceUp   *prometheus.GaugeVec
}

// Vectors are shared across collectors so a hot reload that builds a new
// collector against the same registerer keeps counting.
var (
	vectorsLock sync.Mutex
	counters    = map[string]*prometheus.CounterVec{}
	gauges      = map[string]*prometheus.GaugeVec{}
)

// NewPrometheusCollector registers the required metrics with the provided registerer.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	vectorsLock.Lock()
	defer vectorsLock.Unlock()

	var err error
	c := &PrometheusCollector{}
	if c.hotReloads, err = counterVec(reg, "vedirect_config_hot_reload_total",
		"Number of hot reload operations triggered per configuration source file.", "file"); err != nil {
		return nil, err
	}
	if c.blocks, err = counterVec(reg, "vedirect_blocks_total",
		"Number of blocks that passed checksum validation and were dispatched.", "device"); err != nil {
		return nil, err
	}
	if c.dropped, err = counterVec(reg, "vedirect_dropped_total",
		"Number of blocks or HEX frames discarded, by reason.", "device", "reason"); err != nil {
		return nil, err
	}
	if c.resyncs, err = counterVec(reg, "vedirect_resyncs_total",
		"Number of times a decoder started scanning for the next start marker.", "device", "reason"); err != nil {
		return nil, err
	}
	if c.hexFrames, err = counterVec(reg, "vedirect_hex_frames_total",
		"Number of valid HEX protocol frames received.", "device"); err != nil {
		return nil, err
	}
	if c.readings, err = gaugeVec(reg, "vedirect_reading",
		"Last numeric value published per channel.", "device", "channel"); err != nil {
		return nil, err
	}
	if c.deviceUp, err = gaugeVec(reg, "vedirect_device_up",
		"Whether the transport of a device is connected.", "device"); err != nil {
		return nil, err
	}
	return c, nil
}

func counterVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.CounterVec, error) {
	if existing, ok := counters[name]; ok {
		return existing, nil
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	if err := reg.Register(counter); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		counter = existing
	}
	counters[name] = counter
	return counter, nil
}

func gaugeVec(reg prometheus.Registerer, name, help string, labels ...string) (*prometheus.GaugeVec, error) {
	if existing, ok := gauges[name]; ok {
		return existing, nil
	}
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	if err := reg.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return nil, err
		}
		gauge = existing
	}
	gauges[name] = gauge
	return gauge, nil
}

// IncHotReload increments the counter for the provided file path.
func (p *PrometheusCollector) IncHotReload(file string) {
	if p == nil || p.hotReloads == nil {
		return
	}
	p.hotReloads.WithLabelValues(file).Inc()
}

// IncBlocks counts a dispatched block.
func (p *PrometheusCollector) IncBlocks(device string) {
	if p == nil || p.blocks == nil {
		return
	}
	p.blocks.WithLabelValues(device).Inc()
}

// IncDropped counts a discarded block or HEX frame.
func (p *PrometheusCollector) IncDropped(device, reason string) {
	if p == nil || p.dropped == nil {
		return
	}
	p.dropped.WithLabelValues(device, reason).Inc()
}

// IncResync counts a decoder resync.
func (p *PrometheusCollector) IncResync(device, reason string) {
	if p == nil || p.resyncs == nil {
		return
	}
	p.resyncs.WithLabelValues(device, reason).Inc()
}

// IncHexFrames counts a valid HEX frame.
func (p *PrometheusCollector) IncHexFrames(device string) {
	if p == nil || p.hexFrames == nil {
		return
	}
	p.hexFrames.WithLabelValues(device).Inc()
}

// SetReading exports the latest numeric value of a channel.
func (p *PrometheusCollector) SetReading(device, channel string, value float64) {
	if p == nil || p.readings == nil {
		return
	}
	p.readings.WithLabelValues(device, channel).Set(value)
}

// SetDeviceUp records the transport state of a device.
func (p *PrometheusCollector) SetDeviceUp(device string, up bool) {
	if p == nil || p.deviceUp == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	p.deviceUp.WithLabelValues(device).Set(v)
}
