package telemetry

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func resetVectors() {
	vectorsLock.Lock()
	counters = map[string]*prometheus.CounterVec{}
	gauges = map[string]*prometheus.GaugeVec{}
	vectorsLock.Unlock()
}

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.IncHotReload("config.yaml")
	collector.IncBlocks("mppt")
	collector.SetReading("mppt", "battery_voltage", 12.8)
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	resetVectors()

	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.NotNil(t, collector)

	collector.IncHotReload("a.yaml")

	mf := gatherFamily(t, reg, "vedirect_config_hot_reload_total")
	requireCounterValue(t, mf, 1)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.hotReloads, again.hotReloads)

	again.IncHotReload("a.yaml")
	requireCounterValue(t, gatherFamily(t, reg, "vedirect_config_hot_reload_total"), 2)
}

func TestPrometheusCollectorReusesVectorsRegisteredElsewhere(t *testing.T) {
	resetVectors()
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	resetVectors()
	second, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, first.blocks, second.blocks)
}

func TestPrometheusCollectorDecoderMetrics(t *testing.T) {
	resetVectors()
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncBlocks("mppt")
	collector.IncBlocks("mppt")
	collector.IncDropped("mppt", "checksum")
	collector.IncResync("mppt", "checksum")
	collector.IncHexFrames("mppt")
	collector.SetReading("mppt", "battery_voltage", 12.8)
	collector.SetDeviceUp("mppt", true)

	requireCounterValue(t, gatherFamily(t, reg, "vedirect_blocks_total"), 2)
	requireCounterValue(t, gatherFamily(t, reg, "vedirect_dropped_total"), 1)
	requireCounterValue(t, gatherFamily(t, reg, "vedirect_resyncs_total"), 1)
	requireCounterValue(t, gatherFamily(t, reg, "vedirect_hex_frames_total"), 1)

	reading := gatherFamily(t, reg, "vedirect_reading")
	require.Len(t, reading.Metric, 1)
	require.Equal(t, 12.8, reading.Metric[0].GetGauge().GetValue())
	labels := map[string]string{}
	for _, pair := range reading.Metric[0].GetLabel() {
		labels[pair.GetName()] = pair.GetValue()
	}
	require.Equal(t, map[string]string{"device": "mppt", "channel": "battery_voltage"}, labels)

	up := gatherFamily(t, reg, "vedirect_device_up")
	require.Equal(t, 1.0, up.Metric[0].GetGauge().GetValue())
}

func TestServerExposesMetrics(t *testing.T) {
	resetVectors()
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	collector.IncBlocks("bmv")

	srv, err := Listen("127.0.0.1:0", reg, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	require.True(t, strings.Contains(body, `vedirect_blocks_total{device="bmv"} 1`), body)

	cancel()
	require.NoError(t, <-done)
}

func TestListenRequiresAddress(t *testing.T) {
	_, err := Listen("", nil, zerolog.Nop())
	require.Error(t, err)
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	metrics, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range metrics {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func requireCounterValue(t *testing.T, mf *dto.MetricFamily, value float64) {
	t.Helper()
	require.Len(t, mf.Metric, 1)
	require.NotNil(t, mf.Metric[0].Counter)
	require.Equal(t, value, mf.Metric[0].Counter.GetValue())
}
