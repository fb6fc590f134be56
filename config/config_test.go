package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
}

func TestLoadDevice(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `name: Van
logging:
  level: debug
telemetry:
  enabled: true
  listen: ":9102"
devices:
  - id: mppt
    name: Solar charger
    transport:
      port: /dev/ttyUSB0
      frame_timeout: 300ms
    decoder:
      max_records: 40
    channels: [battery_voltage, panel_power, battery_power]
    republish_interval: 30s
    derived:
      - id: battery_power
        expression: battery_voltage * battery_current
        unit: W
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Devices) != 1 {
		t.Fatalf("expected 1 device, got %d", len(cfg.Devices))
	}
	dev := cfg.Devices[0]
	if dev.DisplayName() != "Solar charger" {
		t.Fatalf("unexpected name %q", dev.DisplayName())
	}
	if kind := dev.Transport.ResolvedKind(); kind != TransportSerial {
		t.Fatalf("expected serial transport, got %s", kind)
	}
	if dev.Transport.BaudRate() != DefaultBaudRate {
		t.Fatalf("expected default baud, got %d", dev.Transport.BaudRate())
	}
	if dev.Transport.FrameTimeoutOrDefault() != 300*time.Millisecond {
		t.Fatalf("unexpected frame timeout %s", dev.Transport.FrameTimeoutOrDefault())
	}
	if dev.Transport.RetryIntervalOrDefault() != DefaultRetryInterval {
		t.Fatalf("unexpected retry interval %s", dev.Transport.RetryIntervalOrDefault())
	}
	if dev.Decoder.MaxRecords != 40 {
		t.Fatalf("unexpected max records %d", dev.Decoder.MaxRecords)
	}
	if dev.Republish.Duration != 30*time.Second {
		t.Fatalf("unexpected republish interval %s", dev.Republish.Duration)
	}
	if len(dev.Derived) != 1 || dev.Derived[0].ID != "battery_power" {
		t.Fatalf("unexpected derived channels %+v", dev.Derived)
	}
	if cfg.Logging.Level != "debug" || !cfg.Telemetry.Enabled || cfg.Telemetry.Listen != ":9102" {
		t.Fatalf("unexpected ambient config %+v %+v", cfg.Logging, cfg.Telemetry)
	}
	if !strings.HasSuffix(dev.Source.File, "config.yaml") || dev.Source.Name != "Van" {
		t.Fatalf("unexpected source %+v", dev.Source)
	}
}

func TestTransportKindInference(t *testing.T) {
	cases := []struct {
		transport TransportConfig
		kind      string
		endpoint  string
	}{
		{TransportConfig{Port: "/dev/ttyUSB1"}, TransportSerial, "/dev/ttyUSB1"},
		{TransportConfig{Address: "10.0.0.5:8899"}, TransportTCP, "10.0.0.5:8899"},
		{TransportConfig{File: "capture.bin"}, TransportFile, "capture.bin"},
		{TransportConfig{Kind: "TCP", Address: "bridge:23"}, TransportTCP, "bridge:23"},
		{TransportConfig{Simulate: &SimulateConfig{}}, TransportSimulate, "mppt"},
		{TransportConfig{Kind: "simulate", Simulate: &SimulateConfig{Profile: "bmv"}}, TransportSimulate, "bmv"},
	}
	for _, tc := range cases {
		if got := tc.transport.ResolvedKind(); got != tc.kind {
			t.Fatalf("%+v: expected kind %s, got %s", tc.transport, tc.kind, got)
		}
		if got := tc.transport.Endpoint(); got != tc.endpoint {
			t.Fatalf("%+v: expected endpoint %s, got %s", tc.transport, tc.endpoint, got)
		}
	}
	disabled := TransportConfig{FrameTimeout: Duration{-time.Second}}
	if disabled.FrameTimeoutOrDefault() != 0 {
		t.Fatalf("negative frame timeout should disable the check")
	}
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.yaml")
	writeFile(t, filepath.Join(dir, "module.yaml"), `devices:
  - id: shunt
    transport:
      address: 192.168.1.20:8899
`)
	writeFile(t, mainPath, `modules:
  - module.yaml
devices:
  - id: mppt
    transport:
      port: /dev/ttyUSB0
`)

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(cfg.Devices))
	}
	if cfg.Devices[0].ID != "mppt" || cfg.Devices[1].ID != "shunt" {
		t.Fatalf("unexpected device order %s, %s", cfg.Devices[0].ID, cfg.Devices[1].ID)
	}
}

func TestModuleMetadataPropagation(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "config.yaml")
	writeFile(t, filepath.Join(dir, "module.yaml"), `devices:
  - id: inverter
    transport:
      port: /dev/ttyUSB2
`)
	writeFile(t, mainPath, `name: Root Config
description: Root description
modules:
  - path: module.yaml
    name: Inverter Module
    description: AC side
devices:
  - id: mppt
    transport:
      port: /dev/ttyUSB0
`)

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	devices := make(map[string]DeviceConfig)
	for _, dev := range cfg.Devices {
		devices[dev.ID] = dev
	}

	base := devices["mppt"]
	if base.Source.Name != "Root Config" || base.Source.Description != "Root description" {
		t.Fatalf("unexpected root source %+v", base.Source)
	}
	if !strings.HasSuffix(base.Source.File, "config.yaml") {
		t.Fatalf("expected config.yaml, got %q", base.Source.File)
	}

	inverter := devices["inverter"]
	if inverter.Source.Name != "Inverter Module" || inverter.Source.Description != "AC side" {
		t.Fatalf("unexpected module source %+v", inverter.Source)
	}
	if !strings.HasSuffix(inverter.Source.File, "module.yaml") {
		t.Fatalf("expected module.yaml, got %q", inverter.Source.File)
	}

	files := SourceFiles(cfg)
	if len(files) != 2 {
		t.Fatalf("expected 2 source files, got %v", files)
	}
}

func TestModuleCycleRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.yaml"), "modules:\n  - b.yaml\n")
	writeFile(t, filepath.Join(dir, "b.yaml"), "modules:\n  - a.yaml\n")

	_, err := Load(filepath.Join(dir, "a.yaml"))
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "10-logging.yaml"), "logging:\n  level: warn\n")
	writeFile(t, filepath.Join(dir, "20-devices.yml"), `devices:
  - id: replay
    transport:
      file: capture.bin
`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(dir, "secrets.values.yaml"), "secret: hunter2\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected warn level, got %q", cfg.Logging.Level)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Transport.ResolvedKind() != TransportFile {
		t.Fatalf("unexpected devices %+v", cfg.Devices)
	}
	if len(SourceFiles(cfg)) != 2 {
		t.Fatalf("expected 2 source files, got %v", SourceFiles(cfg))
	}
}

func TestValuesSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "site.values.yaml"), "port: /dev/ttyACM0\nbaud: 19200\n")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `values:
  - site.values.yaml
  - host: bridge.local:23
devices:
  - id: serial
    transport:
      port: !port
      baud: !baud
  - id: network
    transport:
      address: !host
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Devices[0].Transport.Port != "/dev/ttyACM0" || cfg.Devices[0].Transport.Baud != 19200 {
		t.Fatalf("unexpected serial transport %+v", cfg.Devices[0].Transport)
	}
	if cfg.Devices[1].Transport.Address != "bridge.local:23" {
		t.Fatalf("unexpected address %q", cfg.Devices[1].Transport.Address)
	}
}

func TestValuesInheritedByModules(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "module.yaml"), `devices:
  - id: shunt
    transport:
      port: !shunt_port
`)
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `values:
  - shunt_port: /dev/ttyUSB3
modules:
  - module.yaml
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0].Transport.Port != "/dev/ttyUSB3" {
		t.Fatalf("unexpected devices %+v", cfg.Devices)
	}
}

func TestValuesFileMustUseSuffix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "secrets.yaml"), "port: /dev/ttyUSB0\n")
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `values:
  - secrets.yaml
devices:
  - id: mppt
    transport:
      port: !port
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid values file suffix")
	}
}

func TestUnknownValueReference(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `devices:
  - id: mppt
    transport:
      port: !missing
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected unknown value error, got %v", err)
	}
}

func TestValidationErrors(t *testing.T) {
	cases := map[string]string{
		"dotted id": `devices:
  - id: bad.name
    transport: {port: /dev/ttyUSB0}
`,
		"duplicate id": `devices:
  - id: mppt
    transport: {port: /dev/ttyUSB0}
  - id: mppt
    transport: {port: /dev/ttyUSB1}
`,
		"missing port": `devices:
  - id: mppt
    transport: {kind: serial}
`,
		"unknown channel": `devices:
  - id: mppt
    transport: {port: /dev/ttyUSB0}
    channels: [warp_factor]
`,
		"derived shadows built-in": `devices:
  - id: mppt
    transport: {port: /dev/ttyUSB0}
    derived:
      - id: battery_voltage
        expression: "1"
`,
		"unknown key": `devices:
  - id: mppt
    transport: {port: /dev/ttyUSB0}
    baudrate: 9600
`,
		"bad transport kind": `devices:
  - id: mppt
    transport: {kind: usb, port: /dev/ttyUSB0}
`,
		"bad simulate profile": `devices:
  - id: sim
    transport:
      simulate: {profile: inverter}
`,
		"bad corrupt rate": `devices:
  - id: sim
    transport:
      simulate: {corrupt_rate: 2}
`,
		"bad duration": `devices:
  - id: mppt
    transport: {port: /dev/ttyUSB0}
    republish_interval: soon
`,
		"unsupported telemetry provider": `telemetry:
  enabled: true
  provider: statsd
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, path, content)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecodeMQTT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `mqtt:
  broker: tcp://localhost:1883
  topic_prefix: victron
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var settings struct {
		Broker string `yaml:"broker"`
		Prefix string `yaml:"topic_prefix"`
	}
	present, err := cfg.DecodeMQTT(&settings)
	if err != nil || !present {
		t.Fatalf("decode mqtt: present=%v err=%v", present, err)
	}
	if settings.Broker != "tcp://localhost:1883" || settings.Prefix != "victron" {
		t.Fatalf("unexpected settings %+v", settings)
	}

	empty := &Config{}
	if present, err := empty.DecodeMQTT(&settings); present || err != nil {
		t.Fatalf("expected absent mqtt section, got present=%v err=%v", present, err)
	}
}

func TestActiveDevicesSkipsDisabled(t *testing.T) {
	cfg := &Config{Devices: []DeviceConfig{{ID: "a"}, {ID: "b", Disable: true}, {ID: "c"}}}
	active := cfg.ActiveDevices()
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "c" {
		t.Fatalf("unexpected active devices %+v", active)
	}
}
