package service

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/vedirect/channels"
	"github.com/timzifer/vedirect/config"
)

// DefaultLiveViewListen is used when EnableLiveView gets an empty address.
const DefaultLiveViewListen = ":18080"

type liveViewServer struct {
	logger  zerolog.Logger
	service *Service
	server  *http.Server
	ln      net.Listener
}

type liveStateResponse struct {
	Devices []liveDevice `json:"devices"`
	System  systemInfo   `json:"system"`
}

type systemInfo struct {
	Goroutines int    `json:"goroutines"`
	MQTT       string `json:"mqtt,omitempty"`
	Published  uint64 `json:"published"`
	Failed     uint64 `json:"failed"`
}

type liveDevice struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	State         string                 `json:"state"`
	Source        config.ModuleReference `json:"source,omitempty"`
	Transport     liveTransport          `json:"transport"`
	Decoder       liveDecoder            `json:"decoder"`
	Dispatched    uint64                 `json:"dispatched"`
	Dropped       uint64                 `json:"dropped"`
	DerivedErrors uint64                 `json:"derived_errors"`
	LastHexFrame  string                 `json:"last_hex_frame,omitempty"`
	Readings      []liveReading          `json:"readings"`
}

type liveTransport struct {
	Source     string     `json:"source"`
	Connected  bool       `json:"connected"`
	BytesRead  uint64     `json:"bytes_read"`
	Reconnects uint64     `json:"reconnects"`
	LastByte   *time.Time `json:"last_byte,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
}

type liveDecoder struct {
	Blocks         uint64     `json:"blocks"`
	Readings       uint64     `json:"readings"`
	ChecksumErrors uint64     `json:"checksum_errors"`
	Malformed      uint64     `json:"malformed"`
	Overflows      uint64     `json:"overflows"`
	Resyncs        uint64     `json:"resyncs"`
	Unmapped       uint64     `json:"unmapped"`
	HexFrames      uint64     `json:"hex_frames"`
	LastBlock      *time.Time `json:"last_block,omitempty"`
	LastDrop       string     `json:"last_drop,omitempty"`
}

type liveReading struct {
	Channel string      `json:"channel"`
	Name    string      `json:"name,omitempty"`
	Label   string      `json:"label,omitempty"`
	Kind    string      `json:"kind"`
	Value   interface{} `json:"value"`
	Text    string      `json:"text"`
	Unit    string      `json:"unit,omitempty"`
	Time    time.Time   `json:"time"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toLiveReading(reading channels.Reading, info channels.Info) liveReading {
	out := liveReading{
		Channel: string(reading.Channel),
		Name:    info.Name,
		Label:   reading.Label,
		Kind:    reading.Value.Kind.String(),
		Text:    reading.Value.String(),
		Unit:    info.Unit,
		Time:    reading.Time,
	}
	switch reading.Value.Kind {
	case channels.KindNumber:
		out.Value, _ = reading.Value.Float64()
	case channels.KindBinary:
		out.Value = reading.Value.Bool
	default:
		out.Value = reading.Value.Text
	}
	return out
}

func toLiveDevice(status DeviceStatus, info func(channels.Channel) channels.Info) liveDevice {
	dev := liveDevice{
		ID:            status.ID,
		Name:          status.Name,
		State:         status.State.String(),
		Source:        status.Source,
		Dispatched:    status.Dispatched,
		Dropped:       status.Dropped,
		DerivedErrors: status.DerivedErrors,
		LastHexFrame:  status.LastHexFrame,
		Transport: liveTransport{
			Source:     status.Transport.Source,
			Connected:  status.Transport.Connected,
			BytesRead:  status.Transport.BytesRead,
			Reconnects: status.Transport.Reconnects,
			LastByte:   timePtr(status.Transport.LastByte),
			LastError:  status.Transport.LastError,
		},
		Decoder: liveDecoder{
			Blocks:         status.Decoder.Blocks,
			Readings:       status.Decoder.Readings,
			ChecksumErrors: status.Decoder.ChecksumErrors,
			Malformed:      status.Decoder.MalformedBlocks,
			Overflows:      status.Decoder.Overflows,
			Resyncs:        status.Decoder.Resyncs,
			Unmapped:       status.Decoder.UnmappedRecords,
			HexFrames:      status.Decoder.HexFrames,
			LastBlock:      timePtr(status.Decoder.LastBlock),
			LastDrop:       string(status.Decoder.LastDropReason),
		},
		Readings: make([]liveReading, 0, len(status.Readings)),
	}
	for _, reading := range status.Readings {
		dev.Readings = append(dev.Readings, toLiveReading(reading, info(reading.Channel)))
	}
	return dev
}

func newLiveViewServer(listen string, svc *Service, logger zerolog.Logger) (*liveViewServer, error) {
	server := &liveViewServer{logger: logger, service: svc}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: server.handler(), ReadHeaderTimeout: 5 * time.Second}
	server.server = srv
	server.ln = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("live view server stopped")
		}
	}()

	logger.Info().Str("listen", ln.Addr().String()).Msg("live view started")
	return server, nil
}

func (s *liveViewServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/devices/", s.handleDeviceCommand)
	return mux
}

func (s *liveViewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := liveViewTemplate.Execute(w, nil); err != nil {
		s.logger.Error().Err(err).Msg("render live view page")
	}
}

func (s *liveViewServer) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	statuses := s.service.Status()
	resp := liveStateResponse{
		Devices: make([]liveDevice, 0, len(statuses)),
		System:  systemInfo{Goroutines: runtime.NumGoroutine()},
	}
	for _, status := range statuses {
		dev := s.service.byID[status.ID]
		resp.Devices = append(resp.Devices, toLiveDevice(status, dev.channelInfo))
	}
	if p := s.service.publisher; p != nil {
		resp.System.MQTT = p.StatusTopic()
		resp.System.Published, resp.System.Failed = p.Stats()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("encode live view state")
	}
}

// handleDeviceCommand serves POST /api/devices/<id>/<command>.
func (s *liveViewServer) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/devices/")
	id, cmd, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	dev, found := s.service.byID[id]
	if !found {
		http.NotFound(w, r)
		return
	}
	switch cmd {
	case CommandRepublish:
		dev.requestRepublish()
	default:
		http.Error(w, "unknown command", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"id": id, "command": cmd}); err != nil {
		s.logger.Error().Err(err).Msg("encode command response")
	}
}

func (s *liveViewServer) addr() string {
	return s.ln.Addr().String()
}

func (s *liveViewServer) close() {
	if s == nil || s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Msg("shutdown live view")
	}
}

var liveViewTemplate = template.Must(template.New("liveview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>VE.Direct Live View</title>
<style>
body { font-family: Arial, sans-serif; margin: 2rem; background: #f7f7f7; color: #222; }
h1 { margin-bottom: 1rem; }
.device { background: #fff; border-radius: 6px; padding: 1rem; margin-bottom: 1.5rem; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.device h2 { margin: 0 0 0.5rem 0; display: flex; gap: 1rem; align-items: baseline; }
.state { font-size: 0.8rem; font-weight: normal; padding: 0.1rem 0.5rem; border-radius: 4px; background: #e3f2fd; color: #1976d2; }
.offline { background: #ffebee; color: #c62828; }
.counters { font-size: 0.85rem; color: #555; margin-bottom: 0.5rem; }
table { border-collapse: collapse; width: 100%; }
th, td { text-align: left; padding: 0.3rem 0.6rem; border-bottom: 1px solid #eee; font-size: 0.9rem; }
th { background: #fafafa; }
button { padding: 0.3rem 0.8rem; border: none; border-radius: 4px; background: #1976d2; color: #fff; cursor: pointer; }
</style>
</head>
<body>
<h1>VE.Direct Live View</h1>
<div id="system" class="counters"></div>
<div id="devices"></div>
<script>
function esc(value) {
  return String(value === undefined || value === null ? "" : value)
    .replace(/&/g, "&amp;").replace(/</g, "&lt;").replace(/>/g, "&gt;");
}
function republish(id) {
  fetch("/api/devices/" + encodeURIComponent(id) + "/republish", { method: "POST" });
}
function render(state) {
  const sys = state.system;
  document.getElementById("system").textContent =
    "goroutines " + sys.goroutines + (sys.mqtt ? " | mqtt " + sys.mqtt + " published " + sys.published + " failed " + sys.failed : "");
  const html = state.devices.map(function (dev) {
    const rows = dev.readings.map(function (r) {
      return "<tr><td>" + esc(r.name || r.channel) + "</td><td>" + esc(r.text) + " " + esc(r.unit) +
        "</td><td>" + esc(r.label) + "</td><td>" + esc(new Date(r.time).toLocaleTimeString()) + "</td></tr>";
    }).join("");
    const link = dev.transport.connected ? "state" : "state offline";
    return "<div class=\"device\"><h2>" + esc(dev.name) + " <span class=\"" + link + "\">" + esc(dev.state) +
      "</span><button onclick=\"republish('" + esc(dev.id) + "')\">Republish</button></h2>" +
      "<div class=\"counters\">" + esc(dev.transport.source) + " | blocks " + dev.decoder.blocks +
      " | checksum errors " + dev.decoder.checksum_errors + " | resyncs " + dev.decoder.resyncs +
      (dev.last_hex_frame ? " | hex " + esc(dev.last_hex_frame) : "") + "</div>" +
      "<table><thead><tr><th>Channel</th><th>Value</th><th>Label</th><th>Updated</th></tr></thead><tbody>" +
      rows + "</tbody></table></div>";
  }).join("");
  document.getElementById("devices").innerHTML = html || "<p>No devices configured.</p>";
}
function refresh() {
  fetch("/api/state").then(function (resp) { return resp.json(); }).then(render).catch(function () {});
}
refresh();
setInterval(refresh, 1000);
</script>
</body>
</html>
`))
