package serialport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/tarm/serial"

	"github.com/timzifer/vedirect/config"
	"github.com/timzifer/vedirect/drivers/random"
)

// Source is an open byte stream of one device. Read returns (0, nil) when
// the read timeout elapsed without data and io.EOF when the stream ended.
type Source interface {
	io.ReadWriteCloser
	Name() string
}

// Opener opens the transport described by cfg.
type Opener func(cfg config.TransportConfig) (Source, error)

// Open opens a serial port, TCP bridge, capture file or simulator depending
// on the transport kind.
func Open(cfg config.TransportConfig) (Source, error) {
	switch cfg.ResolvedKind() {
	case config.TransportSerial:
		return openSerial(cfg)
	case config.TransportTCP:
		return openTCP(cfg)
	case config.TransportFile:
		return openFile(cfg)
	case config.TransportSimulate:
		return random.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}

type serialSource struct {
	name string
	port *serial.Port
}

func openSerial(cfg config.TransportConfig) (Source, error) {
	if cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate(),
		ReadTimeout: cfg.ReadTimeoutOrDefault(),
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	return &serialSource{name: "serial:" + cfg.Port, port: port}, nil
}

func (s *serialSource) Read(p []byte) (int, error) {
	n, err := s.port.Read(p)
	// tarm/serial reports an expired read timeout as io.EOF.
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

func (s *serialSource) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialSource) Close() error                { return s.port.Close() }
func (s *serialSource) Name() string                { return s.name }

type tcpSource struct {
	conn    net.Conn
	timeout time.Duration
}

func openTCP(cfg config.TransportConfig) (Source, error) {
	if cfg.Address == "" {
		return nil, errors.New("tcp address is required")
	}
	dialer := &net.Dialer{Timeout: cfg.RetryIntervalOrDefault()}
	conn, err := dialer.Dial("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", cfg.Address, err)
	}
	return &tcpSource{conn: conn, timeout: cfg.ReadTimeoutOrDefault()}, nil
}

func (s *tcpSource) Read(p []byte) (int, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	n, err := s.conn.Read(p)
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *tcpSource) Write(p []byte) (int, error) { return s.conn.Write(p) }
func (s *tcpSource) Close() error                { return s.conn.Close() }
func (s *tcpSource) Name() string                { return "tcp:" + s.conn.RemoteAddr().String() }

// fileSource replays a captured stream. Writes are discarded.
type fileSource struct {
	file *os.File
}

func openFile(cfg config.TransportConfig) (Source, error) {
	if cfg.File == "" {
		return nil, errors.New("capture file is required")
	}
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("open capture %s: %w", cfg.File, err)
	}
	return &fileSource{file: f}, nil
}

func (s *fileSource) Read(p []byte) (int, error)  { return s.file.Read(p) }
func (s *fileSource) Write(p []byte) (int, error) { return len(p), nil }
func (s *fileSource) Close() error                { return s.file.Close() }
func (s *fileSource) Name() string                { return "file:" + s.file.Name() }
