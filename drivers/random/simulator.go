// Package random simulates a VE.Direct device. It emits checksummed text
// blocks with drifting values and answers HEX commands, so pipelines can run
// without hardware.
package random

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/timzifer/vedirect/config"
	"github.com/timzifer/vedirect/vedirect"
)

// DefaultInterval matches the one block per second of real devices.
const DefaultInterval = time.Second

// Option customises a Simulator.
type Option func(*Simulator)

// WithClock overrides the time source that paces blocks.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSleep overrides how Read waits for the next block.
func WithSleep(sleep func(time.Duration)) Option {
	return func(s *Simulator) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// Simulator is a byte stream source producing one block per interval.
type Simulator struct {
	name        string
	profile     profile
	src         randomSource
	interval    time.Duration
	readTimeout time.Duration
	corruptRate float64
	now         func() time.Time
	sleep       func(time.Duration)

	mu       sync.Mutex
	pending  []byte
	replies  []byte
	command  []byte
	next     time.Time
	last     time.Time
	closed   bool
	blocks   uint64
	corrupts uint64
}

// New creates a simulator from the simulate section of a transport.
func New(cfg config.TransportConfig, opts ...Option) (*Simulator, error) {
	sim := config.SimulateConfig{}
	if cfg.Simulate != nil {
		sim = *cfg.Simulate
	}
	src, err := newRandomSource(sim.Source, sim.Seed)
	if err != nil {
		return nil, err
	}
	prof, err := newProfile(sim.Profile, src)
	if err != nil {
		return nil, err
	}
	interval := sim.Interval.Duration
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Simulator{
		name:        "simulate:" + cfg.Endpoint(),
		profile:     prof,
		src:         src,
		interval:    interval,
		readTimeout: cfg.ReadTimeoutOrDefault(),
		corruptRate: sim.CorruptRate,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Name identifies the simulator in logs.
func (s *Simulator) Name() string { return s.name }

// Blocks returns how many blocks were generated and how many of them carry a
// corrupted checksum.
func (s *Simulator) Blocks() (total, corrupted uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks, s.corrupts
}

// Read returns bytes of the current block. Between blocks it waits at most
// the read timeout and then returns (0, nil). HEX replies are sent between
// blocks only.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.EOF
	}
	if len(s.pending) == 0 && len(s.replies) > 0 {
		s.pending, s.replies = s.replies, nil
	}
	if len(s.pending) == 0 {
		now := s.now()
		if now.Before(s.next) {
			wait := s.next.Sub(now)
			if wait > s.readTimeout {
				wait = s.readTimeout
			}
			s.mu.Unlock()
			s.sleep(wait)
			s.mu.Lock()
			if s.closed {
				return 0, io.EOF
			}
			now = s.now()
			if now.Before(s.next) {
				return 0, nil
			}
		}
		block, err := s.generate(now)
		if err != nil {
			return 0, err
		}
		s.pending = block
		s.next = now.Add(s.interval)
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Simulator) generate(now time.Time) ([]byte, error) {
	elapsed := s.interval
	if !s.last.IsZero() {
		elapsed = now.Sub(s.last)
	}
	s.last = now
	fields, err := s.profile.next(s.src, elapsed)
	if err != nil {
		return nil, err
	}
	corrupt, err := chance(s.src, s.corruptRate)
	if err != nil {
		return nil, err
	}
	block := encodeBlock(fields)
	if corrupt {
		block[len(block)-1]++
		s.corrupts++
	}
	s.blocks++
	return block, nil
}

// encodeBlock renders fields followed by a checksum record that makes the
// block sum to zero.
func encodeBlock(fields []field) []byte {
	var buf bytes.Buffer
	for _, f := range fields {
		buf.WriteString("\r\n")
		buf.WriteString(f.label)
		buf.WriteByte('\t')
		buf.WriteString(f.value)
	}
	buf.WriteString("\r\nChecksum\t")
	buf.WriteByte(vedirect.ChecksumFor(buf.Bytes()))
	return buf.Bytes()
}

// Write accepts HEX commands. Each complete line queues a reply.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.command = append(s.command, p...)
	for {
		idx := bytes.IndexByte(s.command, '\n')
		if idx < 0 {
			break
		}
		line := s.command[:idx]
		s.command = s.command[idx+1:]
		if start := bytes.IndexByte(line, ':'); start >= 0 {
			s.replies = append(s.replies, s.reply(line[start:])...)
		}
	}
	return len(p), nil
}

func (s *Simulator) reply(line []byte) []byte {
	frame, err := vedirect.ParseHexFrame(line)
	if err != nil {
		return append(vedirect.EncodeHexFrame(vedirect.HexError, []byte{0xAA, 0xAA}), '\n')
	}
	word := make([]byte, 2)
	switch frame.Command {
	case vedirect.HexPing:
		binary.LittleEndian.PutUint16(word, s.profile.version())
		return append(vedirect.EncodeHexFrame(vedirect.HexPingAck, word), '\n')
	case vedirect.HexAppVersion:
		binary.LittleEndian.PutUint16(word, s.profile.version())
		return append(vedirect.EncodeHexFrame(vedirect.HexDone, word), '\n')
	case vedirect.HexProductID:
		binary.LittleEndian.PutUint16(word, s.profile.product())
		return append(vedirect.EncodeHexFrame(vedirect.HexDone, word), '\n')
	default:
		return append(vedirect.EncodeHexFrame(vedirect.HexUnknown, nil), '\n')
	}
}

// Close stops the stream. Further reads return io.EOF.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
