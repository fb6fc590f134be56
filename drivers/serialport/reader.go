package serialport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timzifer/vedirect/config"
	"github.com/timzifer/vedirect/vedirect"
)

// Decoder consumes the byte stream of one device.
type Decoder interface {
	io.Writer
	State() vedirect.State
	Reset()
}

// Status describes the transport side of a device.
type Status struct {
	Source     string
	Connected  bool
	BytesRead  uint64
	Reconnects uint64
	LastByte   time.Time
	LastError  string
}

// Option customises a Reader.
type Option func(*Reader)

// WithOpener replaces the transport opener, mainly for tests.
func WithOpener(open Opener) Option {
	return func(r *Reader) {
		if open != nil {
			r.open = open
		}
	}
}

// WithClock overrides the time source used for frame gaps and pings.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reader) {
		r.logger = logger
	}
}

// WithPingInterval sends a HEX ping at the given interval. Zero disables it.
func WithPingInterval(interval time.Duration) Option {
	return func(r *Reader) {
		r.ping = interval
	}
}

// WithConnectionHook is called whenever the transport connects or drops.
func WithConnectionHook(fn func(connected bool)) Option {
	return func(r *Reader) {
		r.onConnection = fn
	}
}

// Reader pumps bytes from a Source into a Decoder and reconnects when the
// source fails.
type Reader struct {
	cfg          config.TransportConfig
	open         Opener
	now          func() time.Time
	logger       zerolog.Logger
	ping         time.Duration
	frameTimeout time.Duration
	retry        time.Duration
	bufferSize   int
	onConnection func(bool)

	mu     sync.Mutex
	status Status
}

// NewReader returns a reader for the given transport.
func NewReader(cfg config.TransportConfig, opts ...Option) *Reader {
	r := &Reader{
		cfg:          cfg,
		open:         Open,
		now:          time.Now,
		logger:       zerolog.Nop(),
		frameTimeout: cfg.FrameTimeoutOrDefault(),
		retry:        cfg.RetryIntervalOrDefault(),
		bufferSize:   256,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Status returns a snapshot of the transport state.
func (r *Reader) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Run reads until ctx is cancelled. tick is invoked after every read,
// including empty reads, on the reading goroutine. A capture file ends the
// run with a nil error once it is fully replayed.
func (r *Reader) Run(ctx context.Context, dec Decoder, tick func(time.Time)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := r.open(r.cfg)
		if err != nil {
			r.setError(err)
			r.logger.Error().Err(err).Dur("retry", r.retry).Msg("open transport failed")
			if err := r.wait(ctx); err != nil {
				return err
			}
			continue
		}

		r.setConnected(src.Name(), true)
		r.logger.Info().Str("source", src.Name()).Msg("transport connected")
		err = r.pump(ctx, src, dec, tick)
		_ = src.Close()
		r.setConnected(src.Name(), false)
		dec.Reset()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, io.EOF) && r.cfg.ResolvedKind() == config.TransportFile {
			r.logger.Info().Str("source", src.Name()).Msg("capture replay finished")
			return nil
		}
		r.setError(err)
		r.logger.Warn().Err(err).Str("source", src.Name()).Dur("retry", r.retry).Msg("transport lost")
		if err := r.wait(ctx); err != nil {
			return err
		}
	}
}

func (r *Reader) pump(ctx context.Context, src Source, dec Decoder, tick func(time.Time)) error {
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer stop()

	buf := make([]byte, r.bufferSize)
	var lastByte, lastPing time.Time
	for {
		n, err := src.Read(buf)
		now := r.now()
		if n > 0 {
			if r.frameTimeout > 0 && !lastByte.IsZero() && now.Sub(lastByte) > r.frameTimeout &&
				dec.State() == vedirect.StateAccumulating {
				r.logger.Debug().Dur("gap", now.Sub(lastByte)).Msg("frame gap, discarding partial block")
				dec.Reset()
			}
			lastByte = now
			r.mu.Lock()
			r.status.BytesRead += uint64(n)
			r.status.LastByte = now
			r.mu.Unlock()
			_, _ = dec.Write(buf[:n])
		}
		if tick != nil {
			tick(now)
		}
		if r.ping > 0 && now.Sub(lastPing) >= r.ping {
			lastPing = now
			if _, werr := src.Write(vedirect.PingCommand()); werr != nil {
				r.logger.Debug().Err(werr).Msg("ping failed")
			}
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (r *Reader) wait(ctx context.Context) error {
	timer := time.NewTimer(r.retry)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		r.mu.Lock()
		r.status.Reconnects++
		r.mu.Unlock()
		return nil
	}
}

func (r *Reader) setConnected(source string, connected bool) {
	r.mu.Lock()
	r.status.Source = source
	r.status.Connected = connected
	if connected {
		r.status.LastError = ""
	}
	r.mu.Unlock()
	if r.onConnection != nil {
		r.onConnection(connected)
	}
}

func (r *Reader) setError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	r.status.LastError = err.Error()
	r.mu.Unlock()
}
