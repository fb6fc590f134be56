package vedirect

import (
	"errors"
	"sync"
	"time"

	"github.com/timzifer/vedirect/channels"
)

// State is the decoder controller state.
type State uint8

const (
	StateIdle State = iota
	StateAccumulating
	StateValidating
	StateDispatching
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateValidating:
		return "validating"
	case StateDispatching:
		return "dispatching"
	case StateResyncing:
		return "resyncing"
	}
	return "unknown"
}

// DropReason classifies discarded input.
type DropReason string

const (
	DropChecksum  DropReason = "checksum"
	DropMalformed DropReason = "malformed"
	DropOverflow  DropReason = "overflow"
	DropHex       DropReason = "hex"
)

// Publisher receives mapped readings. Publish is called synchronously from
// Feed.
type Publisher interface {
	Publish(reading channels.Reading)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(reading channels.Reading)

// Publish calls f.
func (f PublisherFunc) Publish(reading channels.Reading) {
	f(reading)
}

// Hooks expose decoder diagnostics. Every field is optional.
type Hooks struct {
	// OnBlock runs after all readings of a valid block were published.
	OnBlock func(readings int)
	// OnDrop runs for every discarded block or HEX frame.
	OnDrop func(reason DropReason, err error)
	// OnResync runs when the decoder starts scanning for the next start marker.
	OnResync func(reason DropReason)
	// OnUnmapped runs for records of a valid block that produced no reading or
	// carried an unknown enum token.
	OnUnmapped func(record Record, err error)
	// OnHexFrame runs for every HEX frame with a valid checksum.
	OnHexFrame func(frame HexFrame)
}

// Stats are cumulative decoder counters.
type Stats struct {
	Blocks          uint64
	Readings        uint64
	DroppedBlocks   uint64
	ChecksumErrors  uint64
	MalformedBlocks uint64
	Overflows       uint64
	Resyncs         uint64
	UnmappedRecords uint64
	UnknownTokens   uint64
	HexFrames       uint64
	HexErrors       uint64
	LastBlock       time.Time
	LastDrop        time.Time
	LastDropReason  DropReason
	LastDropMessage string
}

// Option customises a Decoder.
type Option func(*Decoder)

// WithMapper replaces the default label table.
func WithMapper(mapper *channels.Mapper) Option {
	return func(d *Decoder) {
		if mapper != nil {
			d.mapper = mapper
		}
	}
}

// WithLimits overrides the record length and record count bounds.
func WithLimits(maxRecordLength, maxRecords int) Option {
	return func(d *Decoder) {
		d.maxRecordLength = maxRecordLength
		d.maxRecords = maxRecords
	}
}

// WithHooks installs diagnostic hooks.
func WithHooks(hooks Hooks) Option {
	return func(d *Decoder) {
		d.hooks = hooks
	}
}

// WithClock overrides the time source used to stamp readings.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// Decoder turns a VE.Direct byte stream into readings. Feed, Write, Reset and
// Republish must be called from a single goroutine; State, Stats and
// LastReadings may be called concurrently.
type Decoder struct {
	acc       *Accumulator
	mapper    *channels.Mapper
	publisher Publisher
	hooks     Hooks
	now       func() time.Time

	maxRecordLength int
	maxRecords      int

	mu      sync.Mutex
	state   State
	stats   Stats
	last    map[channels.Channel]channels.Reading
	order   []channels.Channel
	pending []channels.Reading
}

// NewDecoder returns a decoder publishing to pub. A nil pub discards readings.
func NewDecoder(pub Publisher, opts ...Option) *Decoder {
	d := &Decoder{
		mapper:    channels.DefaultMapper(),
		publisher: pub,
		now:       time.Now,
		last:      make(map[channels.Channel]channels.Reading),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.publisher == nil {
		d.publisher = PublisherFunc(func(channels.Reading) {})
	}
	d.acc = NewAccumulator(d.maxRecordLength, d.maxRecords)
	d.acc.SetHexHandler(d.handleHex)
	d.acc.SetHexErrorHandler(d.hexError)
	return d
}

// State returns the current controller state.
func (d *Decoder) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Stats returns a snapshot of the counters.
func (d *Decoder) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// LastReadings returns the last valid reading per channel in first-seen order.
func (d *Decoder) LastReadings() []channels.Reading {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]channels.Reading, 0, len(d.order))
	for _, ch := range d.order {
		out = append(out, d.last[ch])
	}
	return out
}

// Write feeds every byte of p. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	for _, b := range p {
		d.Feed(b)
	}
	return len(p), nil
}

// Feed consumes one byte and runs any transition it triggers.
func (d *Decoder) Feed(b byte) {
	wasResyncing := d.acc.Resyncing()
	block, err := d.acc.Feed(b)
	switch {
	case err != nil:
		d.drop(DropOverflow, err)
		d.resync(DropOverflow)
		return
	case block != nil:
		d.handleBlock(block)
		return
	}
	if wasResyncing {
		if !d.acc.Resyncing() {
			d.setState(StateIdle)
		}
		return
	}
	if d.state == StateIdle && d.acc.Pending() {
		d.setState(StateAccumulating)
	}
}

// Reset discards any partial block and returns to Idle.
func (d *Decoder) Reset() {
	d.acc.Reset()
	d.setState(StateIdle)
}

// Republish publishes the last valid reading of every channel again and
// returns how many readings were published.
func (d *Decoder) Republish() int {
	readings := d.LastReadings()
	for _, reading := range readings {
		d.publisher.Publish(reading)
	}
	return len(readings)
}

func (d *Decoder) handleBlock(block *Block) {
	d.setState(StateValidating)
	if err := ValidateChecksum(block); err != nil {
		d.drop(DropChecksum, err)
		d.resync(DropChecksum)
		return
	}
	records := make([]Record, 0, len(block.Records))
	for _, raw := range block.Records {
		record, err := DecodeRecord(raw)
		if err != nil {
			d.drop(DropMalformed, err)
			d.resync(DropMalformed)
			return
		}
		records = append(records, record)
	}

	d.setState(StateDispatching)
	now := d.now()
	d.pending = d.pending[:0]
	var unmapped, unknown uint64
	for _, record := range records {
		reading, err := d.mapper.Resolve(record.Label, record.Value)
		switch {
		case err == nil:
		case errors.Is(err, channels.ErrUnrecognizedEnumToken):
			unknown++
			d.unmapped(record, err)
		default:
			unmapped++
			d.unmapped(record, err)
			continue
		}
		reading.Time = now
		d.pending = append(d.pending, reading)
		d.publisher.Publish(reading)
	}

	d.mu.Lock()
	for _, reading := range d.pending {
		if _, ok := d.last[reading.Channel]; !ok {
			d.order = append(d.order, reading.Channel)
		}
		d.last[reading.Channel] = reading
	}
	d.stats.Blocks++
	d.stats.Readings += uint64(len(d.pending))
	d.stats.UnmappedRecords += unmapped
	d.stats.UnknownTokens += unknown
	d.stats.LastBlock = now
	d.state = StateIdle
	d.mu.Unlock()

	if d.hooks.OnBlock != nil {
		d.hooks.OnBlock(len(d.pending))
	}
}

func (d *Decoder) unmapped(record Record, err error) {
	if d.hooks.OnUnmapped != nil {
		d.hooks.OnUnmapped(record, err)
	}
}

func (d *Decoder) handleHex(line []byte) {
	frame, err := ParseHexFrame(line)
	if err != nil {
		d.hexError(err)
		return
	}
	d.mu.Lock()
	d.stats.HexFrames++
	d.mu.Unlock()
	if d.hooks.OnHexFrame != nil {
		d.hooks.OnHexFrame(frame)
	}
}

func (d *Decoder) hexError(err error) {
	d.mu.Lock()
	d.stats.HexErrors++
	d.mu.Unlock()
	if d.hooks.OnDrop != nil {
		d.hooks.OnDrop(DropHex, err)
	}
}

func (d *Decoder) drop(reason DropReason, err error) {
	d.mu.Lock()
	d.stats.DroppedBlocks++
	switch reason {
	case DropChecksum:
		d.stats.ChecksumErrors++
	case DropMalformed:
		d.stats.MalformedBlocks++
	case DropOverflow:
		d.stats.Overflows++
	}
	d.stats.LastDrop = d.now()
	d.stats.LastDropReason = reason
	d.stats.LastDropMessage = err.Error()
	d.mu.Unlock()
	if d.hooks.OnDrop != nil {
		d.hooks.OnDrop(reason, err)
	}
}

func (d *Decoder) resync(reason DropReason) {
	d.acc.Resync()
	d.mu.Lock()
	d.state = StateResyncing
	d.stats.Resyncs++
	d.mu.Unlock()
	if d.hooks.OnResync != nil {
		d.hooks.OnResync(reason)
	}
}

func (d *Decoder) setState(state State) {
	d.mu.Lock()
	d.state = state
	d.mu.Unlock()
}
