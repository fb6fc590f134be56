package vedirect

import (
	"bytes"
	"fmt"
)

const (
	// DefaultMaxRecordLength bounds a single "label\tvalue" record.
	DefaultMaxRecordLength = 64
	// DefaultMaxRecords bounds the number of records held for one block.
	DefaultMaxRecords = 32
	// DefaultMaxHexLength bounds a HEX frame line including the leading ':'.
	DefaultMaxHexLength = 128

	checksumLabel = "Checksum"
)

// Block is one complete text block as seen on the wire.
type Block struct {
	// Raw holds every text byte of the block, delimiters and checksum byte included.
	Raw []byte
	// Records holds the "label\tvalue" records in arrival order, without line
	// delimiters and without the checksum record.
	Records [][]byte
	// Checksum is the byte that followed "Checksum\t".
	Checksum byte
}

type accState uint8

const (
	accBreak accState = iota
	accLabel
	accValue
	accChecksum
	accResync
)

type span struct {
	start int
	end   int
}

// Accumulator assembles a byte stream into blocks. It is not safe for
// concurrent use.
type Accumulator struct {
	maxRecordLength int
	maxRecords      int
	maxHexLength    int

	state     accState
	raw       []byte
	records   []span
	recStart  int
	prev      byte
	hex       []byte
	inHex      bool
	hexDiscard bool
	hexResume  accState
	onHex      func([]byte)
	onHexError func(error)
}

// NewAccumulator returns an accumulator with the given bounds. Non positive
// values select the defaults.
func NewAccumulator(maxRecordLength, maxRecords int) *Accumulator {
	if maxRecordLength <= 0 {
		maxRecordLength = DefaultMaxRecordLength
	}
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	return &Accumulator{
		maxRecordLength: maxRecordLength,
		maxRecords:      maxRecords,
		maxHexLength:    DefaultMaxHexLength,
		raw:             make([]byte, 0, maxRecordLength*4),
		records:         make([]span, 0, maxRecords),
	}
}

// SetHexHandler installs the callback receiving complete HEX frame lines
// (starting with ':' and without the trailing line feed). The slice is only
// valid for the duration of the call.
func (a *Accumulator) SetHexHandler(fn func([]byte)) {
	a.onHex = fn
}

// SetHexErrorHandler installs the callback told about HEX lines discarded for
// exceeding the HEX line bound.
func (a *Accumulator) SetHexErrorHandler(fn func(error)) {
	a.onHexError = fn
}

// Pending reports whether text bytes of an unfinished block are buffered.
func (a *Accumulator) Pending() bool {
	return a.state != accResync && len(a.raw) > 0
}

// Resyncing reports whether the accumulator is discarding bytes until the next
// "\r\n" start marker.
func (a *Accumulator) Resyncing() bool {
	return a.state == accResync
}

// Reset discards any partial block and HEX frame.
func (a *Accumulator) Reset() {
	a.clear()
	a.state = accBreak
	a.prev = 0
	a.inHex = false
	a.hexDiscard = false
	a.hex = a.hex[:0]
}

// Resync discards the partial block and skips bytes until "\r\n".
func (a *Accumulator) Resync() {
	a.clear()
	a.state = accResync
	a.prev = 0
}

func (a *Accumulator) clear() {
	a.raw = a.raw[:0]
	a.records = a.records[:0]
	a.recStart = 0
}

// Feed consumes one byte. It returns the completed block when b terminated
// one, or ErrBufferOverflow when b pushed the buffer past its bounds. In the
// latter case the buffer is already discarded and the accumulator resyncs.
func (a *Accumulator) Feed(b byte) (*Block, error) {
	if a.inHex {
		a.feedHex(b)
		return nil, nil
	}
	if b == ':' && a.state != accChecksum {
		a.inHex = true
		a.hexResume = a.state
		a.hex = append(a.hex[:0], b)
		return nil, nil
	}

	switch a.state {
	case accResync:
		found := a.prev == '\r' && b == '\n'
		a.prev = b
		if found {
			a.clear()
			a.raw = append(a.raw, '\r', '\n')
			a.state = accBreak
		}
		return nil, nil
	case accChecksum:
		a.raw = append(a.raw, b)
		block := a.take(b)
		a.state = accBreak
		return block, nil
	case accBreak:
		a.raw = append(a.raw, b)
		if b == '\r' || b == '\n' {
			if len(a.raw) > a.maxBlockLength() {
				return nil, a.overflow(fmt.Sprintf("block longer than %d bytes", a.maxBlockLength()))
			}
			return nil, nil
		}
		a.recStart = len(a.raw) - 1
		a.state = accLabel
		return a.checkRecordLength(b)
	case accLabel:
		a.raw = append(a.raw, b)
		switch b {
		case '\t':
			if bytes.Equal(a.raw[a.recStart:len(a.raw)-1], []byte(checksumLabel)) {
				a.state = accChecksum
				return nil, nil
			}
			a.state = accValue
		case '\n':
			return a.endRecord()
		}
		return a.checkRecordLength(b)
	case accValue:
		a.raw = append(a.raw, b)
		if b == '\n' {
			return a.endRecord()
		}
		return a.checkRecordLength(b)
	}
	return nil, nil
}

func (a *Accumulator) feedHex(b byte) {
	if b == '\n' {
		line := bytes.TrimRight(a.hex, "\r")
		discarded := a.hexDiscard
		a.inHex = false
		a.hexDiscard = false
		a.state = a.hexResume
		if !discarded && a.onHex != nil {
			a.onHex(line)
		}
		a.hex = a.hex[:0]
		return
	}
	if a.hexDiscard {
		return
	}
	if len(a.hex) >= a.maxHexLength {
		// Skip the rest of the line so it does not leak into the text block.
		a.hexDiscard = true
		a.hex = a.hex[:0]
		if a.onHexError != nil {
			a.onHexError(fmt.Errorf("%w: HEX line longer than %d bytes", ErrMalformedHexFrame, a.maxHexLength))
		}
		return
	}
	a.hex = append(a.hex, b)
}

func (a *Accumulator) endRecord() (*Block, error) {
	end := len(a.raw) - 1
	for end > a.recStart && a.raw[end-1] == '\r' {
		end--
	}
	if len(a.records) >= a.maxRecords {
		return nil, a.overflow(fmt.Sprintf("more than %d records", a.maxRecords))
	}
	a.records = append(a.records, span{start: a.recStart, end: end})
	a.state = accBreak
	return nil, nil
}

// checkRecordLength enforces the record bound after b was stored. A single
// trailing '\r' belongs to the line delimiter and is not counted.
func (a *Accumulator) checkRecordLength(b byte) (*Block, error) {
	n := len(a.raw) - a.recStart
	if b == '\r' {
		n--
	}
	if n > a.maxRecordLength {
		return nil, a.overflow(fmt.Sprintf("record longer than %d bytes", a.maxRecordLength))
	}
	return nil, nil
}

func (a *Accumulator) maxBlockLength() int {
	return a.maxRecords*(a.maxRecordLength+2) + len(checksumLabel) + 4
}

func (a *Accumulator) overflow(detail string) error {
	a.Resync()
	return fmt.Errorf("%w: %s", ErrBufferOverflow, detail)
}

func (a *Accumulator) take(checksum byte) *Block {
	raw := append([]byte(nil), a.raw...)
	records := make([][]byte, len(a.records))
	for i, s := range a.records {
		records[i] = raw[s.start:s.end:s.end]
	}
	a.clear()
	return &Block{Raw: raw, Records: records, Checksum: checksum}
}
