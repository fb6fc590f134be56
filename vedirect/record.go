package vedirect

import (
	"bytes"
	"fmt"
)

// Record is one decoded "label\tvalue" line.
type Record struct {
	Label string
	Value string
}

// String renders the record the way it appears on the wire.
func (r Record) String() string {
	return r.Label + "\t" + r.Value
}

// DecodeRecord splits a raw record at its first tab. Surrounding line
// delimiters are ignored.
func DecodeRecord(raw []byte) (Record, error) {
	raw = bytes.Trim(raw, "\r\n")
	idx := bytes.IndexByte(raw, '\t')
	if idx < 0 {
		return Record{}, fmt.Errorf("%w: missing tab in %q", ErrMalformedRecord, raw)
	}
	label, value := raw[:idx], raw[idx+1:]
	if len(label) == 0 {
		return Record{}, fmt.Errorf("%w: empty label", ErrMalformedRecord)
	}
	if i := nonPrintable(label); i >= 0 {
		return Record{}, fmt.Errorf("%w: label byte 0x%02x at %d", ErrMalformedRecord, label[i], i)
	}
	if i := nonPrintable(value); i >= 0 {
		return Record{}, fmt.Errorf("%w: %s value byte 0x%02x at %d", ErrMalformedRecord, label, value[i], i)
	}
	return Record{Label: string(label), Value: string(value)}, nil
}

func nonPrintable(b []byte) int {
	for i, c := range b {
		if c < 0x20 || c > 0x7e {
			return i
		}
	}
	return -1
}
