package channels

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnrecognizedLabel reports a label missing from the table.
	ErrUnrecognizedLabel = errors.New("channels: unrecognized label")
	// ErrUnrecognizedEnumToken reports an enum code missing from its table.
	// The reading is still produced with Known set to false.
	ErrUnrecognizedEnumToken = errors.New("channels: unrecognized enum token")
	// ErrInvalidValue reports a value that does not parse as its kind.
	ErrInvalidValue = errors.New("channels: invalid value")
)

// Mapper resolves records through a label table. It is immutable and safe
// for concurrent use.
type Mapper struct {
	entries map[string]Entry
}

var defaultMapper = mustMapper(Table)

// DefaultMapper returns the mapper over Table.
func DefaultMapper() *Mapper {
	return defaultMapper
}

// NewMapper builds a mapper over entries. Labels must be unique.
func NewMapper(entries []Entry) (*Mapper, error) {
	m := &Mapper{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if e.Label == "" || e.Channel == "" {
			return nil, fmt.Errorf("channels: entry %q: label and channel are required", e.Label)
		}
		if e.Kind == KindEnum && e.Enum == nil {
			return nil, fmt.Errorf("channels: entry %q: enum table missing", e.Label)
		}
		if _, dup := m.entries[e.Label]; dup {
			return nil, fmt.Errorf("channels: duplicate label %q", e.Label)
		}
		m.entries[e.Label] = e
	}
	return m, nil
}

func mustMapper(entries []Entry) *Mapper {
	m, err := NewMapper(entries)
	if err != nil {
		panic(err)
	}
	return m
}

// Entry returns the table entry of label.
func (m *Mapper) Entry(label string) (Entry, bool) {
	e, ok := m.entries[label]
	return e, ok
}

// Map returns the reading for a record, or false when the label is unknown
// or the value does not parse. Unknown enum codes still map.
func (m *Mapper) Map(label, value string) (Reading, bool) {
	reading, err := m.Resolve(label, value)
	if err != nil && !errors.Is(err, ErrUnrecognizedEnumToken) {
		return Reading{}, false
	}
	return reading, true
}

// Resolve is Map with the reason for a missing reading. For
// ErrUnrecognizedEnumToken the returned reading is valid.
func (m *Mapper) Resolve(label, value string) (Reading, error) {
	e, ok := m.entries[label]
	if !ok {
		return Reading{}, fmt.Errorf("%w: %q", ErrUnrecognizedLabel, label)
	}
	v, err := e.parse(value)
	if err != nil && !errors.Is(err, ErrUnrecognizedEnumToken) {
		return Reading{}, err
	}
	return Reading{Channel: e.Channel, Label: label, Value: v}, err
}

func (e Entry) parse(value string) (Value, error) {
	switch e.Kind {
	case KindNumber:
		d, err := decimal.NewFromString(strings.TrimSpace(value))
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q", ErrInvalidValue, e.Label, value)
		}
		d = d.Shift(e.Exp)
		if e.NonNegative && d.IsNegative() {
			d = decimal.Zero
		}
		return NumberValue(d), nil
	case KindBinary:
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "ON":
			return BinaryValue(true), nil
		case "OFF":
			return BinaryValue(false), nil
		}
		return Value{}, fmt.Errorf("%w: %s %q", ErrInvalidValue, e.Label, value)
	case KindText:
		if e.Format == nil {
			return TextValue(value), nil
		}
		formatted, err := e.Format(value)
		if err != nil {
			return Value{}, err
		}
		return TextValue(formatted), nil
	case KindEnum:
		code, err := parseCode(value)
		if err != nil {
			return EnumValue(0, UnknownName, false), fmt.Errorf("%w: %s %q", ErrUnrecognizedEnumToken, e.Label, value)
		}
		name, known := e.Enum.Lookup(code)
		if !known {
			return EnumValue(code, name, false), fmt.Errorf("%w: %s %q", ErrUnrecognizedEnumToken, e.Label, value)
		}
		return EnumValue(code, name, true), nil
	}
	return Value{}, fmt.Errorf("channels: entry %q has no kind", e.Label)
}

func parseCode(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if len(value) > 2 && (value[:2] == "0x" || value[:2] == "0X") {
		return strconv.ParseInt(value[2:], 16, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}
