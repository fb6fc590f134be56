package channels

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Kind selects the active field of a Value.
type Kind uint8

const (
	KindNumber Kind = iota + 1
	KindBinary
	KindText
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	case KindEnum:
		return "enum"
	}
	return "invalid"
}

// Value is the typed payload of a reading.
type Value struct {
	Kind   Kind
	Number decimal.Decimal
	Bool   bool
	// Text holds free text, or the name of an enum code.
	Text string
	Code int64
	// Known is false for enum codes missing from the table.
	Known bool
}

// NumberValue wraps a decimal.
func NumberValue(d decimal.Decimal) Value {
	return Value{Kind: KindNumber, Number: d, Known: true}
}

// BinaryValue wraps a boolean.
func BinaryValue(b bool) Value {
	return Value{Kind: KindBinary, Bool: b, Known: true}
}

// TextValue wraps a string.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s, Known: true}
}

// EnumValue wraps an enum code and its name.
func EnumValue(code int64, name string, known bool) Value {
	return Value{Kind: KindEnum, Code: code, Text: name, Known: known}
}

// Float64 returns the numeric view of the value: numbers as is, enum codes,
// and 1 or 0 for binaries. Text has no numeric view.
func (v Value) Float64() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Number.InexactFloat64(), true
	case KindEnum:
		return float64(v.Code), true
	case KindBinary:
		if v.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String returns the textual view of the value.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return v.Number.String()
	case KindBinary:
		if v.Bool {
			return "ON"
		}
		return "OFF"
	case KindText, KindEnum:
		return v.Text
	}
	return ""
}

// Equal compares two values field by field, numbers by magnitude.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || v.Known != o.Known {
		return false
	}
	switch v.Kind {
	case KindNumber:
		return v.Number.Equal(o.Number)
	case KindBinary:
		return v.Bool == o.Bool
	case KindEnum:
		return v.Code == o.Code && v.Text == o.Text
	default:
		return v.Text == o.Text
	}
}

// Reading is one mapped value of a channel.
type Reading struct {
	Channel Channel
	// Label is the wire label that produced the reading; empty for derived
	// readings.
	Label string
	Value Value
	Time  time.Time
}

func (r Reading) String() string {
	s := string(r.Channel) + "=" + r.Value.String()
	if r.Value.Kind == KindEnum {
		s += " (" + strconv.FormatInt(r.Value.Code, 10) + ")"
	}
	return s
}
