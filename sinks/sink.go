// Package sinks routes readings to the consumers registered per channel.
package sinks

import (
	"github.com/timzifer/vedirect/channels"
)

// Sink consumes readings. Publish runs on the decoder goroutine and must not
// block for long.
type Sink interface {
	Publish(reading channels.Reading)
}

// Numeric receives the numeric view of a reading: numbers, enum codes and
// binaries as 0 or 1. Text readings are skipped.
type Numeric func(ch channels.Channel, value float64)

// Publish implements Sink.
func (f Numeric) Publish(reading channels.Reading) {
	if v, ok := reading.Value.Float64(); ok {
		f(reading.Channel, v)
	}
}

// Binary receives binary readings only.
type Binary func(ch channels.Channel, value bool)

// Publish implements Sink.
func (f Binary) Publish(reading channels.Reading) {
	if reading.Value.Kind == channels.KindBinary {
		f(reading.Channel, reading.Value.Bool)
	}
}

// Text receives the textual view of every reading, for enums the name.
type Text func(ch channels.Channel, value string)

// Publish implements Sink.
func (f Text) Publish(reading channels.Reading) {
	f(reading.Channel, reading.Value.String())
}

// Func adapts a function receiving the full reading.
type Func func(reading channels.Reading)

// Publish implements Sink.
func (f Func) Publish(reading channels.Reading) {
	f(reading)
}
