package vedirect

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timzifer/vedirect/channels"
)

type recorder struct {
	readings []channels.Reading
}

func (r *recorder) Publish(reading channels.Reading) {
	r.readings = append(r.readings, reading)
}

func (r *recorder) strings() []string {
	out := make([]string, 0, len(r.readings))
	for _, reading := range r.readings {
		out = append(out, reading.String())
	}
	return out
}

func buildBlock(fields ...string) []byte {
	var buf bytes.Buffer
	for i := 0; i+1 < len(fields); i += 2 {
		buf.WriteString("\r\n" + fields[i] + "\t" + fields[i+1])
	}
	buf.WriteString("\r\nChecksum\t")
	buf.WriteByte(ChecksumFor(buf.Bytes()))
	return buf.Bytes()
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

var mpptBlock = buildBlock(
	"PID", "0xA053",
	"FW", "159",
	"SER#", "HQ2132QY2KR",
	"V", "12800",
	"I", "-1200",
	"VPV", "33150",
	"PPV", "5",
	"CS", "3",
	"MPPT", "2",
	"ERR", "0",
	"LOAD", "ON",
	"IL", "300",
	"H19", "3456",
	"H20", "1",
	"H21", "17",
	"H22", "12",
	"H23", "85",
	"HSDS", "42",
)

func TestDecoderPublishesBatteryVoltage(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec)

	block := buildBlock("V", "12800")
	n, err := dec.Write(block)
	require.NoError(t, err)
	require.Equal(t, len(block), n)
	require.Len(t, rec.readings, 1)

	reading := rec.readings[0]
	require.Equal(t, channels.BatteryVoltage, reading.Channel)
	require.Equal(t, "V", reading.Label)
	require.Equal(t, "12.8", reading.Value.String())
	value, ok := reading.Value.Float64()
	require.True(t, ok)
	require.InDelta(t, 12.8, value, 1e-9)
	require.Equal(t, StateIdle, dec.State())
}

func TestDecoderMapsFullBlock(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec, WithClock(fixedClock()))
	_, _ = dec.Write(mpptBlock)

	got := map[channels.Channel]channels.Value{}
	for _, r := range rec.readings {
		got[r.Channel] = r.Value
	}
	require.Equal(t, "SmartSolar MPPT 75/15", got[channels.DeviceType].Text)
	require.Equal(t, "1.59", got[channels.FirmwareVersion].Text)
	require.Equal(t, "HQ2132QY2KR", got[channels.SerialNumber].Text)
	require.Equal(t, "-1.2", got[channels.BatteryCurrent].String())
	require.Equal(t, "33.15", got[channels.PanelVoltage].String())
	require.Equal(t, "Bulk", got[channels.ChargingMode].Text)
	require.Equal(t, int64(3), got[channels.ChargingMode].Code)
	require.Equal(t, "Active", got[channels.TrackingMode].Text)
	require.Equal(t, "No error", got[channels.ErrorCode].Text)
	require.True(t, got[channels.LoadOutputState].Bool)
	require.Equal(t, "0.3", got[channels.LoadCurrent].String())
	require.Equal(t, "34560", got[channels.YieldTotal].String())
	require.Equal(t, "10", got[channels.YieldToday].String())
	require.Equal(t, "17", got[channels.MaxPowerToday].String())
	require.Equal(t, "42", got[channels.DayNumber].String())

	stats := dec.Stats()
	require.Equal(t, uint64(1), stats.Blocks)
	require.Equal(t, uint64(18), stats.Readings)
	require.Zero(t, stats.DroppedBlocks)
}

func TestDecoderIndependentOfFeedGranularity(t *testing.T) {
	stream := append(append(append([]byte{}, mpptBlock...), buildBlock("V", "13100", "I", "250")...), mpptBlock...)

	whole := &recorder{}
	_, _ = NewDecoder(whole, WithClock(fixedClock())).Write(stream)
	require.NotEmpty(t, whole.readings)

	single := &recorder{}
	dec := NewDecoder(single, WithClock(fixedClock()))
	for _, b := range stream {
		dec.Feed(b)
	}
	require.Equal(t, whole.strings(), single.strings())

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		chunked := &recorder{}
		dec := NewDecoder(chunked, WithClock(fixedClock()))
		rest := stream
		for len(rest) > 0 {
			n := 1 + rng.Intn(40)
			if n > len(rest) {
				n = len(rest)
			}
			_, _ = dec.Write(rest[:n])
			rest = rest[n:]
		}
		require.Equal(t, whole.strings(), chunked.strings(), "round %d", round)
	}
}

func TestDecoderDropsCorruptedChecksum(t *testing.T) {
	rec := &recorder{}
	var drops []DropReason
	dec := NewDecoder(rec, WithHooks(Hooks{
		OnDrop: func(reason DropReason, err error) {
			require.ErrorIs(t, err, ErrChecksumMismatch)
			drops = append(drops, reason)
		},
	}))

	corrupted := buildBlock("V", "12800", "I", "100")
	corrupted[len(corrupted)-1]++
	_, _ = dec.Write(corrupted)

	require.Empty(t, rec.readings)
	require.Equal(t, []DropReason{DropChecksum}, drops)
	require.Equal(t, StateResyncing, dec.State())

	dec.Feed('\r')
	require.Equal(t, StateResyncing, dec.State())
	dec.Feed('\n')
	require.Equal(t, StateIdle, dec.State())

	stats := dec.Stats()
	require.Equal(t, uint64(1), stats.ChecksumErrors)
	require.Equal(t, uint64(1), stats.DroppedBlocks)
	require.Equal(t, uint64(1), stats.Resyncs)
	require.Equal(t, DropChecksum, stats.LastDropReason)
}

func TestDecoderRecoversAfterCorruptedBlock(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec)

	corrupted := buildBlock("V", "12800")
	corrupted[5] = 'X'
	_, _ = dec.Write(corrupted)
	_, _ = dec.Write(buildBlock("V", "13000"))

	require.Len(t, rec.readings, 1)
	require.Equal(t, "13", rec.readings[0].Value.String())
	require.Equal(t, StateIdle, dec.State())
}

func TestDecoderSkipsUnrecognizedLabel(t *testing.T) {
	rec := &recorder{}
	var unmapped []string
	dec := NewDecoder(rec, WithHooks(Hooks{
		OnUnmapped: func(record Record, err error) {
			require.ErrorIs(t, err, channels.ErrUnrecognizedLabel)
			unmapped = append(unmapped, record.Label)
		},
	}))

	_, _ = dec.Write(buildBlock("XYZ", "1", "V", "12000"))

	require.Len(t, rec.readings, 1)
	require.Equal(t, channels.BatteryVoltage, rec.readings[0].Channel)
	require.Equal(t, []string{"XYZ"}, unmapped)
	require.Equal(t, uint64(1), dec.Stats().UnmappedRecords)
	require.Zero(t, dec.Stats().DroppedBlocks)
}

func TestDecoderPublishesUnknownEnumToken(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec)

	_, _ = dec.Write(buildBlock("CS", "99"))

	require.Len(t, rec.readings, 1)
	value := rec.readings[0].Value
	require.False(t, value.Known)
	require.Equal(t, channels.UnknownName, value.Text)
	require.Equal(t, int64(99), value.Code)
	require.Equal(t, uint64(1), dec.Stats().UnknownTokens)
}

func TestDecoderDispatchesIdenticalBlocksTwice(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec, WithClock(fixedClock()))

	block := buildBlock("V", "12800", "CS", "5")
	_, _ = dec.Write(block)
	_, _ = dec.Write(block)

	require.Len(t, rec.readings, 4)
	require.Equal(t, rec.readings[:2], rec.readings[2:])
	require.Equal(t, uint64(2), dec.Stats().Blocks)
}

func TestDecoderDropsBlockWithMalformedRecord(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec)

	_, _ = dec.Write(buildBlock("V", "12800", "I", "bad\x01value"))

	require.Empty(t, rec.readings)
	stats := dec.Stats()
	require.Equal(t, uint64(1), stats.MalformedBlocks)
	require.Equal(t, StateResyncing, dec.State())
}

func TestDecoderRecoversFromOverflow(t *testing.T) {
	rec := &recorder{}
	var resyncs []DropReason
	dec := NewDecoder(rec, WithHooks(Hooks{
		OnResync: func(reason DropReason) { resyncs = append(resyncs, reason) },
	}))

	_, _ = dec.Write(bytes.Repeat([]byte{'A'}, 500))
	require.Equal(t, StateResyncing, dec.State())
	require.Equal(t, uint64(1), dec.Stats().Overflows)
	require.Equal(t, []DropReason{DropOverflow}, resyncs)

	_, _ = dec.Write(buildBlock("V", "12800"))
	require.Len(t, rec.readings, 1)
	require.Equal(t, "12.8", rec.readings[0].Value.String())
}

func TestDecoderHonoursRecordLimit(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec, WithLimits(0, 2))

	_, _ = dec.Write(buildBlock("V", "1", "I", "2", "P", "3"))
	require.Empty(t, rec.readings)
	require.Equal(t, uint64(1), dec.Stats().Overflows)

	_, _ = dec.Write(buildBlock("V", "1", "I", "2"))
	require.Len(t, rec.readings, 2)
}

func TestDecoderResetDiscardsPartialBlock(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec)

	block := buildBlock("V", "12800")
	_, _ = dec.Write(block[:8])
	require.Equal(t, StateAccumulating, dec.State())

	dec.Reset()
	require.Equal(t, StateIdle, dec.State())

	_, _ = dec.Write(block)
	require.Len(t, rec.readings, 1)
	require.Zero(t, dec.Stats().DroppedBlocks)
}

func TestDecoderSplitsHexFramesFromText(t *testing.T) {
	rec := &recorder{}
	var frames []HexFrame
	dec := NewDecoder(rec, WithHooks(Hooks{
		OnHexFrame: func(frame HexFrame) { frames = append(frames, frame) },
	}))

	block := buildBlock("V", "12800", "I", "100")
	split := bytes.Index(block, []byte("\r\nI"))
	stream := append(append(append([]byte{}, block[:split]...), ":51641F9\n"...), block[split:]...)
	_, _ = dec.Write(stream)

	require.Len(t, rec.readings, 2)
	require.Len(t, frames, 1)
	require.Equal(t, HexPingAck, frames[0].Command)
	version, ok := frames[0].Version()
	require.True(t, ok)
	require.Equal(t, "1.16", version)
	require.Equal(t, uint64(1), dec.Stats().HexFrames)
}

func TestDecoderCountsBadHexFrames(t *testing.T) {
	var drops []DropReason
	dec := NewDecoder(nil, WithHooks(Hooks{
		OnDrop: func(reason DropReason, err error) {
			require.ErrorIs(t, err, ErrHexChecksum)
			drops = append(drops, reason)
		},
	}))

	_, _ = dec.Write([]byte(":51641F8\n"))
	require.Equal(t, []DropReason{DropHex}, drops)
	require.Equal(t, uint64(1), dec.Stats().HexErrors)
	require.Zero(t, dec.Stats().DroppedBlocks)
}

func TestDecoderAcceptsRecordAtLengthBound(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec, WithLimits(10, 0))

	_, _ = dec.Write(buildBlock("V", "12345678"))
	require.Len(t, rec.readings, 1)
	require.Zero(t, dec.Stats().Overflows)

	_, _ = dec.Write(buildBlock("V", "123456789"))
	require.Len(t, rec.readings, 1)
	require.Equal(t, uint64(1), dec.Stats().Overflows)
}

func TestDecoderReportsOverlongHexLine(t *testing.T) {
	rec := &recorder{}
	var drops []DropReason
	dec := NewDecoder(rec, WithHooks(Hooks{
		OnDrop: func(reason DropReason, err error) {
			require.ErrorIs(t, err, ErrMalformedHexFrame)
			drops = append(drops, reason)
		},
	}))

	block := buildBlock("V", "12800", "I", "100")
	split := bytes.Index(block, []byte("\r\nI"))
	hexLine := append([]byte(":A"), bytes.Repeat([]byte("0"), 2*DefaultMaxHexLength)...)
	stream := append(append(append([]byte{}, block[:split]...), append(hexLine, '\n')...), block[split:]...)
	_, _ = dec.Write(stream)

	require.Equal(t, []DropReason{DropHex}, drops)
	require.Equal(t, uint64(1), dec.Stats().HexErrors)
	require.Len(t, rec.readings, 2)
	require.Equal(t, uint64(1), dec.Stats().Blocks)
}

func TestDecoderRepublishesLastReadings(t *testing.T) {
	rec := &recorder{}
	dec := NewDecoder(rec, WithClock(fixedClock()))

	_, _ = dec.Write(buildBlock("V", "12800", "I", "100"))
	_, _ = dec.Write(buildBlock("V", "12900"))
	rec.readings = nil

	require.Equal(t, 2, dec.Republish())
	require.Equal(t, []string{"battery_voltage=12.9", "battery_current=0.1"}, rec.strings())

	last := dec.LastReadings()
	require.Len(t, last, 2)
	require.Equal(t, channels.BatteryVoltage, last[0].Channel)
}

func TestDecoderKeepsLastGoodAfterDrop(t *testing.T) {
	dec := NewDecoder(nil)

	_, _ = dec.Write(buildBlock("V", "12800"))
	corrupted := buildBlock("V", "99999")
	corrupted[len(corrupted)-1]++
	_, _ = dec.Write(corrupted)

	last := dec.LastReadings()
	require.Len(t, last, 1)
	require.Equal(t, "12.8", last[0].Value.String())
}

func TestStateString(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "resyncing", StateResyncing.String())
	require.Equal(t, "unknown", State(42).String())
}
