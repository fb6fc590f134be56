package vedirect

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(t *testing.T, acc *Accumulator, data []byte) []*Block {
	t.Helper()
	var blocks []*Block
	for _, b := range data {
		block, err := acc.Feed(b)
		require.NoError(t, err)
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func TestAccumulatorSplitsRecords(t *testing.T) {
	acc := NewAccumulator(0, 0)
	data := buildBlock("V", "12800", "I", "100")

	blocks := feedAll(t, acc, data)
	require.Len(t, blocks, 1)
	require.Equal(t, data, blocks[0].Raw)
	require.Equal(t, [][]byte{[]byte("V\t12800"), []byte("I\t100")}, blocks[0].Records)
	require.Equal(t, data[len(data)-1], blocks[0].Checksum)
	require.False(t, acc.Pending())
}

func TestAccumulatorTakesAnyChecksumByte(t *testing.T) {
	for _, c := range []byte{':', '\r', '\n', '\t', 0x00, 0xff} {
		acc := NewAccumulator(0, 0)
		blocks := feedAll(t, acc, append([]byte("\r\nV\t1\r\nChecksum\t"), c))
		require.Len(t, blocks, 1, "checksum byte 0x%02x", c)
		require.Equal(t, c, blocks[0].Checksum)
	}
}

func TestAccumulatorBlocksDoNotAlias(t *testing.T) {
	acc := NewAccumulator(0, 0)
	first := feedAll(t, acc, buildBlock("V", "1"))
	second := feedAll(t, acc, buildBlock("V", "2"))
	require.Equal(t, []byte("V\t1"), first[0].Records[0])
	require.Equal(t, []byte("V\t2"), second[0].Records[0])
}

func TestAccumulatorOverflowOnLongRecord(t *testing.T) {
	acc := NewAccumulator(8, 0)
	var overflow error
	for _, b := range []byte("\r\nSER#\tHQ2132QY2KR") {
		if _, err := acc.Feed(b); err != nil {
			overflow = err
		}
	}
	require.ErrorIs(t, overflow, ErrBufferOverflow)
	require.True(t, acc.Resyncing())
	require.False(t, acc.Pending())
}

func TestAccumulatorRecordLengthBound(t *testing.T) {
	acc := NewAccumulator(10, 0)
	blocks := feedAll(t, acc, buildBlock("V", "12345678"))
	require.Len(t, blocks, 1)
	require.Equal(t, [][]byte{[]byte("V\t12345678")}, blocks[0].Records)

	acc = NewAccumulator(10, 0)
	var overflow error
	for _, b := range buildBlock("V", "123456789") {
		if _, err := acc.Feed(b); err != nil && overflow == nil {
			overflow = err
		}
	}
	require.ErrorIs(t, overflow, ErrBufferOverflow)
}

func TestAccumulatorOverflowOnBlankLines(t *testing.T) {
	acc := NewAccumulator(4, 2)
	var overflow error
	for i := 0; i < 100 && overflow == nil; i++ {
		_, overflow = acc.Feed('\n')
	}
	require.ErrorIs(t, overflow, ErrBufferOverflow)
}

func TestAccumulatorResyncWaitsForStartMarker(t *testing.T) {
	acc := NewAccumulator(0, 0)
	acc.Resync()

	blocks := feedAll(t, acc, []byte("garbage\rmore\n"))
	require.Empty(t, blocks)
	require.True(t, acc.Resyncing())

	blocks = feedAll(t, acc, buildBlock("V", "1"))
	require.Len(t, blocks, 1)
	require.NoError(t, ValidateChecksum(blocks[0]))
}

func TestAccumulatorDivertsHexLines(t *testing.T) {
	acc := NewAccumulator(0, 0)
	var lines []string
	acc.SetHexHandler(func(line []byte) { lines = append(lines, string(line)) })

	blocks := feedAll(t, acc, []byte(":154\r\n:70001004D\n"))
	require.Empty(t, blocks)
	require.Equal(t, []string{":154", ":70001004D"}, lines)
	require.False(t, acc.Pending())
}

func TestAccumulatorDiscardsOverlongHexLine(t *testing.T) {
	acc := NewAccumulator(0, 0)
	var lines []string
	var errs []error
	acc.SetHexHandler(func(line []byte) { lines = append(lines, string(line)) })
	acc.SetHexErrorHandler(func(err error) { errs = append(errs, err) })

	long := append([]byte(":7"), bytes.Repeat([]byte("AB"), DefaultMaxHexLength)...)
	long = append(long, '\n')
	stream := append(long, buildBlock("V", "12800")...)
	stream = append(stream, ":154\n"...)

	blocks := feedAll(t, acc, stream)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrMalformedHexFrame)
	require.Equal(t, []string{":154"}, lines)
	require.Len(t, blocks, 1)
	require.Equal(t, [][]byte{[]byte("V\t12800")}, blocks[0].Records)
	require.NoError(t, ValidateChecksum(blocks[0]))
}

func TestAccumulatorResetDropsPartialBlock(t *testing.T) {
	acc := NewAccumulator(0, 0)
	feedAll(t, acc, []byte("\r\nV\t12"))
	require.True(t, acc.Pending())

	acc.Reset()
	require.False(t, acc.Pending())
	blocks := feedAll(t, acc, buildBlock("I", "5"))
	require.Len(t, blocks, 1)
	require.Equal(t, [][]byte{[]byte("I\t5")}, blocks[0].Records)
}
