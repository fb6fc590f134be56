package vedirect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeHexFrame(t *testing.T) {
	require.Equal(t, ":154\n", string(PingCommand()))
	require.Equal(t, ":451", string(EncodeHexFrame(HexProductID, nil)))
	require.Equal(t, ":352", string(EncodeHexFrame(HexAppVersion, nil)))
	require.Equal(t, ":7F0ED0071\n", string(EncodeGet(0xEDF0)))
	require.Equal(t, ":70001004D\n", string(EncodeGet(0x0100)))
}

func TestParseHexFrameRoundTripsRegisterCommands(t *testing.T) {
	line := EncodeSet(0xEDF0, []byte{0x64, 0x00})
	frame, err := ParseHexFrame(line)
	require.NoError(t, err)
	require.Equal(t, HexSet, frame.Command)

	register, ok := frame.Register()
	require.True(t, ok)
	require.Equal(t, uint16(0xEDF0), register)
	require.Equal(t, byte(0), frame.Flags())
	require.Equal(t, []byte{0x64, 0x00}, frame.Value())
	require.Equal(t, string(line[:len(line)-1]), frame.String())
}

func TestParseHexFrameAcceptsLowerCase(t *testing.T) {
	frame, err := ParseHexFrame([]byte(":7f0ed0071\r\n"))
	require.NoError(t, err)
	require.Equal(t, HexGet, frame.Command)
	register, ok := frame.Register()
	require.True(t, ok)
	require.Equal(t, uint16(0xEDF0), register)
}

func TestParseHexFrameErrors(t *testing.T) {
	_, err := ParseHexFrame([]byte(":155"))
	require.ErrorIs(t, err, ErrHexChecksum)

	for _, line := range []string{"154", ":1", ":G54", ":1545", ":1ZZ"} {
		_, err := ParseHexFrame([]byte(line))
		require.ErrorIs(t, err, ErrMalformedHexFrame, "line %q", line)
	}
}

func TestHexFrameWithoutRegister(t *testing.T) {
	frame, err := ParseHexFrame([]byte(":154"))
	require.NoError(t, err)
	_, ok := frame.Register()
	require.False(t, ok)
	require.Nil(t, frame.Value())
	_, ok = frame.Version()
	require.False(t, ok)
}

func TestValidateChecksum(t *testing.T) {
	block := &Block{Raw: buildBlock("V", "12800")}
	require.NoError(t, ValidateChecksum(block))

	block.Raw[3]++
	require.ErrorIs(t, ValidateChecksum(block), ErrChecksumMismatch)
	require.ErrorIs(t, ValidateChecksum(nil), ErrChecksumMismatch)
}
