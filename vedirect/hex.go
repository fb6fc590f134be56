package vedirect

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// HEX protocol commands sent to a device.
const (
	HexEnterBoot  byte = 0x0
	HexPing       byte = 0x1
	HexAppVersion byte = 0x3
	HexProductID  byte = 0x4
	HexRestart    byte = 0x6
	HexGet        byte = 0x7
	HexSet        byte = 0x8
	HexAsync      byte = 0xA
)

// HEX protocol responses received from a device.
const (
	HexDone    byte = 0x1
	HexUnknown byte = 0x3
	HexError   byte = 0x4
	HexPingAck byte = 0x5
)

const hexChecksumTarget byte = 0x55

// HexFrame is a decoded HEX protocol frame. Data excludes the checksum byte.
type HexFrame struct {
	Command byte
	Data    []byte
}

// Register returns the register id of a get, set or async frame.
func (f HexFrame) Register() (uint16, bool) {
	if !f.hasRegister() || len(f.Data) < 2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(f.Data[:2]), true
}

// Flags returns the flags byte of a register frame.
func (f HexFrame) Flags() byte {
	if !f.hasRegister() || len(f.Data) < 3 {
		return 0
	}
	return f.Data[2]
}

// Value returns the little endian register payload of a register frame.
func (f HexFrame) Value() []byte {
	if !f.hasRegister() || len(f.Data) < 3 {
		return nil
	}
	return f.Data[3:]
}

func (f HexFrame) hasRegister() bool {
	switch f.Command {
	case HexGet, HexSet, HexAsync:
		return true
	}
	return false
}

// Version decodes the version word of a ping or application version reply,
// for example 0x4129 yields "1.29".
func (f HexFrame) Version() (string, bool) {
	if (f.Command != HexPingAck && f.Command != HexDone) || len(f.Data) < 2 {
		return "", false
	}
	word := binary.LittleEndian.Uint16(f.Data[:2])
	return fmt.Sprintf("%x.%02x", (word>>8)&0x0f, word&0xff), true
}

// String renders the frame in wire format without the line terminator.
func (f HexFrame) String() string {
	return string(EncodeHexFrame(f.Command, f.Data))
}

// ParseHexFrame decodes a ':' prefixed HEX line. A trailing "\r\n" is ignored.
func ParseHexFrame(line []byte) (HexFrame, error) {
	text := strings.TrimRight(string(line), "\r\n")
	if len(text) < 4 || text[0] != ':' {
		return HexFrame{}, fmt.Errorf("%w: %q", ErrMalformedHexFrame, text)
	}
	cmd, ok := hexNibble(text[1])
	if !ok {
		return HexFrame{}, fmt.Errorf("%w: command %q", ErrMalformedHexFrame, text[1])
	}
	body := text[2:]
	if len(body)%2 != 0 {
		return HexFrame{}, fmt.Errorf("%w: odd digit count in %q", ErrMalformedHexFrame, text)
	}
	data, err := hex.DecodeString(body)
	if err != nil {
		return HexFrame{}, fmt.Errorf("%w: %v", ErrMalformedHexFrame, err)
	}
	if sum := cmd + Sum(data); sum != hexChecksumTarget {
		return HexFrame{}, fmt.Errorf("%w: %q sums to 0x%02x", ErrHexChecksum, text, sum)
	}
	return HexFrame{Command: cmd, Data: data[:len(data)-1]}, nil
}

// EncodeHexFrame renders a command with its payload and checksum, without the
// terminating line feed.
func EncodeHexFrame(cmd byte, data []byte) []byte {
	checksum := hexChecksumTarget - (cmd&0x0f + Sum(data))
	out := make([]byte, 0, 2+2*len(data)+2)
	out = append(out, ':')
	out = append(out, strings.ToUpper(fmt.Sprintf("%X", cmd&0x0f))...)
	out = append(out, strings.ToUpper(hex.EncodeToString(data))...)
	out = append(out, strings.ToUpper(hex.EncodeToString([]byte{checksum}))...)
	return out
}

// EncodeGet builds a register read command line including its line feed.
func EncodeGet(register uint16) []byte {
	data := []byte{0, 0, 0}
	binary.LittleEndian.PutUint16(data, register)
	return append(EncodeHexFrame(HexGet, data), '\n')
}

// EncodeSet builds a register write command line including its line feed.
func EncodeSet(register uint16, value []byte) []byte {
	data := make([]byte, 3, 3+len(value))
	binary.LittleEndian.PutUint16(data, register)
	data = append(data, value...)
	return append(EncodeHexFrame(HexSet, data), '\n')
}

// PingCommand is the ":154" ping line including its line feed.
func PingCommand() []byte {
	return append(EncodeHexFrame(HexPing, nil), '\n')
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}
