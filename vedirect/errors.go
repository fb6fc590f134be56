package vedirect

import "errors"

var (
	// ErrMalformedRecord is returned for records without a tab separator, with an
	// empty label or with non printable value bytes.
	ErrMalformedRecord = errors.New("vedirect: malformed record")
	// ErrChecksumMismatch reports a block whose byte sum is not zero modulo 256.
	ErrChecksumMismatch = errors.New("vedirect: checksum mismatch")
	// ErrBufferOverflow reports a record or block that exceeded the accumulator bounds.
	ErrBufferOverflow = errors.New("vedirect: buffer overflow")
	// ErrMalformedHexFrame reports a HEX frame that is not ':' followed by hex digits.
	ErrMalformedHexFrame = errors.New("vedirect: malformed hex frame")
	// ErrHexChecksum reports a HEX frame whose bytes do not sum to 0x55.
	ErrHexChecksum = errors.New("vedirect: hex frame checksum mismatch")
)
