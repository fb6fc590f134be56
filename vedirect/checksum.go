package vedirect

import "fmt"

// Sum returns the 8-bit sum of p.
func Sum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// ValidateChecksum checks that all bytes of the block, checksum byte
// included, sum to zero modulo 256.
func ValidateChecksum(block *Block) error {
	if block == nil {
		return fmt.Errorf("%w: empty block", ErrChecksumMismatch)
	}
	if sum := Sum(block.Raw); sum != 0 {
		return fmt.Errorf("%w: block of %d bytes sums to 0x%02x", ErrChecksumMismatch, len(block.Raw), sum)
	}
	return nil
}

// ChecksumFor returns the byte that completes a block whose bytes up to and
// including "Checksum\t" are p.
func ChecksumFor(p []byte) byte {
	return -Sum(p)
}
