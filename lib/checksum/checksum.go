package checksum

import (
	"crypto/sha256"
	"encoding/binary"
)

// CalculateCheckSum returns the first four bytes of the sha256 of data.
func CalculateCheckSum(data []byte) uint32 {
	sum := sha256.Sum256(data)
	return binary.BigEndian.Uint32(sum[:4])
}
