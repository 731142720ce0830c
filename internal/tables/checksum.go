package tables

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// ChecksumPrefix names the digest used for table checksums.
const ChecksumPrefix = "sha256:"

// ComputeChecksum returns the prefixed hex digest of an encoded table.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data matches a checksum produced by
// ComputeChecksum. Checksums with another digest never match.
func VerifyChecksum(data []byte, expected string) bool {
	if !strings.HasPrefix(expected, ChecksumPrefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(ComputeChecksum(data)), []byte(expected)) == 1
}
