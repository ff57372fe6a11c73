package serialization

import (
	"crypto/sha256"
	"encoding/hex"
)

// metadataChecksumKey is the __metadata__ entry holding the data-section digest.
const metadataChecksumKey = "sha256"

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// checksumHex returns the hex encoded SHA-256 of data.
func checksumHex(data []byte) string {
	sum := ComputeChecksum(data)
	return hex.EncodeToString(sum[:])
}

// ValidateChecksum compares the digest of data against a stored hex digest.
// An empty stored digest is accepted (files written by other tools).
func ValidateChecksum(data []byte, stored string) error {
	if stored == "" {
		return nil
	}
	if checksumHex(data) != stored {
		return ErrChecksumMismatch
	}
	return nil
}
