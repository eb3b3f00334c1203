package trackcodec

import "crypto/sha256"

// MACSize is the length in bytes of a message authentication code.
const MACSize = 16

// KeySize is the required length of the trip's shared MAC key.
const KeySize = 32

// Sign computes the first 16 bytes of SHA-256(data || key), MAC.
func Sign(data, key []byte) []byte {
	h := sha256.Sum256(append(append([]byte{}, data...), key...))
	mac := make([]byte, MACSize)
	copy(mac, h[:MACSize])
	return mac
}

// Verify reports whether mac is the correct signature of data under key.
// Uses a constant-time comparison to avoid leaking timing information
// about how many leading bytes matched.
func Verify(data, mac, key []byte) bool {
	if len(mac) != MACSize {
		return false
	}
	expected := Sign(data, key)
	var diff byte
	for i := 0; i < MACSize; i++ {
		diff |= expected[i] ^ mac[i]
	}
	return diff == 0
}
