// Package payload frames command bytes carried inside ledger transaction
// payloads: a 4-byte application prefix, a 4-byte mutable nonce, then the
// inner command bytes. The prefix is the engine dispatch key; the nonce is
// the only field the generator mutates while grinding for a pattern match,
// so the signed inner payload stays byte-identical across grind iterations.
package payload

import "encoding/binary"

// HeaderLen is the size of the prefix+nonce header in bytes.
const HeaderLen = 8

// Pack prepends prefix and a zero nonce to inner, returning a new frame.
func Pack(inner []byte, prefix uint32) []byte {
	out := make([]byte, HeaderLen+len(inner))
	binary.LittleEndian.PutUint32(out[0:4], prefix)
	binary.LittleEndian.PutUint32(out[4:8], 0)
	copy(out[HeaderLen:], inner)
	return out
}

// CheckHeader reports whether data is at least HeaderLen bytes and its
// first 4 bytes equal prefix in little-endian form.
func CheckHeader(data []byte, prefix uint32) bool {
	if len(data) < HeaderLen {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == prefix
}

// SetNonce overwrites bytes 4..8 of data with nonce in little-endian form.
// It is O(1) and allocation-free, suitable for the generator's grind loop.
// Callers must ensure len(data) >= HeaderLen.
func SetNonce(data []byte, nonce uint32) {
	binary.LittleEndian.PutUint32(data[4:8], nonce)
}

// StripHeader returns everything past byte 8. Callers must have already
// called CheckHeader and had it return true.
func StripHeader(data []byte) []byte {
	out := make([]byte, len(data)-HeaderLen)
	copy(out, data[HeaderLen:])
	return out
}
