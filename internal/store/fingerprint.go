package store

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash"
)

// FingerprintSum hashes raw audio samples into a 64-bit digest over the
// little-endian float32 bit patterns. The same recording always maps to
// the same digest, so the archive and the results cache can answer
// repeated transcriptions without decoding again.
func FingerprintSum(samples []float32) uint64 {
	h := xxhash.New()
	var buf [4]byte
	for _, s := range samples {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(s))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}

// Fingerprint renders the sample digest as the hex key stored in the
// archive.
func Fingerprint(samples []float32) string {
	return fmt.Sprintf("%x", FingerprintSum(samples))
}

// FingerprintBytes hashes an encoded audio file (e.g. an uploaded WAV)
// without decoding it first.
func FingerprintBytes(data []byte) string {
	h := xxhash.New()
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum64())
}
