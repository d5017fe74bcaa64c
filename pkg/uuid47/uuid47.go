// Package uuid47 reversibly masks the timestamp of a 128-bit identifier so
// the externally shown value leaks no creation order, while remaining a
// plain UUID in shape.
//
// The 48-bit timestamp field (bytes 0..5) is XORed with the low 48 bits of
// SipHash-2-4 keyed by the tenant's (k0, k1) pair and computed over the id's
// 74 non-version/non-variant bits. Version and variant bits stay in
// cleartext, untouched, so the transform is an involution: applying it twice
// yields the original id, for every possible 128-bit value.
package uuid47

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when an external token does not parse as a
// UUID.
var ErrInvalidToken = errors.New("uuid47: invalid token")

// Key is the per-tenant obfuscation key, two independent 64-bit halves.
type Key struct {
	K0 uint64
	K1 uint64
}

// NewKey draws both halves from the CSPRNG. Generated once per tenant.
func NewKey() (Key, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Key{}, err
	}
	return Key{
		K0: binary.BigEndian.Uint64(b[0:8]),
		K1: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}

// Obfuscate returns the external facade for id under key.
func Obfuscate(id uuid.UUID, key Key) uuid.UUID {
	return xorTimestamp(id, key)
}

// Deobfuscate recovers the internal id from its facade. Inverse of
// Obfuscate for all ids and keys.
func Deobfuscate(id uuid.UUID, key Key) uuid.UUID {
	return xorTimestamp(id, key)
}

// EncodeString obfuscates id and renders the canonical UUID text form.
func EncodeString(id uuid.UUID, key Key) string {
	return Obfuscate(id, key).String()
}

// DecodeString parses an external token and recovers the internal id.
func DecodeString(token string, key Key) (uuid.UUID, error) {
	facade, err := uuid.Parse(token)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return Deobfuscate(facade, key), nil
}

func xorTimestamp(id uuid.UUID, key Key) uuid.UUID {
	mask := siphash.Hash(key.K0, key.K1, sipMessage(id)) & 0xFFFFFFFFFFFF
	out := id
	out[0] ^= byte(mask >> 40)
	out[1] ^= byte(mask >> 32)
	out[2] ^= byte(mask >> 24)
	out[3] ^= byte(mask >> 16)
	out[4] ^= byte(mask >> 8)
	out[5] ^= byte(mask)
	return out
}

// sipMessage packs the 74 bits outside the timestamp, version nibble, and
// variant bits. These bytes are identical in the internal id and its facade,
// which is what makes the XOR self-inverting.
func sipMessage(id uuid.UUID) []byte {
	return []byte{
		id[6] & 0x0F,
		id[7],
		id[8] & 0x3F,
		id[9],
		id[10], id[11], id[12], id[13], id[14], id[15],
	}
}
