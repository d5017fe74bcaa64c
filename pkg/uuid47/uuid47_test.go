package uuid47

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T) Key {
	t.Helper()
	k, err := NewKey()
	require.NoError(t, err)
	return k
}

func TestRoundTripRandomIDs(t *testing.T) {
	key := mustKey(t)
	for i := 0; i < 1000; i++ {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		facade := Obfuscate(id, key)
		assert.Equal(t, id, Deobfuscate(facade, key))
	}
}

func TestRoundTripBoundaryIDs(t *testing.T) {
	allOnes := uuid.UUID{}
	for i := range allOnes {
		allOnes[i] = 0xFF
	}
	boundary := []uuid.UUID{
		{}, // all-zero
		allOnes,
		uuid.MustParse("00000000-0000-7000-8000-000000000000"), // version/variant floor
		uuid.MustParse("ffffffff-ffff-7fff-bfff-ffffffffffff"), // version/variant ceiling
		uuid.MustParse("00000000-0000-4000-0000-000000000001"),
	}
	for _, id := range boundary {
		for i := 0; i < 16; i++ {
			key := mustKey(t)
			assert.Equal(t, id, Deobfuscate(Obfuscate(id, key), key), "id %s", id)
		}
	}
}

func TestVersionAndVariantPreserved(t *testing.T) {
	key := mustKey(t)
	id, err := uuid.NewV7()
	require.NoError(t, err)
	facade := Obfuscate(id, key)
	assert.Equal(t, id.Version(), facade.Version())
	assert.Equal(t, id.Variant(), facade.Variant())
}

func TestTimestampBitsAreMasked(t *testing.T) {
	key := mustKey(t)
	id, err := uuid.NewV7()
	require.NoError(t, err)
	facade := Obfuscate(id, key)
	assert.NotEqual(t, id[:6], facade[:6])
	// Everything outside the timestamp is carried through.
	assert.Equal(t, id[6:], facade[6:])
}

func TestInjectivity(t *testing.T) {
	key := mustKey(t)
	seen := map[uuid.UUID]uuid.UUID{}
	for i := 0; i < 5000; i++ {
		id, err := uuid.NewV7()
		require.NoError(t, err)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = Obfuscate(id, key)
	}
	facades := map[uuid.UUID]struct{}{}
	for _, f := range seen {
		_, dup := facades[f]
		require.False(t, dup, "two ids collided on facade %s", f)
		facades[f] = struct{}{}
	}
}

func TestDistinctKeysProduceDistinctFacades(t *testing.T) {
	id, err := uuid.NewV7()
	require.NoError(t, err)
	a := Obfuscate(id, mustKey(t))
	b := Obfuscate(id, mustKey(t))
	assert.NotEqual(t, a, b)
}

func TestEncodeDecodeString(t *testing.T) {
	key := mustKey(t)
	id, err := uuid.NewV7()
	require.NoError(t, err)

	token := EncodeString(id, key)
	_, err = uuid.Parse(token)
	require.NoError(t, err, "facade must look like an ordinary uuid")

	got, err := DecodeString(token, key)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestDecodeStringRejectsGarbage(t *testing.T) {
	key := mustKey(t)
	for _, token := range []string{"", "not-a-uuid", "1234", "zzzzzzzz-zzzz-zzzz-zzzz-zzzzzzzzzzzz"} {
		_, err := DecodeString(token, key)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
}
