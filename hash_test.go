package cqf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/pcg"
)

func TestDefaultHashBuilderIsDeterministic(t *testing.T) {
	h1 := calcHash(DefaultHashBuilder, []byte("banana"))
	h2 := calcHash(DefaultHashBuilder, []byte("banana"))
	assert.Equal(t, h1, h2)

	h3 := calcHash(DefaultHashBuilder, []byte("apple"))
	assert.NotEqual(t, h1, h3)
}

func TestFNVHashBuilderIsDeterministic(t *testing.T) {
	b := NewFNVHashBuilder()
	h1 := calcHash(b, []byte("banana"))
	h2 := calcHash(b, []byte("banana"))
	assert.Equal(t, h1, h2)
}

func TestUint64ToBytesIsDeterministicAndDistinct(t *testing.T) {
	a := uint64ToBytes(42)
	b := uint64ToBytes(42)
	assert.Equal(t, a, b)
	c := uint64ToBytes(43)
	assert.NotEqual(t, a, c)
}

func TestReversibleHasherRoundTrip(t *testing.T) {
	for _, hashBits := range []uint{2, 4, 8, 16, 32, 64} {
		h := NewReversibleHasher(hashBits)
		mask := bitmask(uint64(hashBits))
		for i := 0; i < 2000; i++ {
			v := pcg.Uint64() & mask
			hashed := h.Hash(v)
			assert.True(t, hashed <= mask)
			back := h.InvertHash(hashed)
			assert.Equal(t, v, back, "hashBits=%d v=%d", hashBits, v)
		}
	}
}

func TestReversibleHasherRejectsBadWidths(t *testing.T) {
	assert.Panics(t, func() { NewReversibleHasher(0) })
	assert.Panics(t, func() { NewReversibleHasher(65) })
	assert.Panics(t, func() { NewReversibleHasher(3) })
}

func TestReversibleHasherIsInjective(t *testing.T) {
	h := NewReversibleHasher(16)
	seen := map[uint64]uint64{}
	mask := bitmask(16)
	for v := uint64(0); v <= mask; v++ {
		out := h.Hash(v)
		if prior, ok := seen[out]; ok {
			t.Fatalf("collision: Hash(%d) == Hash(%d) == %d", prior, v, out)
		}
		seen[out] = v
	}
}
