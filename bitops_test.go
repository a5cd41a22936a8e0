package cqf

import (
	"math/bits"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/pcg"
)

func TestBitmask(t *testing.T) {
	assert.Equal(t, uint64(0), bitmask(0))
	assert.Equal(t, uint64(0b111), bitmask(3))
	assert.Equal(t, ^uint64(0), bitmask(64))
	assert.Equal(t, ^uint64(0), bitmask(100))
}

func TestBitrank(t *testing.T) {
	assert.Equal(t, uint64(0), bitrank(0, 10))
	assert.Equal(t, uint64(1), bitrank(0b1, 0))
	assert.Equal(t, uint64(1), bitrank(0b10, 1))
	assert.Equal(t, uint64(2), bitrank(0b11, 1))
	assert.Equal(t, uint64(bits.OnesCount64(^uint64(0))), bitrank(^uint64(0), 63))
}

func TestPopcntv(t *testing.T) {
	v := uint64(0xFF)
	assert.Equal(t, uint64(8), popcntv(v, 0))
	assert.Equal(t, uint64(4), popcntv(v, 4))
	assert.Equal(t, uint64(8), popcntv(v, 64))
}

func TestBitselectAgainstBruteForce(t *testing.T) {
	for i := 0; i < 2000; i++ {
		val := pcg.Uint64()
		if val == 0 {
			continue
		}
		rank := uint64(pcg.Uint32n(uint32(bits.OnesCount64(val))))
		got := bitselect(val, rank)

		var want uint64
		seen := uint64(0)
		for pos := uint64(0); pos < 64; pos++ {
			if val&(uint64(1)<<pos) == 0 {
				continue
			}
			if seen == rank {
				want = pos
				break
			}
			seen++
		}
		assert.Equal(t, want, got, "val=%b rank=%d", val, rank)
	}
}

func TestFfsAndFfsv(t *testing.T) {
	pos, ok := ffs(0)
	assert.False(t, ok)
	assert.Equal(t, uint64(0), pos)

	pos, ok = ffs(0b1000)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), pos)

	pos, ok = ffsv(0b1000, 4)
	assert.False(t, ok)

	pos, ok = ffsv(0b11000, 4)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), pos)
}

func TestPdepDepositsSingleBitInsideMask(t *testing.T) {
	for i := 0; i < 500; i++ {
		mask := pcg.Uint64()
		if mask == 0 {
			continue
		}
		popcount := bits.OnesCount64(mask)
		rank := pcg.Uint32n(uint32(popcount))
		deposited := pdep(uint64(1)<<rank, mask)
		assert.Equal(t, 1, bits.OnesCount64(deposited))
		assert.True(t, deposited&mask == deposited)
	}
}
