package cqf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zeebo/pcg"
)

func newTestBlocks(t *testing.T, numBlocks uint64, rBits uint) *Blocks {
	t.Helper()
	raw := make([]byte, bytesNeededForBlocks(numBlocks, rBits))
	return newBlocksView(raw, numBlocks, rBits)
}

func TestPackedBitsRoundTrip(t *testing.T) {
	for _, rBits := range []uint{1, 3, 7, 8, 17, 31, 32, 47, 63} {
		words := make([]uint64, slotWordsPerBlock(rBits))
		mask := bitmask(uint64(rBits))
		expect := make([]uint64, 64)
		for round := 0; round < 200; round++ {
			ix := uint64(pcg.Uint32n(64))
			val := pcg.Uint64() & mask
			setPackedBits(words, ix, rBits, val)
			expect[ix] = val
			for i := uint64(0); i < 64; i++ {
				assert.Equal(t, expect[i], getPackedBits(words, i, rBits), "rBits=%d ix=%d", rBits, i)
			}
		}
	}
}

func TestBlockBitmapAccessors(t *testing.T) {
	b := newTestBlocks(t, 2, 8)
	for q := uint64(0); q < 128; q++ {
		assert.False(t, b.IsOccupied(q))
		assert.False(t, b.IsRunend(q))
		assert.False(t, b.IsCount(q))
	}

	b.SetOccupied(5, true)
	b.SetRunend(5, true)
	b.SetCount(70, true)
	assert.True(t, b.IsOccupied(5))
	assert.True(t, b.IsRunend(5))
	assert.True(t, b.IsCount(70))
	assert.True(t, b.HasMetadataBitsSet(5))
	assert.True(t, b.HasMetadataBitsSet(70))
	assert.False(t, b.HasMetadataBitsSet(6))

	b.SetOccupied(5, false)
	assert.False(t, b.IsOccupied(5))
	assert.True(t, b.IsRunend(5))
}

func TestSlotRoundTrip(t *testing.T) {
	b := newTestBlocks(t, 3, 11)
	for q := uint64(0); q < 64*3; q += 7 {
		v := q & bitmask(11)
		b.SetSlot(q, v)
		assert.Equal(t, v, b.Slot(q))
	}
}

func TestOffsetAccessors(t *testing.T) {
	b := newTestBlocks(t, 2, 8)
	assert.Equal(t, uint64(0), b.Offset(0))
	assert.Equal(t, uint64(3), b.AddOffset(0, 3))
	assert.Equal(t, uint64(5), b.AddOffset(10, 2))
	assert.Equal(t, uint64(5), b.Offset(63))
	assert.Equal(t, uint64(0), b.Offset(64))
}

func TestRunEndOnEmptyBlocksIsIdentity(t *testing.T) {
	b := newTestBlocks(t, 4, 8)
	for q := uint64(0); q < 4*64; q++ {
		assert.Equal(t, q, b.RunEnd(q))
		assert.Equal(t, uint64(0), b.OffsetLowerBound(q))
	}
}

func TestFindFirstEmptySlotOnEmptyBlocksIsIdentity(t *testing.T) {
	b := newTestBlocks(t, 4, 8)
	for _, from := range []uint64{0, 1, 63, 64, 200} {
		assert.Equal(t, from, b.FindFirstEmptySlot(from))
	}
}

func TestFindFirstOccupiedSlot(t *testing.T) {
	b := newTestBlocks(t, 3, 8)
	assert.Equal(t, uint64(0), b.FindFirstOccupiedSlot())

	b.SetOccupied(130, true)
	assert.Equal(t, uint64(130), b.FindFirstOccupiedSlot())

	b.SetOccupied(10, true)
	assert.Equal(t, uint64(10), b.FindFirstOccupiedSlot())
}

func TestDecodeCounterSingleton(t *testing.T) {
	b := newTestBlocks(t, 1, 8)
	b.SetSlot(4, 17)
	b.SetRunend(4, true)

	p := uint64(4)
	remainder, count := b.DecodeCounter(&p)
	assert.Equal(t, uint64(17), remainder)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, uint64(4), p)
}

func TestDecodeCounterWithExplicitCount(t *testing.T) {
	b := newTestBlocks(t, 1, 8)
	b.SetSlot(4, 17)
	b.SetCount(5, true)
	b.SetSlot(5, 9)
	b.SetRunend(5, true)

	p := uint64(4)
	remainder, count := b.DecodeCounter(&p)
	assert.Equal(t, uint64(17), remainder)
	assert.Equal(t, uint64(9), count)
	assert.Equal(t, uint64(5), p)
}
