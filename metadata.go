package cqf

import (
	"fmt"
	"math"
	"unsafe"
)

// slotsPerBlock is the number of physical slots packed into one block.
const slotsPerBlock = 64

// metadataSize is the byte size of the Metadata header as stored at the
// front of every filter's backing region.
const metadataSize = int(unsafe.Sizeof(Metadata{}))

// Metadata is the fixed-size header prefixing every filter's backing
// region (in memory or on disk). Every field is a little-endian u64 on
// disk; in memory it is addressed directly via an unsafe cast over the
// mapped bytes, mirroring the Rust original's #[repr(C)] Metadata.
type Metadata struct {
	TotalSizeBytes        uint64
	NumRealSlots          uint64
	NumOccupiedSlots      uint64
	NumBlocks             uint64
	QuotientBits          uint64
	RemainderBits         uint64
	InvertibleFlag        uint64
	LargestOffset         uint64
	LargestPossibleOffset uint64
}

// Invertible reports whether the filter was built to support hash
// inversion back to original keys.
func (m *Metadata) Invertible() bool {
	return m.InvertibleFlag == 1
}

// remainderWidth is the widest a remainder can be: a slot's remainder is
// read/written as a single uint64, so it cannot hold more than 64 bits.
const remainderWidth = 64

// newMetadata computes the geometry for a filter with the given quotient
// width, total hash width, and invertibility flag, following the
// fixed-point formulas of the original design: N_real = N + ceil(10*sqrt(N))
// and largest_possible_offset = floor(sqrt(N)). It rejects hash/quotient
// widths that would leave no room for a remainder, mirroring
// make_metadata_blocks's own argument validation.
func newMetadata(quotientBits, hashBits uint64, invertible bool) (Metadata, error) {
	if hashBits == 0 || hashBits > 64 {
		return Metadata{}, fmt.Errorf("%w: hash width %d outside [1, 64]", ErrInvalidArguments, hashBits)
	}
	if quotientBits == 0 {
		return Metadata{}, fmt.Errorf("%w: quotient width must be at least 1 bit", ErrInvalidArguments)
	}
	if quotientBits >= hashBits {
		return Metadata{}, fmt.Errorf("%w: quotient width %d leaves no bits for a remainder in a %d bit hash", ErrInvalidArguments, quotientBits, hashBits)
	}
	remainderBits := hashBits - quotientBits
	if remainderBits < 1 || remainderBits > remainderWidth {
		return Metadata{}, fmt.Errorf("%w: remainder width %d outside [1, %d]", ErrInvalidArguments, remainderBits, remainderWidth)
	}

	numSlots := uint64(1) << quotientBits
	numRealSlots := numSlots + uint64(math.Ceil(10*math.Sqrt(float64(numSlots))))
	numBlocks := (numRealSlots + slotsPerBlock - 1) / slotsPerBlock
	var inv uint64
	if invertible {
		inv = 1
	}
	return Metadata{
		TotalSizeBytes:        uint64(metadataSize),
		NumRealSlots:          numRealSlots,
		NumOccupiedSlots:      0,
		NumBlocks:             numBlocks,
		QuotientBits:          quotientBits,
		RemainderBits:         remainderBits,
		InvertibleFlag:        inv,
		LargestOffset:         0,
		LargestPossibleOffset: uint64(math.Sqrt(float64(numSlots))),
	}, nil
}

// maxOccupiedSlots is the 0.80 load-factor ceiling past which inserts
// must fail with ErrFilled rather than degrade run lengths unboundedly.
func maxOccupiedSlots(numRealSlots uint64) uint64 {
	return uint64(float64(numRealSlots) * 0.80)
}
