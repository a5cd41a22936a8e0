package cqf

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/bits-and-blooms/bitset"
)

// insertOperation selects which runend bits insertAndShift must clear or
// set once it has made room for a new slot.
type insertOperation int

const (
	opInsertEmpty insertOperation = iota
	opAppend
	opInsert
)

// Filter is a counting quotient filter: a compact, probabilistic,
// approximate multiset mapping 64 bit hashes to small counts. Its
// backing store is a single contiguous memory region (anonymous or
// mapped from a file) holding a Metadata header followed by the block
// array; every method operates directly on that region, so a *Filter is
// only valid for as long as its Close has not been called.
type Filter struct {
	meta        *Metadata
	blocks      *Blocks
	region      *MMapRegion
	hashBuilder HashBuilder
}

// New allocates an anonymous, process-private filter sized per cfg.
func New(cfg Config) (*Filter, error) {
	meta, total, err := cfg.DetermineSize()
	if err != nil {
		return nil, err
	}
	region, err := newAnonRegion(total)
	if err != nil {
		return nil, err
	}
	return newFilterFromRegion(region, meta, cfg.hashBuilder())
}

// NewFile creates (or truncates) a file at path and maps a filter sized
// per cfg onto it, so subsequent writes persist to disk.
func NewFile(path string, cfg Config) (*Filter, error) {
	meta, total, err := cfg.DetermineSize()
	if err != nil {
		return nil, err
	}
	region, err := newFileRegion(path, total)
	if err != nil {
		return nil, err
	}
	return newFilterFromRegion(region, meta, cfg.hashBuilder())
}

// OpenFile maps an existing filter file created by NewFile, reading its
// size from the Metadata header stored at the front of the file.
func OpenFile(path string) (*Filter, error) {
	m, err := ReadMetadataFromPath(path)
	if err != nil {
		return nil, err
	}
	region, err := openFileRegion(path, m.TotalSizeBytes)
	if err != nil {
		return nil, err
	}
	data := region.Bytes()
	metaPtr := (*Metadata)(unsafe.Pointer(&data[0]))
	blocks := newBlocksView(data[metadataSize:], metaPtr.NumBlocks, uint(metaPtr.RemainderBits))
	return &Filter{meta: metaPtr, blocks: blocks, region: region, hashBuilder: DefaultHashBuilder}, nil
}

func newFilterFromRegion(region *MMapRegion, meta Metadata, hb HashBuilder) (*Filter, error) {
	data := region.Bytes()
	if uint64(len(data)) < meta.TotalSizeBytes {
		region.Close()
		return nil, fmt.Errorf("%w: backing region smaller than its metadata declares", ErrInvalidSize)
	}
	metaPtr := (*Metadata)(unsafe.Pointer(&data[0]))
	*metaPtr = meta
	blocks := newBlocksView(data[metadataSize:], metaPtr.NumBlocks, uint(metaPtr.RemainderBits))
	return &Filter{meta: metaPtr, blocks: blocks, region: region, hashBuilder: hb}, nil
}

// Close unmaps the filter's backing region. A file-backed filter's
// writes are flushed to disk by the OS asynchronously; call Sync-like
// behavior is left to the OS page cache as with any mmap-backed file.
func (f *Filter) Close() error {
	return f.region.Close()
}

// Metadata returns a copy of the filter's current header.
func (f *Filter) Metadata() Metadata { return *f.meta }

// NumOccupiedSlots reports how many physical slots are in use.
func (f *Filter) NumOccupiedSlots() uint64 { return f.meta.NumOccupiedSlots }

// Invertible reports whether this filter's hashes can be mapped back to
// original keys via a ReversibleHasher.
func (f *Filter) Invertible() bool { return f.meta.Invertible() }

// SizeBytes reports the total size of the filter's backing region.
func (f *Filter) SizeBytes() uint64 { return f.meta.TotalSizeBytes }

// SerializeToBytes returns an independent copy of the filter's raw
// backing region (Metadata header followed by the block array), from
// which a new filter can be reconstructed by writing it to a file and
// calling OpenFile.
func (f *Filter) SerializeToBytes() []byte {
	data := f.region.Bytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

func (f *Filter) calcHash(item []byte) uint64 {
	return calcHash(f.hashBuilder, item)
}

func (f *Filter) quotientRemainderFromHash(hash uint64) (quotient, remainder uint64) {
	quotient = (hash >> f.meta.RemainderBits) & saturatingBitmask(f.meta.QuotientBits)
	remainder = hash & saturatingBitmask(f.meta.RemainderBits)
	return
}

func (f *Filter) buildHash(quotient, remainder uint64) uint64 {
	return (quotient << f.meta.RemainderBits) | remainder
}

// Insert hashes item and records count more occurrences of it.
func (f *Filter) Insert(item []byte, count uint64) error {
	return f.InsertByHash(f.calcHash(item), count)
}

// Query hashes item and returns its current count (0 if never inserted).
func (f *Filter) Query(item []byte) uint64 {
	return f.QueryByHash(f.calcHash(item))
}

// SetCount hashes item and overwrites its count directly, inserting it
// fresh if it is not already present.
func (f *Filter) SetCount(item []byte, count uint64) error {
	return f.SetCountHash(f.calcHash(item), count)
}

// InsertByHash records count additional occurrences of a pre-computed
// hash. It returns ErrFilled once the filter has reached its 0.80 load
// factor or its largest run offset has reached its geometric ceiling.
func (f *Filter) InsertByHash(hash uint64, count uint64) error {
	if count == 0 {
		return nil
	}
	if f.meta.NumOccupiedSlots >= maxOccupiedSlots(f.meta.NumRealSlots) || f.meta.LargestOffset >= f.meta.LargestPossibleOffset {
		return ErrFilled
	}

	quotient, remainder := f.quotientRemainderFromHash(hash)
	runstartIndex := f.blocks.RunStart(quotient)

	if !f.blocks.HasMetadataBitsSet(quotient) && runstartIndex == quotient {
		f.blocks.SetRunend(quotient, true)
		f.blocks.SetSlot(quotient, remainder)
		f.blocks.SetOccupied(quotient, true)
		f.meta.NumOccupiedSlots++
		if count > 1 {
			return f.InsertByHash(hash, count-1)
		}
		return nil
	}

	if !f.blocks.IsOccupied(quotient) {
		f.insertAndShift(opInsertEmpty, quotient, remainder, count, runstartIndex, 0)
	} else {
		qptr := runstartIndex
		currentRemainder, currentCount := f.blocks.DecodeCounter(&qptr)
		for currentRemainder < remainder && !f.blocks.IsRunend(qptr) {
			runstartIndex = qptr + 1
			qptr = runstartIndex
			currentRemainder, currentCount = f.blocks.DecodeCounter(&qptr)
		}
		switch {
		case currentRemainder < remainder:
			f.insertAndShift(opAppend, quotient, remainder, count, qptr+1, 0)
		case currentRemainder == remainder:
			op := opInsert
			if f.blocks.IsRunend(qptr) {
				op = opAppend
			}
			f.insertAndShift(op, quotient, remainder, currentCount+count, runstartIndex, qptr-runstartIndex+1)
		default:
			f.insertAndShift(opInsert, quotient, remainder, count, runstartIndex, 0)
		}
	}
	f.blocks.SetOccupied(quotient, true)
	return nil
}

// QueryByHash returns the count currently associated with a pre-computed
// hash, or 0 if it has never been inserted.
func (f *Filter) QueryByHash(hash uint64) uint64 {
	quotient, remainder := f.quotientRemainderFromHash(hash)
	if !f.blocks.IsOccupied(quotient) {
		return 0
	}
	runstartIndex := f.blocks.RunStart(quotient)
	if runstartIndex < quotient {
		runstartIndex = quotient
	}
	for {
		qptr := runstartIndex
		currentRemainder, currentCount := f.blocks.DecodeCounter(&qptr)
		if currentRemainder == remainder {
			return currentCount
		}
		if f.blocks.IsRunend(qptr) {
			break
		}
		runstartIndex = qptr + 1
	}
	return 0
}

// SetCountHash overwrites the count of a pre-computed hash directly,
// without going through repeated single-count inserts. If the hash is
// not already present, it is inserted with count via InsertByHash;
// SetCountByHash is the strict variant that returns ErrInvalidArguments
// instead.
func (f *Filter) SetCountHash(hash uint64, count uint64) error {
	if err := f.setCountByHash(hash, count); err != nil {
		return f.InsertByHash(hash, count)
	}
	return nil
}

// SetCountByHash is the strict counterpart of SetCountHash: it returns
// ErrInvalidArguments rather than inserting when hash is absent.
func (f *Filter) SetCountByHash(hash uint64, count uint64) error {
	return f.setCountByHash(hash, count)
}

func (f *Filter) setCountByHash(hash uint64, count uint64) error {
	quotient, remainder := f.quotientRemainderFromHash(hash)
	if !f.blocks.IsOccupied(quotient) {
		return ErrInvalidArguments
	}
	runstartIndex := f.blocks.RunStart(quotient)
	qptr := runstartIndex
	currentRemainder, _ := f.blocks.DecodeCounter(&qptr)
	for currentRemainder < remainder && !f.blocks.IsRunend(qptr) {
		runstartIndex = qptr + 1
		qptr = runstartIndex
		currentRemainder, _ = f.blocks.DecodeCounter(&qptr)
	}
	if currentRemainder != remainder {
		return ErrInvalidArguments
	}
	if f.blocks.IsCount(runstartIndex + 1) {
		f.blocks.SetSlot(runstartIndex+1, count)
		return nil
	}
	op := opInsert
	if f.blocks.IsRunend(qptr) {
		op = opAppend
	}
	f.insertAndShift(op, quotient, remainder, count, runstartIndex, qptr-runstartIndex+1)
	return nil
}

// insertAndShift makes room for a slot (and, if count != 1, its adjacent
// count slot) at insertIndex by sliding later slots in the block array
// forward, then writes remainder/count and fixes up the runend bits
// per operation.
func (f *Filter) insertAndShift(operation insertOperation, quotient, remainder, count, insertIndex, noverwrites uint64) {
	ninserts := int64(1)
	if count != 1 {
		ninserts = 2
	}
	ninserts -= int64(noverwrites)

	if ninserts > 0 {
		switch ninserts {
		case 1:
			empty := f.blocks.FindFirstEmptySlot(insertIndex)
			f.shiftRemainders(insertIndex, empty-1, 1)
			f.shiftRunends(insertIndex, empty-1, 1)
			f.shiftCounts(insertIndex, empty-1, 1)
			for i := quotient/slotsPerBlock + 1; i*slotsPerBlock <= empty; i++ {
				newOff := f.blocks.AddOffset(i*slotsPerBlock, 1)
				if newOff > f.meta.LargestOffset {
					f.meta.LargestOffset = newOff
				}
			}
		case 2:
			first := f.blocks.FindFirstEmptySlot(insertIndex)
			second := f.blocks.FindFirstEmptySlot(first + 1)
			f.shiftRemainders(first+1, second-1, 1)
			f.shiftRunends(first+1, second-1, 1)
			f.shiftCounts(first+1, second-1, 1)
			f.shiftRemainders(insertIndex, first-1, 2)
			f.shiftRunends(insertIndex, first-1, 2)
			f.shiftCounts(insertIndex, first-1, 2)

			npreceding := uint64(0)
			for i := quotient/slotsPerBlock + 1; ; i++ {
				if npreceding == 0 && first/slotsPerBlock < i {
					npreceding = 1
				}
				if npreceding == 1 && second/slotsPerBlock < i {
					break
				}
				delta := uint64(ninserts) - npreceding
				newOff := f.blocks.AddOffset(i*slotsPerBlock, delta)
				if newOff > f.meta.LargestOffset {
					f.meta.LargestOffset = newOff
				}
			}
		}

		switch operation {
		case opInsertEmpty:
			f.setRunendForNewSlot(insertIndex, count)
		case opAppend:
			if noverwrites == 0 {
				f.blocks.SetRunend(insertIndex-1, false)
			}
			f.setRunendForNewSlot(insertIndex, count)
		case opInsert:
			f.blocks.SetRunend(insertIndex, false)
			if count != 1 {
				f.blocks.SetRunend(insertIndex+1, false)
			}
		}
	}

	f.blocks.SetSlot(insertIndex, remainder)
	if count != 1 {
		f.blocks.SetCount(insertIndex+1, true)
		f.blocks.SetSlot(insertIndex+1, count)
	}
	f.meta.NumOccupiedSlots = uint64(int64(f.meta.NumOccupiedSlots) + ninserts)
}

func (f *Filter) setRunendForNewSlot(insertIndex, count uint64) {
	if count == 1 {
		f.blocks.SetRunend(insertIndex, true)
	} else {
		f.blocks.SetRunend(insertIndex, false)
		f.blocks.SetRunend(insertIndex+1, true)
	}
}

func (f *Filter) shiftRemainders(from, to, distance uint64) {
	if to < from {
		return
	}
	for i := to; ; i-- {
		f.blocks.SetSlot(i+distance, f.blocks.Slot(i))
		if i == from {
			break
		}
	}
}

func (f *Filter) shiftRunends(from, to, distance uint64) {
	if to < from {
		return
	}
	for i := to; ; i-- {
		f.blocks.SetRunend(i+distance, f.blocks.IsRunend(i))
		if i == from {
			break
		}
	}
}

func (f *Filter) shiftCounts(from, to, distance uint64) {
	if to < from {
		return
	}
	for i := to; ; i-- {
		f.blocks.SetCount(i+distance, f.blocks.IsCount(i))
		if i == from {
			break
		}
	}
}

// mergeInsert bulk-appends a single (remainder, count) pair belonging to
// newQuotient onto the end of the filter being constructed by a streaming
// merge. currentQuotient tracks the next free physical slot and is
// advanced in place; nextQuotient is the home quotient of whichever
// element will be inserted after this one (or newQuotient-1 if none
// remains), used to decide whether this insert closes out its run.
func (f *Filter) mergeInsert(currentQuotient *uint64, newQuotient, nextQuotient, newRemainder, count uint64) {
	if count == 0 {
		return
	}
	f.blocks.SetOccupied(newQuotient, true)
	if *currentQuotient < newQuotient {
		*currentQuotient = newQuotient
	}
	f.blocks.SetSlot(*currentQuotient, newRemainder)

	var slots uint64
	if count != 1 {
		f.blocks.SetCount(*currentQuotient+1, true)
		f.blocks.SetSlot(*currentQuotient+1, count)
		f.meta.NumOccupiedSlots += 2
		*currentQuotient += 2
		slots = 2
	} else {
		f.meta.NumOccupiedSlots++
		*currentQuotient++
		slots = 1
	}

	if nextQuotient != newQuotient {
		f.blocks.SetRunend(*currentQuotient-1, true)
	}

	quotientBlockIdx := newQuotient / slotsPerBlock
	insertBlockIdx := (*currentQuotient - 1) / slotsPerBlock
	for i := quotientBlockIdx + 1; i <= insertBlockIdx; i++ {
		newOff := f.blocks.AddOffset(i*slotsPerBlock, slots)
		if newOff > f.meta.LargestOffset {
			f.meta.LargestOffset = newOff
		}
	}
}

// Iterator walks a filter's (count, hash) pairs in ascending quotient,
// then remainder, order.
type Iterator struct {
	f               *Filter
	currentQuotient uint64
	currentRunStart uint64
	end             uint64
}

// Iterator returns a fresh Iterator positioned at the filter's first
// occupied slot.
func (f *Filter) Iterator() *Iterator {
	it := &Iterator{f: f}
	if f.meta.NumOccupiedSlots == 0 {
		return it
	}
	it.currentQuotient = f.blocks.FindFirstOccupiedSlot()
	it.currentRunStart = it.currentQuotient
	it.end = f.meta.NumRealSlots
	return it
}

// Next returns the next (count, hash) pair in order, or ok=false once
// exhausted.
func (it *Iterator) Next() (count uint64, hash uint64, ok bool) {
	if it.currentQuotient >= it.end {
		return 0, 0, false
	}
	f := it.f
	currentRemainder, currentCount := f.blocks.DecodeCounter(&it.currentQuotient)
	currentHash := f.buildHash(it.currentRunStart, currentRemainder)

	if !f.blocks.IsRunend(it.currentQuotient) {
		it.currentQuotient++
		return currentCount, currentHash, true
	}

	it.currentQuotient++
	blockIndex := it.currentRunStart / slotsPerBlock
	nextRunSlot, found := ffsv(f.blocks.OccupiedsByBlock(blockIndex), (it.currentRunStart%slotsPerBlock)+1)
	if !found {
		nextRunSlot = 64
	}
	for nextRunSlot == 64 && blockIndex < f.blocks.Len()-1 {
		blockIndex++
		if pos, ok2 := ffs(f.blocks.OccupiedsByBlock(blockIndex)); ok2 {
			nextRunSlot = pos
		} else {
			nextRunSlot = 64
		}
	}
	it.currentRunStart = blockIndex*slotsPerBlock + nextRunSlot
	if it.currentRunStart > it.currentQuotient {
		it.currentQuotient = it.currentRunStart
	}
	return currentCount, currentHash, true
}

// CheckConsistency walks the filter's iterator and verifies that (1)
// every entry it yields agrees with a direct query for the same hash,
// (2) it never yields more entries than are marked occupied, and (3)
// every quotient with its occupied bit set was visited as a run's home
// at least once. It is meant for tests and debugging, not the hot
// insert/query path.
func (f *Filter) CheckConsistency() error {
	visitedQuotients := bitset.New(uint(f.meta.NumRealSlots))
	it := f.Iterator()
	var seen uint64
	for {
		count, hash, ok := it.Next()
		if !ok {
			break
		}
		seen++
		quotient, _ := f.quotientRemainderFromHash(hash)
		visitedQuotients.Set(uint(quotient))
		if got := f.QueryByHash(hash); got != count {
			return fmt.Errorf("%w: hash %#x: iterator count %d disagrees with query count %d", ErrInvalidFile, hash, count, got)
		}
		if seen > f.meta.NumOccupiedSlots {
			return fmt.Errorf("%w: iterator produced more entries than occupied slots", ErrInvalidFile)
		}
	}

	var occupiedCount, visitedOccupiedCount uint64
	for i := uint64(0); i < f.blocks.Len(); i++ {
		occ := f.blocks.OccupiedsByBlock(i)
		for occ != 0 {
			bit, _ := ffs(occ)
			occ &^= uint64(1) << bit
			occupiedCount++
			if visitedQuotients.Test(uint(i*slotsPerBlock + bit)) {
				visitedOccupiedCount++
			}
		}
	}
	if occupiedCount != visitedOccupiedCount {
		return fmt.Errorf("%w: %d occupied quotients never appeared as a run's home in the iterator", ErrInvalidFile, occupiedCount-visitedOccupiedCount)
	}
	return nil
}

// DebugDump writes a human-readable summary of the filter's geometry
// and per-block bitmaps to w.
func (f *Filter) DebugDump(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "quotient_bits=%d remainder_bits=%d real_slots=%d occupied=%d blocks=%d largest_offset=%d/%d\n",
		f.meta.QuotientBits, f.meta.RemainderBits, f.meta.NumRealSlots, f.meta.NumOccupiedSlots,
		f.meta.NumBlocks, f.meta.LargestOffset, f.meta.LargestPossibleOffset); err != nil {
		return err
	}
	for i := uint64(0); i < f.blocks.Len(); i++ {
		if _, err := fmt.Fprintf(w, "block %6d: occupieds=%064b runends=%064b offset=%d\n",
			i, f.blocks.OccupiedsByBlock(i), f.blocks.RunendsByBlock(i), f.blocks.Offset(i*slotsPerBlock)); err != nil {
			return err
		}
	}
	return nil
}
