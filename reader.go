package cqf

// Reader is a read-only view over a counting quotient filter, satisfied
// by *Filter. It exists so callers that only ever query can depend on a
// narrower interface than the full read-write Filter API.
type Reader interface {
	Query([]byte) uint64
	QueryByHash(uint64) uint64
	NumOccupiedSlots() uint64
}

var _ Reader = (*Filter)(nil)
