package cqf

import "math"

// mergeCursor holds the next not-yet-consumed (count, hash) pair from one
// side of a merge, decomposed into the target filter's own quotient and
// remainder so the two sides can be compared directly.
type mergeCursor struct {
	count     uint64
	quotient  uint64
	remainder uint64
	ok        bool
}

func nextMergeCursor(it *Iterator, target *Filter) mergeCursor {
	count, hash, ok := it.Next()
	if !ok {
		return mergeCursor{}
	}
	q, r := target.quotientRemainderFromHash(hash)
	return mergeCursor{count: count, quotient: q, remainder: r, ok: true}
}

func (c mergeCursor) less(o mergeCursor) bool {
	if c.quotient != o.quotient {
		return c.quotient < o.quotient
	}
	return c.remainder < o.remainder
}

func (c mergeCursor) sameKey(o mergeCursor) bool {
	return c.quotient == o.quotient && c.remainder == o.remainder
}

// nextMergeQuotient reports the quotient the merge will insert next,
// which mergeInsert needs to decide whether the element it is inserting
// right now closes out its run. lastQuotient is the quotient of the
// element just emitted, used as the fallback once both sides are
// drained so the final run still closes out correctly.
func nextMergeQuotient(a, b mergeCursor, lastQuotient uint64) uint64 {
	switch {
	case a.ok && b.ok:
		if a.quotient < b.quotient {
			return a.quotient
		}
		return b.quotient
	case a.ok:
		return a.quotient
	case b.ok:
		return b.quotient
	default:
		return lastQuotient - 1
	}
}

// Merge streams the (count, hash) pairs of a and b, already in sorted
// order as every Iterator produces them, into target: duplicate hashes
// have their counts summed, and the result is built with a single
// forward pass over target's slot array rather than by repeated Insert
// calls. a and b must not alias target or each other's source filters
// in a way that makes their iterators non-monotonic.
func Merge(a, b *Iterator, target *Filter) error {
	ca := nextMergeCursor(a, target)
	cb := nextMergeCursor(b, target)
	var current uint64

	for ca.ok || cb.ok {
		var quotient, remainder, count uint64
		switch {
		case ca.ok && cb.ok && ca.sameKey(cb):
			quotient, remainder, count = ca.quotient, ca.remainder, ca.count+cb.count
			ca = nextMergeCursor(a, target)
			cb = nextMergeCursor(b, target)
		case ca.ok && (!cb.ok || ca.less(cb)):
			quotient, remainder, count = ca.quotient, ca.remainder, ca.count
			ca = nextMergeCursor(a, target)
		default:
			quotient, remainder, count = cb.quotient, cb.remainder, cb.count
			cb = nextMergeCursor(b, target)
		}
		next := nextMergeQuotient(ca, cb, quotient)
		target.mergeInsert(&current, quotient, next, remainder, count)
	}
	return nil
}

// noMergeQuotient is the sentinel quotient/remainder MergeBy reports to
// its closure for whichever side of the merge has been exhausted.
const noMergeQuotient = math.MaxUint64

// MergeClosure observes (and may rewrite) each pair of matching or
// unmatched counts as MergeBy walks two filters' entries in lockstep,
// before MergeBy decides which side's entry to carry into the target.
// Exhausted sides are reported with quotient == remainder == noMergeQuotient
// and a nil count pointer.
type MergeClosure interface {
	MergeCB(target *Filter, aQuotient, aRemainder uint64, aCount *uint64, bQuotient, bRemainder uint64, bCount *uint64)
}

// MergeBy is Merge with a caller-supplied callback invoked once per step
// of the co-walk, given a chance to inspect or adjust either side's
// count (e.g. to cap merged counts, or to record which keys collided)
// before the step's winning entry is inserted into target.
func MergeBy(a, b *Iterator, target *Filter, closure MergeClosure) error {
	ca := nextMergeCursor(a, target)
	cb := nextMergeCursor(b, target)
	var current uint64

	for ca.ok || cb.ok {
		aQ, aR, bQ, bR := noMergeQuotient, noMergeQuotient, noMergeQuotient, noMergeQuotient
		var aCountPtr, bCountPtr *uint64
		if ca.ok {
			aQ, aR = ca.quotient, ca.remainder
			aCountPtr = &ca.count
		}
		if cb.ok {
			bQ, bR = cb.quotient, cb.remainder
			bCountPtr = &cb.count
		}
		closure.MergeCB(target, aQ, aR, aCountPtr, bQ, bR, bCountPtr)

		var quotient, remainder, count uint64
		switch {
		case ca.ok && cb.ok && ca.sameKey(cb):
			quotient, remainder, count = ca.quotient, ca.remainder, ca.count+cb.count
			ca = nextMergeCursor(a, target)
			cb = nextMergeCursor(b, target)
		case ca.ok && (!cb.ok || ca.less(cb)):
			quotient, remainder, count = ca.quotient, ca.remainder, ca.count
			ca = nextMergeCursor(a, target)
		default:
			quotient, remainder, count = cb.quotient, cb.remainder, cb.count
			cb = nextMergeCursor(b, target)
		}
		next := nextMergeQuotient(ca, cb, quotient)
		target.mergeInsert(&current, quotient, next, remainder, count)
	}
	return nil
}
