package rrdcache

import "math"

// noValueYet is lastValue's sentinel before the entry has ever accepted
// an insertion. It must compare less than any legitimate unix second
// timestamp a caller would ever pass, including 0.
const noValueYet = math.MinInt64

// entryFlags is the per-entry state bit tracked alongside its buffer.
type entryFlags uint8

const (
	flagNone entryFlags = iota
	flagQueued
)

// cacheEntry is the per-file accumulator buffer. All access to a
// cacheEntry happens under the owning Cache's mutex; there is no
// per-entry lock.
//
// Invariants:
//  1. non-empty values => firstValue <= lastValue.
//  2. insertions are strictly monotonic: time <= lastValue is rejected.
//  3. a filename is in the dispatch queue iff flags == flagQueued.
//  4. after a steal, the entry is retained empty so lastValue keeps
//     enforcing monotonicity across batches.
type cacheEntry struct {
	values     []string
	firstValue int64
	lastValue  int64
	flags      entryFlags
}

func newCacheEntry() *cacheEntry {
	return &cacheEntry{lastValue: noValueYet}
}

func (e *cacheEntry) empty() bool {
	return len(e.values) == 0
}

// age reports how long the current batch has been accumulating, as of
// "now". Meaningless when the entry is empty: firstValue still holds
// the start of the previous batch (or 0); callers must check empty()
// first.
func (e *cacheEntry) age(now int64) int64 {
	return now - e.firstValue
}

// append adds token for timestamp t, enforcing strict monotonicity.
// Returns ErrOutOfOrder without mutating the entry if t does not
// advance lastValue.
func (e *cacheEntry) append(token string, t int64) error {
	if e.lastValue >= t {
		return ErrOutOfOrder
	}
	if e.empty() {
		e.firstValue = t
	}
	e.values = append(e.values, token)
	e.lastValue = t
	return nil
}

// steal atomically (w.r.t. the caller's lock discipline) removes the
// buffer from the entry and resets flags to flagNone, handing ownership
// of the returned slice to the caller. The entry itself survives so its
// lastValue keeps policing future inserts.
func (e *cacheEntry) steal() []string {
	v := e.values
	e.values = nil
	e.flags = flagNone
	return v
}
