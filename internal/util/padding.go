// Package util contains internal helpers shared by the tiers.
//revive:disable:var-naming  // allow 'util' as an internal helpers package name
package util

import (
	"sync/atomic"
	"unsafe"
)

// CacheLineSize is a reasonable default for most modern CPUs.
const CacheLineSize = 64

// CacheLinePad separates groups of hot fields into distinct cache lines.
type CacheLinePad struct{ _ [CacheLineSize]byte }

// PaddedAtomicInt64 is an atomic int64 padded to exactly one cache line,
// so hit/miss/eviction counters bumped from many goroutines do not
// false-share with the lock-guarded tier state next to them.
type PaddedAtomicInt64 struct {
	atomic.Int64
	_ [CacheLineSize - 8]byte
}

// Counters is the hit/miss/eviction trio every tier keeps.
type Counters struct {
	_         CacheLinePad
	Hits      PaddedAtomicInt64
	Misses    PaddedAtomicInt64
	Evictions PaddedAtomicInt64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() (hits, misses, evictions int64) {
	return c.Hits.Load(), c.Misses.Load(), c.Evictions.Load()
}

var _ [CacheLineSize - int(unsafe.Sizeof(PaddedAtomicInt64{}))]byte
