package lrustore

// Handle addresses a node slot in the store's arena.
// A handle stays valid until its node is removed; afterwards the slot
// may be reused by a later insert.
type Handle int32

// None is the "no node" handle (empty prev/next link, empty list end).
const None Handle = -1

// node is an arena slot. prev/next are handles, not pointers, so the
// list never holds owning references to its neighbours.
type node[V any] struct {
	key  string
	val  V
	cost int64

	// Intrusive list links: head is MRU, tail is LRU.
	prev Handle
	next Handle

	// live is false for slots sitting on the free list.
	live bool
}

// Entry is a detached copy of a node's payload, returned on eviction
// and by iteration.
type Entry[V any] struct {
	Key   string
	Value V
	Cost  int64
}
