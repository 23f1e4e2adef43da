// Package lrustore implements a keyed, intrusive MRU↔LRU list with O(1)
// insert, promote, evict-tail and remove.
//
// Nodes live in an arena (a slice of slots) and link to each other by
// Handle. The key index maps keys to the same handles the list threads
// through. The store does no I/O and no locking; callers serialize access.
package lrustore

// Store is a keyed LRU list. The zero value is not usable; call New.
type Store[V any] struct {
	nodes []node[V]
	free  []Handle
	index map[string]Handle

	head Handle // MRU
	tail Handle // LRU

	count int
	cost  int64
}

// New returns an empty store. sizeHint pre-sizes the arena and index.
func New[V any](sizeHint int) *Store[V] {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Store[V]{
		nodes: make([]node[V], 0, sizeHint),
		index: make(map[string]Handle, sizeHint),
		head:  None,
		tail:  None,
	}
}

// Len returns the number of resident nodes.
func (s *Store[V]) Len() int { return s.count }

// TotalCost returns the sum of all resident node costs.
func (s *Store[V]) TotalCost() int64 { return s.cost }

// Head returns the MRU handle, or None when empty.
func (s *Store[V]) Head() Handle { return s.head }

// Tail returns the LRU handle, or None when empty.
func (s *Store[V]) Tail() Handle { return s.tail }

// Lookup returns the handle registered for key.
func (s *Store[V]) Lookup(key string) (Handle, bool) {
	h, ok := s.index[key]
	return h, ok
}

// Key returns the key stored at h.
func (s *Store[V]) Key(h Handle) string { return s.nodes[h].key }

// Value returns the value stored at h.
func (s *Store[V]) Value(h Handle) V { return s.nodes[h].val }

// Cost returns the cost stored at h.
func (s *Store[V]) Cost(h Handle) int64 { return s.nodes[h].cost }

// Update replaces the value and cost at h in place and adjusts the cost
// aggregate. It does not move the node.
func (s *Store[V]) Update(h Handle, v V, cost int64) {
	n := &s.nodes[h]
	s.cost += cost - n.cost
	n.val = v
	n.cost = cost
}

// InsertAtHead allocates a node for key, links it as the new MRU and
// registers it in the key index. The key must not already be present.
func (s *Store[V]) InsertAtHead(key string, v V, cost int64) Handle {
	h := s.alloc()
	n := &s.nodes[h]
	n.key, n.val, n.cost, n.live = key, v, cost, true
	n.prev = None
	n.next = s.head
	if s.head != None {
		s.nodes[s.head].prev = h
	}
	s.head = h
	if s.tail == None {
		s.tail = h
	}
	s.index[key] = h
	s.count++
	s.cost += cost
	return h
}

// MoveToHead promotes h to MRU. No-op if h is already the head.
func (s *Store[V]) MoveToHead(h Handle) {
	if h == s.head {
		return
	}
	s.unlink(h)
	n := &s.nodes[h]
	n.prev = None
	n.next = s.head
	if s.head != None {
		s.nodes[s.head].prev = h
	}
	s.head = h
	if s.tail == None {
		s.tail = h
	}
}

// RemoveTail unlinks and frees the LRU node and returns its payload.
// On an empty store it reports false.
func (s *Store[V]) RemoveTail() (Entry[V], bool) {
	if s.tail == None {
		return Entry[V]{}, false
	}
	h := s.tail
	n := s.nodes[h]
	s.Remove(h)
	return Entry[V]{Key: n.key, Value: n.val, Cost: n.cost}, true
}

// Remove unlinks h from wherever it sits, drops its key from the index,
// updates aggregates and returns the slot to the free list.
func (s *Store[V]) Remove(h Handle) {
	n := &s.nodes[h]
	if !n.live {
		return
	}
	s.unlink(h)
	delete(s.index, n.key)
	s.count--
	s.cost -= n.cost
	if s.cost < 0 {
		s.cost = 0
	}
	s.release(h)
}

// RemoveAll drops every node. The arena keeps its capacity.
func (s *Store[V]) RemoveAll() {
	clear(s.nodes)
	s.nodes = s.nodes[:0]
	s.free = s.free[:0]
	clear(s.index)
	s.head, s.tail = None, None
	s.count, s.cost = 0, 0
}

// unlink detaches h from its neighbours and fixes head/tail.
func (s *Store[V]) unlink(h Handle) {
	n := &s.nodes[h]
	if n.prev != None {
		s.nodes[n.prev].next = n.next
	}
	if n.next != None {
		s.nodes[n.next].prev = n.prev
	}
	if s.head == h {
		s.head = n.next
	}
	if s.tail == h {
		s.tail = n.prev
	}
	n.prev, n.next = None, None
}

func (s *Store[V]) alloc() Handle {
	if k := len(s.free); k > 0 {
		h := s.free[k-1]
		s.free = s.free[:k-1]
		return h
	}
	s.nodes = append(s.nodes, node[V]{prev: None, next: None})
	return Handle(len(s.nodes) - 1)
}

// release zeroes the slot so the value can be collected and parks it on
// the free list.
func (s *Store[V]) release(h Handle) {
	s.nodes[h] = node[V]{prev: None, next: None}
	s.free = append(s.free, h)
}
