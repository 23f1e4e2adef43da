package lrustore

// Iterator walks a store from head (MRU) to tail (LRU).
// It keeps its own cursor: each Next advances exactly one node and a
// later Next resumes where the previous call stopped. It must not be used
// while the store is being mutated.
type Iterator[V any] struct {
	s       *Store[V]
	cur     Handle
	started bool
}

// Iter returns an iterator positioned before the current head.
func (s *Store[V]) Iter() *Iterator[V] {
	return &Iterator[V]{s: s, cur: None}
}

// Next returns the next entry, or false once the tail has been passed.
func (it *Iterator[V]) Next() (Entry[V], bool) {
	if !it.started {
		it.started = true
		it.cur = it.s.head
	}
	if it.cur == None {
		return Entry[V]{}, false
	}
	n := &it.s.nodes[it.cur]
	it.cur = n.next
	return Entry[V]{Key: n.key, Value: n.val, Cost: n.cost}, true
}

// Reset rewinds the iterator so the next call starts from the head again.
func (it *Iterator[V]) Reset() {
	it.started = false
	it.cur = None
}

// Keys returns the keys from head to tail.
func (s *Store[V]) Keys() []string {
	keys := make([]string, 0, s.count)
	for h := s.head; h != None; h = s.nodes[h].next {
		keys = append(keys, s.nodes[h].key)
	}
	return keys
}
