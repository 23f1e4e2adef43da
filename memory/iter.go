package memory

import "iter"

// Iterator walks a snapshot of the tier's keys, most recently used first.
// The snapshot is taken when the iterator is created; each step is a
// regular Get, so visited entries are promoted and entries removed in the
// meantime are skipped. No lock is held between steps.
type Iterator[V any] struct {
	t    *Tier[V]
	keys []string
	pos  int
}

// Iterator returns an iterator over the keys resident right now.
func (t *Tier[V]) Iterator() *Iterator[V] {
	t.mu.Lock()
	keys := t.lru.Keys()
	t.mu.Unlock()
	return &Iterator[V]{t: t, keys: keys}
}

// Next returns the next live entry, or ok=false once the snapshot is exhausted.
func (it *Iterator[V]) Next() (key string, v V, ok bool) {
	for it.pos < len(it.keys) {
		key = it.keys[it.pos]
		it.pos++
		if v, ok = it.t.Get(key); ok {
			return key, v, true
		}
	}
	return "", v, false
}

// Reset rewinds to the start of the same snapshot.
func (it *Iterator[V]) Reset() { it.pos = 0 }

// All returns a range-over-func view of a fresh Iterator.
func (t *Tier[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		it := t.Iterator()
		for {
			k, v, ok := it.Next()
			if !ok || !yield(k, v) {
				return
			}
		}
	}
}
