package cache

import "iter"

// Iterator walks the disk tier's key snapshot, which covers every key
// written through the cache. Values come from memory when resident and
// from disk otherwise (promoting them). Keys removed after the snapshot
// was taken are skipped.
type Iterator[V any] struct {
	c    *Cache[V]
	keys []string
	pos  int
}

// Iterator snapshots the keys stored on disk right now.
func (c *Cache[V]) Iterator() *Iterator[V] {
	return &Iterator[V]{c: c, keys: c.disk.Keys()}
}

// Next returns the next entry, or ok=false at the end.
func (it *Iterator[V]) Next() (key string, v V, ok bool) {
	for it.pos < len(it.keys) {
		key = it.keys[it.pos]
		it.pos++
		if v, ok = it.c.Get(key); ok {
			return key, v, true
		}
	}
	return "", v, false
}

// Reset rewinds to the start of the same snapshot.
func (it *Iterator[V]) Reset() { it.pos = 0 }

// Len is the size of the snapshot, counting keys that may since be gone.
func (it *Iterator[V]) Len() int { return len(it.keys) }

// All returns a range-over-func view of a fresh Iterator.
func (c *Cache[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		it := c.Iterator()
		for {
			k, v, ok := it.Next()
			if !ok || !yield(k, v) {
				return
			}
		}
	}
}
