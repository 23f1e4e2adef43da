package disk

import (
	"iter"

	"go.uber.org/zap"
)

// Keys returns a snapshot of every stored key, most recently accessed first.
func (t *Tier[V]) Keys() []string {
	if !t.usable() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, err := t.idx.Keys()
	if err != nil {
		t.log.Warn("keys failed", zap.Error(err))
		return nil
	}
	return keys
}

// Iterator walks a key snapshot taken at creation. Each step is a Get,
// so access times are refreshed and keys removed meanwhile are skipped.
type Iterator[V any] struct {
	t    *Tier[V]
	keys []string
	pos  int
}

// Iterator returns an iterator over the keys stored right now.
func (t *Tier[V]) Iterator() *Iterator[V] {
	return &Iterator[V]{t: t, keys: t.Keys()}
}

// Next returns the next readable entry, or ok=false at the end.
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
