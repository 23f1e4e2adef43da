// Package singleflight coalesces concurrent lookups of the same key.
package singleflight

import "sync"

// Group runs at most one fn per key at a time. Callers that arrive while
// a call for their key is in flight wait for it and share its result.
//
// Concurrency notes:
//   - The first caller for a key becomes the leader and runs fn.
//   - Followers wait on c.done. Publishing (val, ok) happens-before
//     close(c.done), so reads after <-done observe the final values.
//   - Once the leader returns, the key is forgotten: a later call runs fn
//     again rather than reusing a stale result.
type Group[V any] struct {
	mu sync.Mutex
	m  map[string]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed when val/ok are published
	val  V
	ok   bool
}

// Do runs fn for key unless a call is already in flight, in which case it
// waits and returns that call's result. shared reports whether the result
// came from another caller's fn.
func (g *Group[V]) Do(key string, fn func() (V, bool)) (v V, ok, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[V])
	}
	if c, found := g.m[key]; found {
		g.mu.Unlock()
		<-c.done
		return c.val, c.ok, true
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// fn may panic; followers must still be released.
	defer func() {
		close(c.done)
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
	}()

	c.val, c.ok = fn()
	return c.val, c.ok, false
}
