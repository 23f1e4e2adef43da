// Package lifecycle carries host lifecycle signals (memory pressure,
// entered background) to cache tiers through an explicit source object.
//
// The host detects the condition and calls Broadcaster.Raise; tiers
// subscribe at construction and unsubscribe when closed. Watcher is a
// ready-made detector for memory pressure based on runtime heap stats.
package lifecycle

import "sync"

// Signal is a host lifecycle event.
type Signal int

const (
	// MemoryPressure means the process should shed memory.
	MemoryPressure Signal = iota + 1
	// EnteredBackground means the host moved to the background.
	EnteredBackground
)

func (s Signal) String() string {
	switch s {
	case MemoryPressure:
		return "memory_pressure"
	case EnteredBackground:
		return "entered_background"
	default:
		return "unknown"
	}
}

// Source delivers signals to subscribers. Subscribe returns a function
// that removes the subscription; calling it more than once is harmless.
type Source interface {
	Subscribe(fn func(Signal)) (cancel func())
}

// Broadcaster is an in-process Source. The zero value is ready to use.
type Broadcaster struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(Signal)
}

// Subscribe registers fn for every subsequently raised signal.
func (b *Broadcaster) Subscribe(fn func(Signal)) func() {
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]func(Signal))
	}
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Raise delivers s synchronously to every current subscriber.
// Subscribers run outside the broadcaster lock.
func (b *Broadcaster) Raise(s Signal) {
	b.mu.RLock()
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

var _ Source = (*Broadcaster)(nil)
