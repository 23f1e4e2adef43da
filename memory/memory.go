// Package memory implements the in-process cache tier: a mutex-guarded
// keyed LRU list with cost and count budgets that flushes itself on host
// lifecycle signals.
package memory

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/internal/lrustore"
	"github.com/IvanBrykalov/tiercache/internal/util"
	"github.com/IvanBrykalov/tiercache/lifecycle"
	"github.com/IvanBrykalov/tiercache/tier"
)

// Tier is the memory cache tier. All methods are safe for concurrent use.
//
// Typical complexity is O(1): a map lookup plus constant-time list fixes
// under the tier lock. Eviction is O(1) per removed entry.
type Tier[V any] struct {
	// ---- guarded by mu ----
	mu         sync.Mutex
	lru        *lrustore.Store[V]
	costLimit  int64
	countLimit int

	flushOnPressure   atomic.Bool
	flushOnBackground atomic.Bool
	closed            atomic.Bool
	unsubscribe       func()

	exec    *tier.Executor
	metrics tier.Metrics
	log     *zap.Logger

	stats util.Counters
}

var _ tier.Tier[int] = (*Tier[int])(nil)

// New constructs a memory tier. If opt.Signals is set, the tier
// subscribes to it immediately and unsubscribes on Close.
func New[V any](opt Options) *Tier[V] {
	if opt.Metrics == nil {
		opt.Metrics = tier.NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.CostLimit < 0 {
		opt.CostLimit = 0
	}
	if opt.CountLimit < 0 {
		opt.CountLimit = 0
	}

	t := &Tier[V]{
		lru:        lrustore.New[V](opt.CountLimit),
		costLimit:  opt.CostLimit,
		countLimit: opt.CountLimit,
		exec:       tier.NewExecutor(opt.Workers),
		metrics:    opt.Metrics,
		log:        opt.Logger.Named("memory"),
	}
	t.flushOnPressure.Store(!opt.IgnoreMemoryPressure)
	t.flushOnBackground.Store(!opt.IgnoreBackground)
	if opt.Signals != nil {
		t.unsubscribe = opt.Signals.Subscribe(t.onSignal)
	}
	return t
}

// ---- tier.Tier implementation ----

// Set inserts or updates key. An existing entry is updated in place and
// promoted; a new entry goes to the head. Budgets are enforced afterwards.
// Negative costs are treated as 0.
func (t *Tier[V]) Set(key string, v V, cost int64) bool {
	if t.closed.Load() {
		return false
	}
	if cost < 0 {
		cost = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.lru.Lookup(key); ok {
		t.lru.Update(h, v, cost)
		t.lru.MoveToHead(h)
	} else {
		t.lru.InsertAtHead(key, v, cost)
	}
	t.enforceLimitsLocked()
	return true
}

// Add inserts key only if it is absent and reports whether it did. An
// existing entry is left untouched, recency included.
func (t *Tier[V]) Add(key string, v V, cost int64) bool {
	if t.closed.Load() {
		return false
	}
	if cost < 0 {
		cost = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.lru.Lookup(key); ok {
		return false
	}
	t.lru.InsertAtHead(key, v, cost)
	t.enforceLimitsLocked()
	return true
}

// Get returns the value for key and promotes it to most recently used.
func (t *Tier[V]) Get(key string) (V, bool) {
	var zero V
	if t.closed.Load() {
		return zero, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.lru.Lookup(key)
	if !ok {
		t.stats.Misses.Add(1)
		t.metrics.Miss()
		return zero, false
	}
	t.lru.MoveToHead(h)
	t.stats.Hits.Add(1)
	t.metrics.Hit()
	return t.lru.Value(h), true
}

// Contains reports whether key is resident. It does not affect recency.
func (t *Tier[V]) Contains(key string) bool {
	if t.closed.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.lru.Lookup(key)
	return ok
}

// Remove deletes key if present. Removing an absent key succeeds.
func (t *Tier[V]) Remove(key string) bool {
	if t.closed.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.lru.Lookup(key); ok {
		t.lru.Remove(h)
		t.metrics.Size(t.lru.Len(), t.lru.TotalCost())
	}
	return true
}

// RemoveAll drops every entry. It is a cheap no-op when already empty.
func (t *Tier[V]) RemoveAll() bool {
	if t.closed.Load() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lru.Len()
	if n == 0 {
		return true
	}
	t.lru.RemoveAll()
	t.stats.Evictions.Add(int64(n))
	t.metrics.Evict(tier.EvictFlush, n)
	t.metrics.Size(0, 0)
	return true
}

// Load is the map-style read; it behaves exactly like Get.
func (t *Tier[V]) Load(key string) (V, bool) { return t.Get(key) }

// Store is the map-style write: Set with cost 0.
func (t *Tier[V]) Store(key string, v V) bool { return t.Set(key, v, 0) }

// SetAsync runs Set on the tier's executor and reports through done.
func (t *Tier[V]) SetAsync(key string, v V, cost int64, done func(key string, ok bool)) {
	if !t.exec.Go(func() { done(key, t.Set(key, v, cost)) }) {
		done(key, false)
	}
}

// GetAsync runs Get on the tier's executor and reports through done.
func (t *Tier[V]) GetAsync(key string, done func(key string, v V, ok bool)) {
	if !t.exec.Go(func() {
		v, ok := t.Get(key)
		done(key, v, ok)
	}) {
		var zero V
		done(key, zero, false)
	}
}

// ContainsAsync runs Contains on the tier's executor and reports through done.
func (t *Tier[V]) ContainsAsync(key string, done func(key string, ok bool)) {
	if !t.exec.Go(func() { done(key, t.Contains(key)) }) {
		done(key, false)
	}
}

// RemoveAsync runs Remove on the tier's executor and reports through done.
func (t *Tier[V]) RemoveAsync(key string, done func(key string, ok bool)) {
	if !t.exec.Go(func() { done(key, t.Remove(key)) }) {
		done(key, false)
	}
}

// RemoveAllAsync runs RemoveAll on the tier's executor and reports through done.
func (t *Tier[V]) RemoveAllAsync(done func(ok bool)) {
	if !t.exec.Go(func() { done(t.RemoveAll()) }) {
		done(false)
	}
}

// Close unsubscribes from lifecycle signals, waits for in-flight async
// calls and marks the tier closed. Later operations report failure.
func (t *Tier[V]) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.exec.Close()
	return nil
}

// ---- budgets and introspection ----

// Err returns tier.ErrClosed after Close and nil before.
func (t *Tier[V]) Err() error {
	if t.closed.Load() {
		return tier.ErrClosed
	}
	return nil
}

// Len returns the number of resident entries.
func (t *Tier[V]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len()
}

// TotalCost returns the sum of resident entry costs.
func (t *Tier[V]) TotalCost() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.TotalCost()
}

// SetCostLimit changes the cost budget. The new budget is enforced on
// the next Set, not immediately.
func (t *Tier[V]) SetCostLimit(limit int64) {
	if limit < 0 {
		limit = 0
	}
	t.mu.Lock()
	t.costLimit = limit
	t.mu.Unlock()
}

// SetCountLimit changes the count budget. Because count overflow is
// corrected one entry per Set, lowering the limit by more than one takes
// several Sets to converge.
func (t *Tier[V]) SetCountLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	t.mu.Lock()
	t.countLimit = limit
	t.mu.Unlock()
}

// SetFlushOnMemoryPressure toggles the reaction to lifecycle.MemoryPressure.
func (t *Tier[V]) SetFlushOnMemoryPressure(on bool) { t.flushOnPressure.Store(on) }

// SetFlushOnBackground toggles the reaction to lifecycle.EnteredBackground.
func (t *Tier[V]) SetFlushOnBackground(on bool) { t.flushOnBackground.Store(on) }

// Stats is a point-in-time view of tier counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
	Cost      int64
}

// Stats returns current counters and occupancy.
func (t *Tier[V]) Stats() Stats {
	h, m, e := t.stats.Snapshot()
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{Hits: h, Misses: m, Evictions: e, Entries: t.lru.Len(), Cost: t.lru.TotalCost()}
}

// ---- internals (mu held) ----

// enforceLimitsLocked evicts LRU entries until the cost budget holds and
// then evicts at most one entry if the count budget is exceeded. A Set
// adds at most one entry, so one eviction restores the count budget as
// long as the limit is not lowered at runtime.
func (t *Tier[V]) enforceLimitsLocked() {
	if t.costLimit > 0 {
		for t.lru.TotalCost() > t.costLimit {
			if _, ok := t.lru.RemoveTail(); !ok {
				break
			}
			t.stats.Evictions.Add(1)
			t.metrics.Evict(tier.EvictCost, 1)
		}
	}
	if t.countLimit > 0 && t.lru.Len() > t.countLimit {
		if _, ok := t.lru.RemoveTail(); ok {
			t.stats.Evictions.Add(1)
			t.metrics.Evict(tier.EvictCount, 1)
		}
	}
	t.metrics.Size(t.lru.Len(), t.lru.TotalCost())
}

func (t *Tier[V]) onSignal(s lifecycle.Signal) {
	var on bool
	switch s {
	case lifecycle.MemoryPressure:
		on = t.flushOnPressure.Load()
	case lifecycle.EnteredBackground:
		on = t.flushOnBackground.Load()
	}
	if !on {
		return
	}
	t.log.Debug("flushing on lifecycle signal", zap.Stringer("signal", s))
	t.RemoveAll()
}
