package cache

import (
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/internal/singleflight"
	"github.com/IvanBrykalov/tiercache/memory"
	"github.com/IvanBrykalov/tiercache/tier"
)

// Cache is a two-tier cache: a memory tier in front of a disk tier.
// All methods are safe for concurrent use by multiple goroutines.
type Cache[V any] struct {
	name string
	dir  string

	mem  *memory.Tier[V]
	disk *disk.Tier[V]

	exec   *tier.Executor
	log    *zap.Logger
	closed atomic.Bool

	// coalesces concurrent disk reads of the same key in Get.
	sf singleflight.Group[V]
}

var _ tier.Tier[int] = (*Cache[int])(nil)

// New builds both tiers for the namespace opt.Dir/opt.Name. It fails only
// on invalid options; if the disk store cannot be opened the cache still
// works from memory and Err reports the cause.
func New[V any](opt Options) (*Cache[V], error) {
	opt, err := opt.withDefaults()
	if err != nil {
		return nil, err
	}
	c := &Cache[V]{
		name: opt.Name,
		dir:  opt.Disk.Dir,
		mem:  memory.New[V](opt.Memory),
		disk: disk.New[V](opt.Disk),
		exec: tier.NewExecutor(opt.Workers),
		log:  opt.Logger.Named("cache").With(zap.String("namespace", opt.Name)),
	}
	if err := c.disk.Err(); err != nil {
		c.log.Error("disk tier unavailable, serving from memory only", zap.Error(err))
	}
	return c, nil
}

// Name returns the namespace.
func (c *Cache[V]) Name() string { return c.name }

// Dir returns the namespace directory.
func (c *Cache[V]) Dir() string { return c.dir }

// Memory exposes the memory tier.
func (c *Cache[V]) Memory() *memory.Tier[V] { return c.mem }

// Disk exposes the disk tier.
func (c *Cache[V]) Disk() *disk.Tier[V] { return c.disk }

// Err reports why the disk tier could not be opened, tier.ErrClosed after
// Close, or nil.
func (c *Cache[V]) Err() error {
	if c.closed.Load() {
		return tier.ErrClosed
	}
	return c.disk.Err()
}

// ---- tier.Tier implementation ----

// Set writes v to both tiers. cost applies to the memory tier only.
// It reports true if either tier accepted the value.
func (c *Cache[V]) Set(key string, v V, cost int64) bool {
	if c.closed.Load() {
		return false
	}
	memOK := c.mem.Set(key, v, cost)
	diskOK := c.disk.Set(key, v, cost)
	if memOK != diskOK {
		c.log.Debug("partial set", zap.String("key", key), zap.Bool("memory", memOK), zap.Bool("disk", diskOK))
	}
	return memOK || diskOK
}

// Get returns the value from memory, or reads it from disk and promotes
// it into memory with cost 0. Concurrent misses on the same key share a
// single disk read.
//
// Promotion only fills an empty slot, so a Set that lands in memory while
// the disk read is in flight is never overwritten by the older value. A
// Remove racing with the read can still leave the read value in memory
// until it is evicted or overwritten.
func (c *Cache[V]) Get(key string) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	if v, ok := c.mem.Get(key); ok {
		return v, true
	}
	v, ok, _ := c.sf.Do(key, func() (V, bool) {
		v, ok := c.disk.Get(key)
		if ok {
			c.mem.Add(key, v, 0)
		}
		return v, ok
	})
	return v, ok
}

// Contains reports whether either tier holds key. Recency is unaffected.
func (c *Cache[V]) Contains(key string) bool {
	if c.closed.Load() {
		return false
	}
	return c.mem.Contains(key) || c.disk.Contains(key)
}

// Remove deletes key from both tiers and reports whether both succeeded.
func (c *Cache[V]) Remove(key string) bool {
	if c.closed.Load() {
		return false
	}
	memOK := c.mem.Remove(key)
	diskOK := c.disk.Remove(key)
	return memOK && diskOK
}

// RemoveAll empties both tiers and reports whether both succeeded.
func (c *Cache[V]) RemoveAll() bool {
	if c.closed.Load() {
		return false
	}
	memOK := c.mem.RemoveAll()
	diskOK := c.disk.RemoveAll()
	return memOK && diskOK
}

// Load is the map-style read; it behaves exactly like Get.
func (c *Cache[V]) Load(key string) (V, bool) { return c.Get(key) }

// Store is the map-style write: Set with cost 0.
func (c *Cache[V]) Store(key string, v V) bool { return c.Set(key, v, 0) }

// SetAsync runs Set on the cache's executor and reports through done.
func (c *Cache[V]) SetAsync(key string, v V, cost int64, done func(key string, ok bool)) {
	if !c.exec.Go(func() { done(key, c.Set(key, v, cost)) }) {
		done(key, false)
	}
}

// GetAsync runs Get on the cache's executor and reports through done.
func (c *Cache[V]) GetAsync(key string, done func(key string, v V, ok bool)) {
	if !c.exec.Go(func() {
		v, ok := c.Get(key)
		done(key, v, ok)
	}) {
		var zero V
		done(key, zero, false)
	}
}

// ContainsAsync runs Contains on the cache's executor and reports through done.
func (c *Cache[V]) ContainsAsync(key string, done func(key string, ok bool)) {
	if !c.exec.Go(func() { done(key, c.Contains(key)) }) {
		done(key, false)
	}
}

// RemoveAsync runs Remove on the cache's executor and reports through done.
func (c *Cache[V]) RemoveAsync(key string, done func(key string, ok bool)) {
	if !c.exec.Go(func() { done(key, c.Remove(key)) }) {
		done(key, false)
	}
}

// RemoveAllAsync runs RemoveAll on the cache's executor and reports through done.
func (c *Cache[V]) RemoveAllAsync(done func(ok bool)) {
	if !c.exec.Go(func() { done(c.RemoveAll()) }) {
		done(false)
	}
}

// Close drains async calls and closes both tiers.
func (c *Cache[V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.exec.Close()
	return multierr.Combine(c.mem.Close(), c.disk.Close())
}
