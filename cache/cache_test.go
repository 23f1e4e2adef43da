package cache

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/lifecycle"
	"github.com/IvanBrykalov/tiercache/memory"
	"github.com/IvanBrykalov/tiercache/tier"
)

// readCounter counts disk-tier reads through the metrics hooks.
type readCounter struct {
	tier.NoopMetrics
	hits, misses atomic.Int64
}

func (m *readCounter) Hit()  { m.hits.Add(1) }
func (m *readCounter) Miss() { m.misses.Add(1) }

// onHit runs fn after each disk-tier hit, while the disk read is in flight
// from the cache's point of view.
type onHit struct {
	tier.NoopMetrics
	fn func()
}

func (m *onHit) Hit() { m.fn() }

func newCache[V any](t *testing.T, opt Options) *Cache[V] {
	t.Helper()
	if opt.Dir == "" {
		opt.Dir = t.TempDir()
	}
	if opt.Disk.SweepInterval == 0 {
		opt.Disk.SweepInterval = -1
	}
	opt.Logger = zaptest.NewLogger(t)
	c, err := New[V](opt)
	require.NoError(t, err)
	require.NoError(t, c.Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_SetGetRemove(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{})
	require.True(t, c.Set("a", 1, 0))
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.True(t, c.Memory().Contains("a"))
	assert.True(t, c.Disk().Contains("a"))

	require.True(t, c.Remove("a"))
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.Contains("a"))
	assert.True(t, c.Remove("a"), "removing an absent key succeeds")
}

func TestCache_LoadStore(t *testing.T) {
	t.Parallel()

	c := newCache[string](t, Options{})
	require.True(t, c.Store("k", "v"))
	v, ok := c.Load("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

// After a disk-only write, the first Get reads disk and the second is
// served from memory.
func TestCache_PromotionAvoidsSecondDiskRead(t *testing.T) {
	t.Parallel()

	reads := &readCounter{}
	c := newCache[string](t, Options{Disk: disk.Options{Metrics: reads}})

	require.True(t, c.Disk().Set("k", "v", 0))
	require.False(t, c.Memory().Contains("k"))

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.EqualValues(t, 1, reads.hits.Load())
	assert.True(t, c.Memory().Contains("k"))
	assert.Zero(t, c.Memory().TotalCost(), "promotion uses cost 0")

	v, ok = c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
	assert.EqualValues(t, 1, reads.hits.Load(), "second Get must not touch disk")
}

func TestCache_CountLimitedMemoryFallsBackToDisk(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{Memory: memory.Options{CountLimit: 3}})
	c.Set("k1", 10, 0)
	c.Set("k2", 20, 0)
	c.Set("k3", 30, 0)

	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	c.Set("k4", 40, 0) // memory evicts its LRU entry, k2
	assert.False(t, c.Memory().Contains("k2"))
	v, ok = c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 10, v)

	v, ok = c.Get("k2") // disk still has it; promoted back
	require.True(t, ok)
	assert.Equal(t, 20, v)
	assert.True(t, c.Memory().Contains("k2"))
	assert.Equal(t, 3, c.Memory().Len())
}

func TestCache_EvictedFromMemoryRepromoted(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{Memory: memory.Options{CountLimit: 3}})
	c.Set("k1", 10, 0)
	c.Set("k2", 20, 0)
	c.Set("k3", 30, 0)
	c.Set("k4", 40, 0)

	_, ok := c.Memory().Get("k1")
	require.False(t, ok, "memory alone misses k1")
	v, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, 10, v)
	assert.True(t, c.Memory().Contains("k1"))
}

func TestCache_SetReportsEitherTier(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{})
	require.NoError(t, c.Disk().Close())

	assert.True(t, c.Set("a", 1, 0), "memory accepted the value")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, c.Remove("a"), "disk removal failed")
	assert.False(t, c.Memory().Contains("a"))
}

func TestCache_RemoveAll(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{})
	for i, k := range []string{"a", "b", "c"} {
		c.Set(k, i, 0)
	}
	require.True(t, c.RemoveAll())
	assert.Zero(t, c.Memory().Len())
	n, ok := c.Disk().TotalCount()
	require.True(t, ok)
	assert.Zero(t, n)
	assert.DirExists(t, filepath.Join(c.Dir(), "data"))
}

func TestCache_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c1, err := New[string](Options{Name: "ns", Dir: root, Disk: disk.Options{SweepInterval: -1}})
	require.NoError(t, err)
	require.True(t, c1.Store("k", "v"))
	require.NoError(t, c1.Close())
	assert.FileExists(t, filepath.Join(root, "ns", "cache.sqlite"))

	c2 := newCache[string](t, Options{Name: "ns", Dir: root})
	assert.False(t, c2.Memory().Contains("k"))
	v, ok := c2.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

// A value written to memory during a disk read wins over the promoted one.
func TestCache_PromotionKeepsConcurrentWrite(t *testing.T) {
	t.Parallel()

	var c *Cache[string]
	hook := &onHit{fn: func() { c.Memory().Set("k", "new", 0) }}
	c = newCache[string](t, Options{Disk: disk.Options{Metrics: hook}})

	require.True(t, c.Disk().Set("k", "old", 0))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "old", v, "the caller sees what it read")

	v, ok = c.Memory().Get("k")
	require.True(t, ok)
	assert.Equal(t, "new", v, "promotion must not overwrite the newer value")
}

func TestCache_NamespacesAreIsolated(t *testing.T) {
	t.Parallel()

	for _, names := range [][2]string{{"a", "b"}, {"a?x", "a?y"}, {"what?ns#1", "what?ns#2"}} {
		root := t.TempDir()
		a := newCache[int](t, Options{Name: names[0], Dir: root})
		b := newCache[int](t, Options{Name: names[1], Dir: root})

		a.Set("k", 1, 0)
		assert.False(t, b.Disk().Contains("k"), names)
		b.RemoveAll()
		assert.True(t, a.Disk().Contains("k"), names)

		entries, err := os.ReadDir(root)
		require.NoError(t, err)
		got := make([]string, 0, len(entries))
		for _, e := range entries {
			got = append(got, e.Name())
		}
		assert.ElementsMatch(t, names[:], got, "only the namespace directories live under the root")
	}
}

func TestNew_InvalidName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"..", ".", "a/b", `a\b`} {
		_, err := New[int](Options{Name: name, Dir: t.TempDir()})
		assert.Error(t, err, name)
	}
}

func TestCache_DiskOpenFailureKeepsMemory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "blocked"), []byte("x"), 0o600))

	c, err := New[int](Options{Name: "blocked", Dir: root, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Error(t, c.Err())

	assert.True(t, c.Set("a", 1, 0))
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestCache_IteratorSkipsRemovedAndPromotes(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{})
	for i, k := range []string{"a", "b", "c"} {
		c.Set(k, i, 0)
	}
	c.Memory().RemoveAll()

	it := c.Iterator()
	require.Equal(t, 3, it.Len())
	c.Remove("b")

	seen := map[string]int{}
	for {
		k, v, ok := it.Next()
		if !ok {
			break
		}
		seen[k] = v
	}
	assert.Equal(t, map[string]int{"a": 0, "c": 2}, seen)
	assert.True(t, c.Memory().Contains("a"), "iteration promotes disk hits")

	it.Reset()
	_, _, ok := it.Next()
	assert.True(t, ok)

	n := 0
	for range c.All() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestCache_MemoryFlushOnSignal(t *testing.T) {
	t.Parallel()

	var b lifecycle.Broadcaster
	c := newCache[int](t, Options{Memory: memory.Options{Signals: &b}})
	c.Set("a", 1, 0)
	b.Raise(lifecycle.MemoryPressure)
	assert.Zero(t, c.Memory().Len())

	v, ok := c.Get("a")
	require.True(t, ok, "disk survives memory pressure")
	assert.Equal(t, 1, v)
}

func TestCache_AsyncAfterClose(t *testing.T) {
	t.Parallel()

	c := newCache[int](t, Options{Workers: 2})

	done := make(chan bool, 1)
	c.SetAsync("a", 1, 0, func(_ string, ok bool) { done <- ok })
	require.True(t, <-done)

	got := make(chan int, 1)
	c.GetAsync("a", func(_ string, v int, ok bool) {
		assert.True(t, ok)
		got <- v
	})
	select {
	case v := <-got:
		assert.Equal(t, 1, v)
	case <-time.After(5 * time.Second):
		t.Fatal("GetAsync callback not invoked")
	}

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Err(), tier.ErrClosed)
	assert.ErrorIs(t, c.Disk().Err(), tier.ErrClosed)
	assert.ErrorIs(t, c.Memory().Err(), tier.ErrClosed)
	calls := 0
	c.ContainsAsync("a", func(_ string, ok bool) { calls++; assert.False(t, ok) })
	c.RemoveAsync("a", func(_ string, ok bool) { calls++; assert.False(t, ok) })
	c.RemoveAllAsync(func(ok bool) { calls++; assert.False(t, ok) })
	assert.Equal(t, 3, calls)
}
