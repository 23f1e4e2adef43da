package disk

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/internal/index"
	"github.com/IvanBrykalov/tiercache/tier"
)

type fakeClock struct{ t atomic.Int64 }

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.t.Store(time.Unix(1_700_000_000, 0).UnixNano())
	return c
}

func (f *fakeClock) NowUnixNano() int64  { return f.t.Load() }
func (f *fakeClock) add(d time.Duration) { f.t.Add(int64(d)) }

type countingMetrics struct {
	hits, misses atomic.Int64
	mu           sync.Mutex
	evicted      map[tier.EvictReason]int
}

func (m *countingMetrics) Hit()  { m.hits.Add(1) }
func (m *countingMetrics) Miss() { m.misses.Add(1) }
func (m *countingMetrics) Evict(r tier.EvictReason, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.evicted == nil {
		m.evicted = map[tier.EvictReason]int{}
	}
	m.evicted[r] += n
}
func (m *countingMetrics) Size(int, int64) {}

func (m *countingMetrics) count(r tier.EvictReason) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evicted[r]
}

// newTier opens a tier with the sweeper disabled; tests drive Sweep directly.
func newTier[V any](t *testing.T, opt Options) *Tier[V] {
	t.Helper()
	if opt.Dir == "" {
		opt.Dir = t.TempDir()
	}
	if opt.SweepInterval == 0 {
		opt.SweepInterval = -1
	}
	opt.Logger = zaptest.NewLogger(t)
	d := New[V](opt)
	require.NoError(t, d.Err())
	t.Cleanup(func() { _ = d.Close() })
	return d
}

type doc struct {
	Title string `json:"title" msgpack:"title"`
	Body  string `json:"body" msgpack:"body"`
}

func TestTier_RoundTripAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	big := doc{Title: "big", Body: strings.Repeat("x", 64<<10)}
	small := doc{Title: "small", Body: "y"}

	d := New[doc](Options{Dir: dir, SweepInterval: -1, Logger: zaptest.NewLogger(t)})
	require.NoError(t, d.Err())
	require.True(t, d.Set("big", big, 0))
	require.True(t, d.Set("small", small, 0))
	require.NoError(t, d.Close())

	// Only the large payload was written as a file.
	entries, err := os.ReadDir(filepath.Join(dir, "data"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, index.FileNameFor("big", false), entries[0].Name())

	d2 := newTier[doc](t, Options{Dir: dir})
	got, ok := d2.Get("big")
	require.True(t, ok)
	assert.Equal(t, big, got)
	got, ok = d2.Get("small")
	require.True(t, ok)
	assert.Equal(t, small, got)
}

func TestTier_CompressedMsgpack(t *testing.T) {
	t.Parallel()

	d := newTier[doc](t, Options{CodecName: "msgpack", Compress: true, InlineThreshold: 8})
	in := doc{Title: "t", Body: strings.Repeat("abc", 1000)}
	require.True(t, d.Set("k", in, 0))

	_, err := os.Stat(filepath.Join(d.Dir(), "data", index.FileNameFor("k", true)))
	require.NoError(t, err)

	out, ok := d.Get("k")
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestTier_ContainsRemoveRemoveAll(t *testing.T) {
	t.Parallel()

	m := &countingMetrics{}
	d := newTier[int](t, Options{Metrics: m})
	assert.False(t, d.Contains("a"))
	require.True(t, d.Set("a", 1, 0))
	require.True(t, d.Set("b", 2, 0))
	assert.True(t, d.Contains("a"))

	assert.True(t, d.Remove("a"))
	assert.False(t, d.Contains("a"))
	assert.True(t, d.Remove("a"), "removing an absent key succeeds")

	require.True(t, d.RemoveAll())
	n, ok := d.TotalCount()
	require.True(t, ok)
	assert.Zero(t, n)
	assert.Equal(t, 1, m.count(tier.EvictFlush))

	// The store is usable after a reset.
	require.True(t, d.Set("c", 3, 0))
	v, ok := d.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	require.True(t, d.Store("s", 4))
	v, ok = d.Load("s")
	assert.True(t, ok)
	assert.Equal(t, 4, v)
}

// Records written with one codec read back as misses under another.
func TestTier_DecodeFailureIsMiss(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := New[string](Options{Dir: dir, SweepInterval: -1, Codec: codec.JSON{}})
	require.True(t, w.Set("k", "value", 0))
	require.NoError(t, w.Close())

	m := &countingMetrics{}
	r := newTier[int](t, Options{Dir: dir, Metrics: m})
	_, ok := r.Get("k")
	assert.False(t, ok)
	assert.EqualValues(t, 1, m.misses.Load())
	assert.True(t, r.Contains("k"), "the record itself is untouched")
}

func TestTier_ExpiryKeepsRecentlyRead(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := &countingMetrics{}
	d := newTier[string](t, Options{Clock: clk, MaxAge: time.Hour, Metrics: m})

	require.True(t, d.Set("old", "o", 0))
	require.True(t, d.Set("read", "r", 0))
	clk.add(50 * time.Minute)
	_, ok := d.Get("read") // refreshes access time
	require.True(t, ok)
	clk.add(20 * time.Minute)

	require.True(t, d.Sweep())
	assert.False(t, d.Contains("old"))
	assert.True(t, d.Contains("read"))
	assert.Equal(t, 1, m.count(tier.EvictExpired))

	clk.add(2 * time.Hour)
	require.True(t, d.RemoveExpired())
	assert.False(t, d.Contains("read"))
}

func TestTier_SweepEnforcesSizeLimit(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := &countingMetrics{}
	// Each JSON-encoded string below is 12 bytes ("\"" + 10 + "\"").
	d := newTier[string](t, Options{Clock: clk, SizeLimit: 30, MaxAge: -1, Metrics: m})
	for _, k := range []string{"a", "b", "c", "d"} {
		require.True(t, d.Set(k, strings.Repeat(k, 10), 0))
		clk.add(time.Second)
	}
	_, ok := d.Get("a")
	require.True(t, ok)

	require.True(t, d.Sweep())
	size, ok := d.TotalSize()
	require.True(t, ok)
	assert.LessOrEqual(t, size, int64(30))
	assert.True(t, d.Contains("a"), "recently read survives")
	assert.True(t, d.Contains("d"))
	assert.False(t, d.Contains("b"))
	assert.False(t, d.Contains("c"))
	assert.Equal(t, 2, m.count(tier.EvictCost))
}

func TestTier_SweepEnforcesCountLimit(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := newTier[int](t, Options{Clock: clk, CountLimit: 20, MaxAge: -1})
	for i := 0; i < 50; i++ {
		require.True(t, d.Set("k"+string(rune('A'+i)), i, 0))
		clk.add(time.Second)
	}
	require.True(t, d.Sweep())

	n, ok := d.TotalCount()
	require.True(t, ok)
	assert.EqualValues(t, 20, n)
	assert.True(t, d.Contains("k"+string(rune('A'+49))))
	assert.False(t, d.Contains("kA"))
}

// pinPayload replaces key's payload file with a non-empty directory so
// that deleting the record's file fails.
func pinPayload(t *testing.T, d *Tier[string], key string) string {
	t.Helper()
	p := filepath.Join(d.Dir(), "data", index.FileNameFor(key, false))
	require.FileExists(t, p)
	require.NoError(t, os.Remove(p))
	require.NoError(t, os.Mkdir(p, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(p, "pin"), []byte("x"), 0o600))
	return p
}

func TestTier_ExpiryProceedsPastStuckFile(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	m := &countingMetrics{}
	d := newTier[string](t, Options{Clock: clk, MaxAge: time.Hour, InlineThreshold: 64, Metrics: m})
	require.True(t, d.Set("big", strings.Repeat("x", 200), 0))
	small := []string{"s0", "s1", "s2", "s3", "s4"}
	for _, k := range small {
		require.True(t, d.Set(k, k, 0))
	}
	p := pinPayload(t, d, "big")
	clk.add(2 * time.Hour)

	require.True(t, d.Sweep())
	for _, k := range small {
		assert.False(t, d.Contains(k), "%s must expire despite the stuck file", k)
	}
	assert.True(t, d.Contains("big"), "record with an unremovable file is kept")
	assert.Equal(t, len(small), m.count(tier.EvictExpired))
	assert.False(t, d.RemoveExpired(), "incomplete expiry reports failure")

	require.NoError(t, os.RemoveAll(p))
	assert.True(t, d.RemoveExpired())
	assert.False(t, d.Contains("big"))
}

func TestTier_SweepStopsOnFailedEviction(t *testing.T) {
	t.Parallel()

	for name, opt := range map[string]Options{
		"size":  {SizeLimit: 40},
		"count": {CountLimit: 2},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			clk := newFakeClock()
			m := &countingMetrics{}
			opt.Clock, opt.Metrics, opt.MaxAge, opt.InlineThreshold = clk, m, -1, 64
			d := newTier[string](t, opt)

			require.True(t, d.Set("oldest", strings.Repeat("o", 200), 0))
			later := []string{"b", "c", "d"}
			for _, k := range later {
				clk.add(time.Second)
				require.True(t, d.Set(k, strings.Repeat(k, 10), 0))
			}
			pinPayload(t, d, "oldest")

			require.True(t, d.Sweep())
			assert.True(t, d.Contains("oldest"))
			for _, k := range later {
				assert.True(t, d.Contains(k), "%s must not be evicted in the same pass", k)
			}
			n, ok := d.TotalCount()
			require.True(t, ok)
			assert.EqualValues(t, 4, n)
			assert.Zero(t, m.count(tier.EvictCost)+m.count(tier.EvictCount))
		})
	}
}

func TestTier_SweeperRunsInBackground(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := newTier[int](t, Options{Clock: clk, CountLimit: 1, MaxAge: -1, SweepInterval: 10 * time.Millisecond})
	require.True(t, d.Set("a", 1, 0))
	clk.add(time.Second)
	require.True(t, d.Set("b", 2, 0))

	require.Eventually(t, func() bool {
		n, ok := d.TotalCount()
		return ok && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, d.Contains("b"))
}

func TestTier_SweepSkipsWhenBusy(t *testing.T) {
	t.Parallel()

	d := newTier[int](t, Options{})
	d.mu.Lock()
	ok := d.Sweep()
	d.mu.Unlock()
	assert.False(t, ok)
	assert.True(t, d.Sweep())
}

func TestTier_OpenFailureReportsEverywhere(t *testing.T) {
	t.Parallel()

	// A regular file where the namespace directory should be.
	f := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(f, []byte("x"), 0o600))

	d := New[int](Options{Dir: f, Logger: zaptest.NewLogger(t)})
	t.Cleanup(func() { _ = d.Close() })
	require.Error(t, d.Err())

	assert.False(t, d.Set("a", 1, 0))
	_, ok := d.Get("a")
	assert.False(t, ok)
	assert.False(t, d.Contains("a"))
	assert.False(t, d.Remove("a"))
	assert.False(t, d.RemoveAll())
	assert.False(t, d.Sweep())
	assert.Nil(t, d.Keys())

	done := make(chan bool, 1)
	d.SetAsync("a", 1, 0, func(_ string, ok bool) { done <- ok })
	assert.False(t, <-done)
}

func TestTier_UnknownCodec(t *testing.T) {
	t.Parallel()

	d := New[int](Options{Dir: t.TempDir(), CodecName: "gob"})
	t.Cleanup(func() { _ = d.Close() })
	assert.ErrorContains(t, d.Err(), "gob")
}

func TestTier_AsyncAndTotals(t *testing.T) {
	t.Parallel()

	d := newTier[string](t, Options{Workers: 2})

	done := make(chan struct{})
	d.SetAsync("k", "v", 0, func(key string, ok bool) {
		assert.Equal(t, "k", key)
		assert.True(t, ok)
		close(done)
	})
	<-done

	got := make(chan string, 1)
	d.GetAsync("k", func(_ string, v string, ok bool) {
		assert.True(t, ok)
		got <- v
	})
	assert.Equal(t, "v", <-got)

	sizes := make(chan int64, 2)
	d.TotalCountAsync(func(n int64, ok bool) { assert.True(t, ok); sizes <- n })
	d.TotalSizeAsync(func(n int64, ok bool) { assert.True(t, ok); sizes <- n })
	a, b := <-sizes, <-sizes
	assert.ElementsMatch(t, []int64{1, 3}, []int64{a, b})

	require.NoError(t, d.Close())
	assert.ErrorIs(t, d.Err(), tier.ErrClosed)
	called := false
	d.RemoveAllAsync(func(ok bool) { called = true; assert.False(t, ok) })
	assert.True(t, called)
}

func TestTier_IteratorSkipsRemoved(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	d := newTier[int](t, Options{Clock: clk})
	for i, k := range []string{"a", "b", "c"} {
		require.True(t, d.Set(k, i, 0))
		clk.add(time.Second)
	}

	it := d.Iterator()
	k, _, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "c", k)
	require.True(t, d.Remove("b"))
	k, v, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, "a", k)
	assert.Equal(t, 0, v)
	_, _, ok = it.Next()
	assert.False(t, ok)

	seen := map[string]int{}
	for k, v := range d.All() {
		seen[k] = v
	}
	assert.Equal(t, map[string]int{"a": 0, "c": 2}, seen)
}
