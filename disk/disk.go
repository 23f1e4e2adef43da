// Package disk implements the persistent cache tier on top of
// internal/index: values are encoded with a codec, stored inline or as
// payload files, and trimmed by a background sweep that enforces size,
// count and age budgets.
package disk

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/internal/index"
	"github.com/IvanBrykalov/tiercache/internal/util"
	"github.com/IvanBrykalov/tiercache/tier"
)

// Tier is the disk cache tier. All methods are safe for concurrent use;
// one mutex serializes every index access, so the tier never runs two
// SQLite statements at once.
type Tier[V any] struct {
	mu  sync.Mutex // guards idx
	idx *index.Index

	openErr error
	opt     Options
	codec   codec.Typed[V]
	clock   tier.Clock
	metrics tier.Metrics
	log     *zap.Logger
	exec    *tier.Executor

	closed    atomic.Bool
	stop      chan struct{}
	sweepDone chan struct{}

	stats util.Counters
}

var _ tier.Tier[int] = (*Tier[int])(nil)

// New opens (or creates) the store under opt.Dir and starts the sweeper.
// It never returns nil: if the store cannot be opened, every operation
// reports failure and Err returns the cause.
func New[V any](opt Options) *Tier[V] {
	if opt.Metrics == nil {
		opt.Metrics = tier.NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Clock == nil {
		opt.Clock = wallClock{}
	}
	if opt.MaxAge == 0 {
		opt.MaxAge = DefaultMaxAge
	}
	if opt.SweepInterval == 0 {
		opt.SweepInterval = DefaultSweepInterval
	}
	if opt.InlineThreshold <= 0 {
		opt.InlineThreshold = DefaultInlineThreshold
	}

	t := &Tier[V]{
		opt:       opt,
		clock:     opt.Clock,
		metrics:   opt.Metrics,
		log:       opt.Logger.Named("disk"),
		exec:      tier.NewExecutor(opt.Workers),
		stop:      make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	c := opt.Codec
	if c == nil {
		var ok bool
		if c, ok = codec.ByName(opt.CodecName); !ok {
			t.openErr = fmt.Errorf("disk: unknown codec %q", opt.CodecName)
		}
	}
	t.codec = codec.Typed[V]{C: c}

	if t.openErr == nil {
		t.idx, t.openErr = index.Open(index.Options{
			Dir:    opt.Dir,
			Now:    t.now,
			Logger: opt.Logger,
		})
	}
	if t.openErr != nil {
		t.log.Error("disk tier unavailable", zap.String("dir", opt.Dir), zap.Error(t.openErr))
		close(t.sweepDone)
		return t
	}

	if opt.SweepInterval > 0 {
		go t.sweepLoop(opt.SweepInterval)
	} else {
		close(t.sweepDone)
	}
	return t
}

// Err reports why the tier cannot serve: the open error, tier.ErrClosed
// after Close, or nil.
func (t *Tier[V]) Err() error {
	if t.openErr != nil {
		return t.openErr
	}
	if t.closed.Load() {
		return tier.ErrClosed
	}
	return nil
}

// Dir returns the namespace directory.
func (t *Tier[V]) Dir() string { return t.opt.Dir }

func (t *Tier[V]) now() time.Time { return time.Unix(0, t.clock.NowUnixNano()) }

// usable reports whether the tier can serve an operation.
func (t *Tier[V]) usable() bool {
	return t.openErr == nil && !t.closed.Load()
}

// ---- tier.Tier implementation ----

// Set encodes v and stores it. cost is ignored: the disk budgets are
// measured in payload bytes and records. Encoded payloads larger than
// InlineThreshold go to a file; the rest stay inline.
func (t *Tier[V]) Set(key string, v V, _ int64) bool {
	if !t.usable() {
		return false
	}
	b, err := t.codec.Encode(v)
	if err != nil {
		t.log.Warn("encode failed", zap.String("key", key), zap.Error(err))
		return false
	}
	var fileName string
	if len(b) > t.opt.InlineThreshold {
		fileName = index.FileNameFor(key, t.opt.Compress)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idx.Save(key, b, fileName); err != nil {
		t.log.Warn("save failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Get loads and decodes key. A successful read refreshes the record's
// access time; an undecodable record is reported as a miss.
func (t *Tier[V]) Get(key string) (V, bool) {
	var zero V
	if !t.usable() {
		return zero, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.idx.Get(key)
	if err != nil {
		if !errors.Is(err, index.ErrNotFound) {
			t.log.Warn("read failed", zap.String("key", key), zap.Error(err))
		}
		t.miss()
		return zero, false
	}
	v, err := t.codec.Decode(rec.Data)
	if err != nil {
		t.log.Warn("decode failed", zap.String("key", key), zap.Error(err))
		t.miss()
		return zero, false
	}
	if err := t.idx.UpdateAccessTime(key); err != nil {
		t.log.Warn("access time not updated", zap.String("key", key), zap.Error(err))
	}
	t.stats.Hits.Add(1)
	t.metrics.Hit()
	return v, true
}

func (t *Tier[V]) miss() {
	t.stats.Misses.Add(1)
	t.metrics.Miss()
}

// Contains consults the index only; the payload is not read.
func (t *Tier[V]) Contains(key string) bool {
	if !t.usable() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	ok, err := t.idx.Exists(key)
	if err != nil {
		t.log.Warn("exists failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// Remove deletes the payload file and the record of key. It reports
// false if the file could not be deleted; the record is then kept.
func (t *Tier[V]) Remove(key string) bool {
	if !t.usable() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.idx.Remove(key); err != nil {
		t.log.Warn("remove failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// RemoveAll wipes the namespace directory and recreates an empty store.
func (t *Tier[V]) RemoveAll() bool {
	if !t.usable() {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.idx.TotalCount()
	if err := t.idx.Reset(); err != nil {
		t.log.Error("reset failed", zap.Error(err))
		return false
	}
	if n > 0 {
		t.stats.Evictions.Add(n)
		t.metrics.Evict(tier.EvictFlush, int(n))
	}
	t.metrics.Size(0, 0)
	return true
}

// SetAsync runs Set on the tier's executor and reports through done.
func (t *Tier[V]) SetAsync(key string, v V, cost int64, done func(key string, ok bool)) {
	if !t.exec.Go(func() { done(key, t.Set(key, v, cost)) }) {
		done(key, false)
	}
}

// Load is the map-style read; it behaves exactly like Get.
func (t *Tier[V]) Load(key string) (V, bool) { return t.Get(key) }

// Store is the map-style write; cost does not apply on disk.
func (t *Tier[V]) Store(key string, v V) bool { return t.Set(key, v, 0) }

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

// Close stops the sweeper, waits for in-flight async calls and closes
// the store. Later operations report failure.
func (t *Tier[V]) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.stop)
	<-t.sweepDone
	t.exec.Close()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.idx == nil {
		return nil
	}
	return multierr.Append(t.idx.Checkpoint(), t.idx.Close())
}

// ---- totals ----

// TotalCount returns the number of stored records.
func (t *Tier[V]) TotalCount() (int64, bool) {
	if !t.usable() {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.idx.TotalCount()
	if err != nil {
		t.log.Warn("count failed", zap.Error(err))
		return 0, false
	}
	return n, true
}

// TotalSize returns the sum of stored payload sizes in bytes.
func (t *Tier[V]) TotalSize() (int64, bool) {
	if !t.usable() {
		return 0, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.idx.TotalSize()
	if err != nil {
		t.log.Warn("size failed", zap.Error(err))
		return 0, false
	}
	return n, true
}

// TotalCountAsync runs TotalCount on the tier's executor.
func (t *Tier[V]) TotalCountAsync(done func(n int64, ok bool)) {
	if !t.exec.Go(func() { done(t.TotalCount()) }) {
		done(0, false)
	}
}

// TotalSizeAsync runs TotalSize on the tier's executor.
func (t *Tier[V]) TotalSizeAsync(done func(n int64, ok bool)) {
	if !t.exec.Go(func() { done(t.TotalSize()) }) {
		done(0, false)
	}
}

// Stats is a point-in-time view of tier counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns the hit, miss and eviction counters.
func (t *Tier[V]) Stats() Stats {
	h, m, e := t.stats.Snapshot()
	return Stats{Hits: h, Misses: m, Evictions: e}
}
