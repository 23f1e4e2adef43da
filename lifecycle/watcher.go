package lifecycle

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// WatcherConfig configures a heap watcher.
type WatcherConfig struct {
	// HeapLimit is the HeapAlloc (bytes) above which MemoryPressure is raised.
	HeapLimit uint64
	// Interval between samples. Defaults to 5s.
	Interval time.Duration
	// Logger for pressure transitions. Nil => no-op.
	Logger *zap.Logger

	// readHeap replaces runtime.ReadMemStats in tests.
	readHeap func() uint64
}

// Watcher samples runtime memory stats and raises MemoryPressure on a
// Broadcaster each time heap usage crosses HeapLimit from below.
// It does not raise again until usage has dropped back under the limit.
type Watcher struct {
	cfg    WatcherConfig
	b      *Broadcaster
	log    *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup
	above  bool
}

// NewWatcher returns a stopped watcher; call Start to begin sampling.
func NewWatcher(b *Broadcaster, cfg WatcherConfig) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.readHeap == nil {
		cfg.readHeap = func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		}
	}
	return &Watcher{cfg: cfg, b: b, log: cfg.Logger.Named("lifecycle")}
}

// Start launches the sampling goroutine. It stops when ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		t := time.NewTicker(w.cfg.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				w.sample()
			}
		}
	}()
}

// Stop halts sampling and waits for the goroutine to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// sample reads the heap once and raises on an upward crossing.
func (w *Watcher) sample() {
	if w.cfg.HeapLimit == 0 {
		return
	}
	heap := w.cfg.readHeap()
	switch {
	case heap > w.cfg.HeapLimit && !w.above:
		w.above = true
		w.log.Warn("heap above limit, raising memory pressure",
			zap.Uint64("heap_alloc", heap),
			zap.Uint64("heap_limit", w.cfg.HeapLimit))
		w.b.Raise(MemoryPressure)
	case heap <= w.cfg.HeapLimit && w.above:
		w.above = false
		w.log.Debug("heap back under limit", zap.Uint64("heap_alloc", heap))
	}
}
