package tier

// EvictReason explains why an entry was removed without an explicit Remove.
type EvictReason int

const (
	// EvictCost: removed to bring total cost (memory) or size (disk) under budget.
	EvictCost EvictReason = iota
	// EvictCount: removed to bring the entry count under budget.
	EvictCount
	// EvictExpired: disk record older than the configured max age.
	EvictExpired
	// EvictFlush: dropped by RemoveAll or a lifecycle signal.
	EvictFlush
)

// String returns a stable label for r.
func (r EvictReason) String() string {
	switch r {
	case EvictCost:
		return "cost"
	case EvictCount:
		return "count"
	case EvictExpired:
		return "expired"
	case EvictFlush:
		return "flush"
	default:
		return "unknown"
	}
}

// Metrics exposes tier-level observability hooks.
// Implementations must be safe for concurrent use; hooks may be called
// while a tier lock is held, so keep them cheap.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason, n int)
	Size(entries int, cost int64)
}

// NoopMetrics is the default Metrics and does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                         {}
func (NoopMetrics) Miss()                        {}
func (NoopMetrics) Evict(EvictReason, int)       {}
func (NoopMetrics) Size(entries int, cost int64) {}

var _ Metrics = NoopMetrics{}

// Clock provides time in UnixNano; useful for deterministic tests.
type Clock interface{ NowUnixNano() int64 }
