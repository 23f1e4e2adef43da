package memory

import (
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/lifecycle"
	"github.com/IvanBrykalov/tiercache/tier"
)

// Options configures the memory tier. Zero values are safe;
// defaults are applied in New():
//   - CostLimit == 0, CountLimit == 0 => unlimited
//   - nil Metrics => tier.NoopMetrics
//   - nil Logger  => zap.NewNop()
//   - Workers <= 0 => 2*GOMAXPROCS async workers
type Options struct {
	// CostLimit caps the sum of entry costs (0 = unlimited).
	// After every Set, tail entries are evicted until the total fits.
	CostLimit int64 `yaml:"cost_limit"`

	// CountLimit caps the number of entries (0 = unlimited).
	// At most one tail entry is evicted per Set.
	CountLimit int `yaml:"count_limit"`

	// Signals is the lifecycle source the tier subscribes to (nil = none).
	Signals lifecycle.Source `yaml:"-"`
	// IgnoreMemoryPressure disables flushing on lifecycle.MemoryPressure.
	IgnoreMemoryPressure bool `yaml:"ignore_memory_pressure"`
	// IgnoreBackground disables flushing on lifecycle.EnteredBackground.
	IgnoreBackground bool `yaml:"ignore_background"`

	// Workers bounds the goroutines serving async calls.
	Workers int `yaml:"workers"`

	Metrics tier.Metrics `yaml:"-"`
	Logger  *zap.Logger  `yaml:"-"`
}
