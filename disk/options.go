package disk

import (
	"time"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/tier"
)

const (
	// DefaultMaxAge is used when Options.MaxAge is zero.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultSweepInterval is used when Options.SweepInterval is zero.
	DefaultSweepInterval = 120 * time.Second
	// DefaultInlineThreshold is used when Options.InlineThreshold is zero.
	DefaultInlineThreshold = 20 << 10

	// evictBatch is how many candidates one eviction query fetches.
	evictBatch = 16
)

// Options configures the disk tier. Zero values are safe;
// defaults are applied in New():
//   - SizeLimit == 0, CountLimit == 0 => unlimited
//   - MaxAge == 0        => DefaultMaxAge; < 0 disables expiry
//   - SweepInterval == 0 => DefaultSweepInterval; < 0 disables the sweeper
//   - InlineThreshold <= 0 => DefaultInlineThreshold
//   - nil Codec => codec.ByName(CodecName), which defaults to JSON
//   - nil Metrics/Logger/Clock => no-op metrics, zap.NewNop(), wall clock
type Options struct {
	// Dir is the namespace directory holding cache.sqlite and data/. The
	// unified cache always derives it from its root and name.
	Dir string `yaml:"-"`

	// SizeLimit caps the sum of payload sizes in bytes; enforced by the sweep.
	SizeLimit int64 `yaml:"size_limit"`
	// CountLimit caps the number of records; enforced by the sweep.
	CountLimit int `yaml:"count_limit"`
	// MaxAge expires records not read or written for this long.
	MaxAge time.Duration `yaml:"max_age"`
	// SweepInterval is the pause between the end of one sweep and the next.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// InlineThreshold is the largest encoded payload kept inside the database.
	InlineThreshold int `yaml:"inline_threshold"`
	// Compress stores file payloads zstd-framed.
	Compress bool `yaml:"compress"`

	// CodecName selects a built-in codec ("json", "go-json", "msgpack").
	CodecName string      `yaml:"codec"`
	Codec     codec.Codec `yaml:"-"`

	// Workers bounds the goroutines serving async calls.
	Workers int `yaml:"workers"`

	Metrics tier.Metrics `yaml:"-"`
	Logger  *zap.Logger  `yaml:"-"`
	Clock   tier.Clock   `yaml:"-"`
}

type wallClock struct{}

func (wallClock) NowUnixNano() int64 { return time.Now().UnixNano() }
