package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/memory"
)

// DefaultName is the namespace used when Options.Name is empty.
const DefaultName = "default"

// Options configures a unified cache. Zero values are safe;
// defaults are applied in New():
//   - Name == ""  => DefaultName
//   - Dir == ""   => os.UserCacheDir()/tiercache
//   - nil Logger  => zap.NewNop(), handed to both tiers unless they have one
//   - Workers > 0 is used by both tiers unless they set their own
//
// Disk.Dir is always overwritten with Dir/Name.
type Options struct {
	// Name selects the namespace; each name gets its own directory.
	Name string `yaml:"name"`
	// Dir is the root under which namespaces live.
	Dir string `yaml:"dir"`

	Memory memory.Options `yaml:"memory"`
	Disk   disk.Options   `yaml:"disk"`

	// Workers bounds the goroutines serving async calls.
	Workers int `yaml:"workers"`

	Logger *zap.Logger `yaml:"-"`
}

// withDefaults validates opt and fills in the defaults listed on Options.
func (opt Options) withDefaults() (Options, error) {
	if opt.Name == "" {
		opt.Name = DefaultName
	}
	if opt.Name == "." || opt.Name == ".." || strings.ContainsAny(opt.Name, `/\`) {
		return opt, fmt.Errorf("cache: invalid namespace name %q", opt.Name)
	}
	if opt.Dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return opt, fmt.Errorf("cache: no default directory: %w", err)
		}
		opt.Dir = filepath.Join(base, "tiercache")
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Memory.Logger == nil {
		opt.Memory.Logger = opt.Logger
	}
	if opt.Disk.Logger == nil {
		opt.Disk.Logger = opt.Logger
	}
	if opt.Memory.Workers == 0 {
		opt.Memory.Workers = opt.Workers
	}
	if opt.Disk.Workers == 0 {
		opt.Disk.Workers = opt.Workers
	}
	opt.Disk.Dir = filepath.Join(opt.Dir, opt.Name)
	return opt, nil
}
