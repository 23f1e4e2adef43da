// Package tier defines the contract shared by the memory and disk tiers,
// plus the hooks (metrics, clock) and the async executor both use.
package tier

import "errors"

// ErrClosed is what Err reports once a tier or cache has been closed.
var ErrClosed = errors.New("tier: closed")

// Tier is a keyed cache backend. Memory and disk tiers both implement it
// so the unified cache and tests can treat them uniformly.
//
// Every method is safe for concurrent use. Nothing panics across this
// boundary: fallible operations report a bool. Async variants run the
// synchronous operation on the tier's executor and invoke done exactly
// once; two async calls have no ordering guarantee relative to each other.
type Tier[V any] interface {
	// Set inserts or replaces key. cost is a caller-assigned weight.
	Set(key string, v V, cost int64) bool
	// Get returns the value for key and whether it was found.
	Get(key string) (V, bool)
	// Contains reports whether key is present without reading its value.
	Contains(key string) bool
	// Remove deletes key. It reports true once key is no longer present.
	Remove(key string) bool
	// RemoveAll deletes every entry.
	RemoveAll() bool

	SetAsync(key string, v V, cost int64, done func(key string, ok bool))
	GetAsync(key string, done func(key string, v V, ok bool))
	ContainsAsync(key string, done func(key string, ok bool))
	RemoveAsync(key string, done func(key string, ok bool))
	RemoveAllAsync(done func(ok bool))

	// Close releases background workers. In-flight async callbacks complete.
	Close() error
}
