// Package cache provides a generic two-tier cache: an in-process LRU
// memory tier in front of a persistent SQLite-backed disk tier, unified
// behind one string-keyed API.
//
// Design
//
//   - Tiers: memory.Tier keeps values in an arena-backed LRU list with
//     optional cost and count budgets; disk.Tier encodes values with a
//     codec and stores them in <Dir>/<Name>/cache.sqlite, moving large
//     payloads to <Dir>/<Name>/data/.
//
//   - Writes go to both tiers. Set reports true if either tier accepted
//     the value; Remove and RemoveAll report true only if both did.
//
//   - Reads check memory first. A miss reads the disk tier and copies the
//     value into memory with cost 0, so the next Get stays in memory.
//     Concurrent misses on one key share a single disk read.
//
//   - Concurrency: each tier has its own mutex; namespaces never share
//     state. Async variants run on a bounded worker pool and always call
//     their callback exactly once, inline with a failure result after Close.
//
//   - Disk budgets (size, count, age) are enforced by a background sweep
//     that skips a cycle rather than wait for a busy tier.
//
//   - Memory pressure: give memory.Options a lifecycle.Source (for example
//     a lifecycle.Broadcaster driven by lifecycle.Watcher) and the memory
//     tier flushes itself when a signal fires.
//
// Basic usage
//
//	c, err := cache.New[string](cache.Options{
//	    Name:   "thumbnails",
//	    Memory: memory.Options{CountLimit: 1_000},
//	    Disk:   disk.Options{SizeLimit: 64 << 20},
//	})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	c.Store("a", "1")
//	if v, ok := c.Load("a"); ok {
//	    _ = v
//	}
//	for k, v := range c.All() {
//	    fmt.Println(k, v)
//	}
//
// Exporting metrics
//
//	m := prom.New(nil, "tiercache", "memory", nil) // implements tier.Metrics
//	c, _ := cache.New[[]byte](cache.Options{Memory: memory.Options{Metrics: m}})
package cache
