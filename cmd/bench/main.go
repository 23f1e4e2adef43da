// Command bench runs a synthetic workload against a two-tier cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/config"
	"github.com/IvanBrykalov/tiercache/lifecycle"
)

func main() {
	// ---- Flags ----
	var (
		cfgPath  = flag.String("config", "", "YAML config file (optional; TIERCACHE_* env vars apply on top)")
		dir      = flag.String("dir", "", "cache root directory (default: a fresh temp dir)")
		memCount = flag.Int("mem_count", 10_000, "memory tier count limit")
		diskSize = flag.Int64("disk_size", 256<<20, "disk tier size limit in bytes")
		codecN   = flag.String("codec", "", "disk codec: json | go-json | msgpack")
		compress = flag.Bool("compress", false, "zstd-compress disk payload files")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys      = flag.Int("keys", 100_000, "keyspace size")
		valueSize = flag.Int("value_size", 256, "value size in bytes")
		zipfS     = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV     = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload   = flag.Int("preload", 0, "preload entries (0 = mem_count/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- Configuration: defaults, file, env, then flags ----
	cfg := config.NewDefault()
	if *cfgPath != "" {
		if err := cfg.LoadFromFile(*cfgPath); err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	cfg.Name = "bench"
	cfg.Memory.CountLimit = *memCount
	cfg.Disk.SizeLimit = *diskSize
	cfg.Disk.Compress = cfg.Disk.Compress || *compress
	if *codecN != "" {
		cfg.Disk.CodecName = *codecN
	}
	cfg.Metrics.Enabled = true
	switch {
	case *dir != "":
		cfg.Dir = *dir
	case cfg.Dir == "":
		tmp, err := os.MkdirTemp("", "tiercache-bench-")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		cfg.Dir = tmp
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			logger.Info("pprof serving", zap.String("addr", *pprofAddr))
			logger.Warn("pprof stopped", zap.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Info("metrics serving", zap.String("addr", *metricsAddr))
		logger.Warn("metrics stopped", zap.Error(http.ListenAndServe(*metricsAddr, nil)))
	}()

	// ---- Build cache ----
	var signals lifecycle.Broadcaster
	if w := cfg.NewWatcher(&signals, logger); w != nil {
		w.Start(context.Background())
		defer w.Stop()
	}
	c, err := cache.New[string](cfg.CacheOptions(logger, &signals, nil))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()
	if err := c.Err(); err != nil {
		log.Fatalf("disk tier: %v", err)
	}

	// ---- Preload to get a realistic hit-rate ----
	value := strings.Repeat("v", *valueSize)
	pl := *preload
	if pl == 0 {
		pl = *memCount / 2
	}
	for i := 0; i < pl; i++ {
		c.Set("k:"+strconv.Itoa(i), value, 1)
	}

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, hits, misses, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, keysMax)
			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					if _, ok := c.Get(keyByZipf()); ok {
						atomic.AddUint64(&hits, 1)
					} else {
						atomic.AddUint64(&misses, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					c.Set(keyByZipf(), value, 1)
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	hitsN := atomic.LoadUint64(&hits)

	hitRate := 0.0
	if readsN > 0 {
		hitRate = float64(hitsN) / float64(readsN) * 100
	}
	mem := c.Memory().Stats()
	dsk := c.Disk().Stats()
	count, _ := c.Disk().TotalCount()
	size, _ := c.Disk().TotalSize()

	fmt.Printf("dir=%s codec=%s compress=%v workers=%d keys=%d dur=%v seed=%d\n",
		c.Dir(), cfg.Disk.CodecName, cfg.Disk.Compress, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, atomic.LoadUint64(&writes))
	fmt.Printf("hits=%d  misses=%d  hit-rate=%.2f%%\n", hitsN, atomic.LoadUint64(&misses), hitRate)
	fmt.Printf("memory: entries=%d hits=%d misses=%d evictions=%d\n", mem.Entries, mem.Hits, mem.Misses, mem.Evictions)
	fmt.Printf("disk:   records=%d bytes=%d hits=%d misses=%d evictions=%d\n", count, size, dsk.Hits, dsk.Misses, dsk.Evictions)
}
