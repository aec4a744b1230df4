// Command bench runs a synthetic zipf workload against the cache and
// exposes optional pprof/Prometheus endpoints. Exit status is nonzero on
// configuration errors.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wxliang123/cache/cache"
	pmet "github.com/wxliang123/cache/metrics/prom"
	"github.com/wxliang123/cache/policy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(1)
	}
}

func run() error {
	def := defaultConfig()
	var (
		cfgPath = flag.String("config", "", "YAML config file; flags override its values")

		name     = flag.String("name", def.Name, "eviction policy: fifo | lru | segment | frozenhot")
		capacity = flag.Uint64("capacity", def.Capacity, "cache capacity (entries)")
		shards   = flag.Int("shards", def.Shards, "number of shards (0=auto)")
		requests = flag.Uint64("requests", def.Requests, "total operations")
		threads  = flag.Int("threads", def.Threads, "worker goroutines")
		diskLat  = flag.Int("disk_latency", def.DiskLatency, "simulated miss penalty (microseconds)")
		trace    = flag.String("trace", def.Trace, "workload trace: zipf")
		path     = flag.String("path", def.Path, "trace file (unused for zipf)")

		keys  = flag.Uint64("keys", def.Keys, "zipf keyspace size")
		zipfS = flag.Float64("zipf_s", def.ZipfS, "zipf skew (s > 1)")
		zipfV = flag.Float64("zipf_v", def.ZipfV, "zipf v (>= 1)")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", "", "serve Prometheus metrics at addr; empty = disabled")
	)
	flag.Parse()

	cfg := def
	if *cfgPath != "" {
		if err := loadConfig(*cfgPath, &cfg); err != nil {
			return err
		}
	}
	// Flags given on the command line win over the file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "name":
			cfg.Name = *name
		case "capacity":
			cfg.Capacity = *capacity
		case "shards":
			cfg.Shards = *shards
		case "requests":
			cfg.Requests = *requests
		case "threads":
			cfg.Threads = *threads
		case "disk_latency":
			cfg.DiskLatency = *diskLat
		case "trace":
			cfg.Trace = *trace
		case "path":
			cfg.Path = *path
		case "keys":
			cfg.Keys = *keys
		case "zipf_s":
			cfg.ZipfS = *zipfS
		case "zipf_v":
			cfg.ZipfV = *zipfV
		}
	})
	if err := cfg.validate(); err != nil {
		return err
	}
	kind, err := policy.ParseKind(cfg.Name)
	if err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	if *pprofAddr != "" {
		go func() {
			log.Info().Str("addr", *pprofAddr).Msg("pprof: serving")
			log.Err(http.ListenAndServe(*pprofAddr, nil)).Msg("pprof: server exited")
		}()
	}
	var metrics cache.Metrics
	if *metricsAddr != "" {
		metrics = pmet.New(nil, "cache", "bench", nil)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Info().Str("addr", *metricsAddr).Msg("metrics: serving")
			log.Err(http.ListenAndServe(*metricsAddr, nil)).Msg("metrics: server exited")
		}()
	}

	c, err := cache.New(cache.Options[string]{
		Capacity:    cfg.Capacity,
		Shards:      cfg.Shards,
		Policy:      kind,
		MissPenalty: time.Duration(cfg.DiskLatency) * time.Microsecond,
		Sampling:    true,
		Logger:      &log,
		Metrics:     metrics,
	})
	if err != nil {
		return err
	}
	defer c.Stop()

	// Every worker draws zipf keys and fills misses back in, the way a
	// read-through deployment behaves.
	perWorker := cfg.Requests / uint64(cfg.Threads)
	var hits, misses uint64
	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < cfg.Threads; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			// rand.Rand is not goroutine-safe; one RNG per worker.
			r := rand.New(rand.NewSource(*seed + int64(id)*9973))
			zipf := rand.NewZipf(r, cfg.ZipfS, cfg.ZipfV, cfg.Keys-1)
			for i := uint64(0); i < perWorker; i++ {
				k := zipf.Uint64()
				if _, ok := c.Lookup(k); ok {
					atomic.AddUint64(&hits, 1)
					continue
				}
				atomic.AddUint64(&misses, 1)
				v := "v:" + cfg.Name
				c.Insert(k, &v)
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	ops := perWorker * uint64(cfg.Threads)
	hitsN := atomic.LoadUint64(&hits)
	missesN := atomic.LoadUint64(&misses)
	fmt.Printf("policy=%s cap=%d shards=%d threads=%d keys=%d dur=%v seed=%d\n",
		cfg.Name, cfg.Capacity, cfg.Shards, cfg.Threads, cfg.Keys, elapsed, *seed)
	fmt.Printf("ops=%d (%.0f ops/s)  hits=%d  misses=%d  hit-rate=%.2f%%\n",
		ops, float64(ops)/elapsed.Seconds(), hitsN, missesN,
		float64(hitsN)/float64(ops)*100)
	fmt.Printf("size=%d capacity=%d\n", c.Size(), c.Capacity())

	c.PrintStatus()
	c.PrintGlobalLat()
	return nil
}
