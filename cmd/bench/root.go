package bench

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tobgro/streamstore/cmd/util"
	"github.com/tobgro/streamstore/lib/cache"
	"github.com/tobgro/streamstore/lib/segdb"
	"github.com/tobgro/streamstore/lib/segdb/engines/larch"
	"github.com/tobgro/streamstore/lib/store"
	"github.com/tobgro/streamstore/lib/store/wstore"
)

var (
	// BenchCmd represents the bench command
	BenchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Benchmark the caching window store",
		Long:    "Runs a write/read workload against a set of window stores sharing one cache and reports latency percentiles.",
		RunE:    run,
		PreRunE: processBenchConfig,
	}

	benchNumStores  = 4
	benchOps        = 100_000
	benchKeySpread  = 100
	benchValueSize  = 128
	benchFlushEvery = 1000
)

func init() {
	key := "stores"
	BenchCmd.Flags().Int(key, 4, util.WrapString("Number of sibling stores sharing the cache, one writer goroutine each"))
	key = "ops"
	BenchCmd.Flags().Int(key, 100_000, util.WrapString("Number of put operations per store"))
	key = "keys"
	BenchCmd.Flags().Int(key, 100, util.WrapString("How many different keys each store writes to"))
	key = "value-size"
	BenchCmd.Flags().Int(key, 128, util.WrapString("Value size in bytes"))
	key = "flush-every"
	BenchCmd.Flags().Int(key, 1000, util.WrapString("Flush each store after this many puts (0 = only at the end)"))
	key = "prometheus"
	BenchCmd.Flags().Bool(key, false, util.WrapString("Dump the cache metrics in Prometheus text format after the run"))
	key = "snapshot"
	BenchCmd.Flags().String(key, "", util.WrapString("Optional path to save a snapshot of the first store's persistent data after the run"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	benchNumStores = viper.GetInt("stores")
	benchOps = viper.GetInt("ops")
	benchKeySpread = viper.GetInt("keys")
	benchValueSize = viper.GetInt("value-size")
	benchFlushEvery = viper.GetInt("flush-every")

	return nil
}

// benchContext is a processing context whose record timestamp follows the
// operation counter, so every store write lands in a fresh window.
type benchContext struct {
	ts int64
}

func (c *benchContext) RecordContext() cache.RecordContext {
	return cache.RecordContext{
		Timestamp: c.ts,
		Topic:     "bench",
	}
}

func run(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	conf := util.GetStoreConfig()

	logger.Info("starting benchmark",
		"stores", benchNumStores,
		"ops", benchOps,
		"keys", benchKeySpread,
		"cache_kb", conf.CacheSizeKB,
	)

	sharedCache := cache.New(int64(conf.CacheSizeKB) * 1024)

	registry := gometrics.NewRegistry()
	putHist := gometrics.GetOrRegisterHistogram("put", registry, gometrics.NewExpDecaySample(1028, 0.015))
	fetchHist := gometrics.GetOrRegisterHistogram("fetch", registry, gometrics.NewExpDecaySample(1028, 0.015))
	flushHist := gometrics.GetOrRegisterHistogram("flush", registry, gometrics.NewExpDecaySample(1028, 0.015))

	// One store per writer; the cache is the only shared component.
	stores := make([]store.WindowStore, benchNumStores)
	dbs := make([]segdb.SegmentedDB, benchNumStores)
	contexts := make([]*benchContext, benchNumStores)
	for i := range stores {
		dbs[i] = larch.NewLarchDB(&larch.DBOptions{
			SegmentInterval: conf.SegmentInterval,
			NumSegments:     conf.NumSegments,
		})
		contexts[i] = &benchContext{}
		stores[i] = wstore.NewCachingWindowStore(
			fmt.Sprintf("bench-store-%d", i), conf.WindowSize, dbs[i], sharedCache,
		)
		if err := stores[i].Init(contexts[i]); err != nil {
			return err
		}
	}

	value := make([]byte, benchValueSize)

	start := time.Now()
	var wg sync.WaitGroup
	errs := make(chan error, benchNumStores)

	for i := range stores {
		wg.Add(1)
		go func(s store.WindowStore, ctx *benchContext) {
			defer wg.Done()

			for op := 0; op < benchOps; op++ {
				key := []byte(fmt.Sprintf("key-%d", op%benchKeySpread))
				ctx.ts = int64(op)

				t0 := time.Now()
				if err := s.Put(key, value); err != nil {
					errs <- fmt.Errorf("%s: put: %w", s.Name(), err)
					return
				}
				putHist.Update(time.Since(t0).Nanoseconds())

				if benchFlushEvery > 0 && op%benchFlushEvery == benchFlushEvery-1 {
					t0 = time.Now()
					if err := s.Flush(); err != nil {
						errs <- fmt.Errorf("%s: flush: %w", s.Name(), err)
						return
					}
					flushHist.Update(time.Since(t0).Nanoseconds())
				}
			}

			// Read the full history of one key back through the merge path
			t0 := time.Now()
			it, err := s.Fetch([]byte("key-0"), 0, int64(benchOps))
			if err != nil {
				errs <- fmt.Errorf("%s: fetch: %w", s.Name(), err)
				return
			}
			for it.Next() {
			}
			if err := it.Close(); err != nil {
				errs <- fmt.Errorf("%s: close iterator: %w", s.Name(), err)
				return
			}
			fetchHist.Update(time.Since(t0).Nanoseconds())
		}(stores[i], contexts[i])
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}
	elapsed := time.Since(start)

	// Print results
	totalOps := float64(benchNumStores) * float64(benchOps)
	fmt.Printf("\n%d stores, %d ops each, %.2fs total (%.0f ops/sec)\n\n",
		benchNumStores, benchOps, elapsed.Seconds(), totalOps/math.Max(elapsed.Seconds(), 1e-9))
	printHistogram("put", putHist)
	printHistogram("flush", flushHist)
	printHistogram("fetch", fetchHist)

	stats := sharedCache.GetStats()
	fmt.Printf("\ncache: %d hits, %d misses, %d evictions, %d flushes, %d bytes used\n",
		stats.Hits, stats.Misses, stats.Evictions, stats.Flushes, stats.Bytes)

	if viper.GetBool("prometheus") {
		fmt.Println()
		sharedCache.WritePrometheus(os.Stdout)
	}

	if path := viper.GetString("snapshot"); path != "" {
		if err := saveSnapshot(dbs[0], path); err != nil {
			return fmt.Errorf("failed to save snapshot: %w", err)
		}
		logger.Info("snapshot saved", "path", path)
	}

	for _, s := range stores {
		if err := s.Close(); err != nil {
			return err
		}
	}

	return nil
}

// printHistogram prints one latency histogram in a formatted way
func printHistogram(name string, h gometrics.Histogram) {
	if h.Count() == 0 {
		fmt.Printf("%-10sskipped\n", name)
		return
	}

	ps := h.Percentiles([]float64{0.5, 0.95, 0.99})
	fmt.Printf("%-10s%d ops\tmean %s\tp50 %s\tp95 %s\tp99 %s\n",
		name, h.Count(),
		time.Duration(int64(h.Mean())),
		time.Duration(int64(ps[0])),
		time.Duration(int64(ps[1])),
		time.Duration(int64(ps[2])),
	)
}

// saveSnapshot writes a store's persistent data to a file
func saveSnapshot(db segdb.SegmentedDB, path string) error {
	if !db.SupportsFeature(segdb.FeatureSave) {
		return fmt.Errorf("engine does not support snapshots")
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return db.Save(file)
}
