// gcstress drives a synthetic mutator against the zone collector and
// reports what the collector did.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/zonegc/config"
	"github.com/chazu/zonegc/gc"
	"github.com/chazu/zonegc/gc/telemetry"
)

var log = commonlog.GetLogger("zonegc.gcstress")

type options struct {
	configPath string
	duration   time.Duration
	steps      int
	batch      int
	seed       uint64
	zones      int
	maxRoots   int
	statsDB    string
	shrink     bool
	snapshot   bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to zonegc.toml (default: search upward from the working directory)")
	flag.DurationVar(&opts.duration, "duration", 5*time.Second, "How long to run the mutator")
	flag.IntVar(&opts.steps, "steps", 0, "Stop after this many mutator steps (0: run for -duration)")
	flag.IntVar(&opts.batch, "batch", 256, "Mutator steps per exclusive-access batch")
	flag.Uint64Var(&opts.seed, "seed", 1, "Random seed for the mutator")
	flag.IntVar(&opts.zones, "zones", 8, "Number of zones the mutator allocates in")
	flag.IntVar(&opts.maxRoots, "roots", 512, "Maximum number of rooted cells")
	flag.StringVar(&opts.statsDB, "stats-db", "", "Record every cycle in this sqlite database")
	flag.BoolVar(&opts.shrink, "shrink", false, "Finish with a shrinking (compacting) GC")
	flag.BoolVar(&opts.snapshot, "snapshot", false, "Print a heap snapshot at the end")
	flag.BoolVar(&opts.verbose, "v", false, "Verbose output (debug logging)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gcstress [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a random mutator against an incremental zone collector.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gcstress -duration 30s            # Run for 30 seconds\n")
		fmt.Fprintf(os.Stderr, "  gcstress -steps 100000 -seed 7    # Reproducible run\n")
		fmt.Fprintf(os.Stderr, "  gcstress -stats-db gc.db -shrink  # Record cycles, compact at the end\n")
	}
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	return cfg, nil
}

func run(opts options) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Log.Apply(); err != nil {
		return err
	}
	gcCfg, err := cfg.ToGC()
	if err != nil {
		return err
	}
	if cfg.Path != "" {
		log.Infof("using %s", cfg.Path)
	}

	rt := gc.NewRuntime(gcCfg)

	dbPath := opts.statsDB
	if dbPath == "" && cfg.Telemetry.Enabled {
		dbPath = cfg.Telemetry.Database
	}
	var sink *telemetry.Sink
	if dbPath != "" {
		sink, err = telemetry.OpenSink(dbPath)
		if err != nil {
			return err
		}
		defer sink.Close()
		sink.Attach(rt)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if opts.steps == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.duration)
		defer cancel()
	}

	w := newWorkload(rt, opts.seed, opts.zones, opts.maxRoots)
	sched := gc.NewSliceScheduler(rt)
	sched.Start()

	start := time.Now()
	steps, err := drive(ctx, rt, w, opts, sink, cfg.Telemetry.SnapshotEvery)
	sched.Stop()
	if err != nil {
		return err
	}

	var final gc.CycleStats
	rt.WithExclusiveAccess(func() {
		rt.FinishGC()
		final = rt.GC("final", opts.shrink)
	})
	elapsed := time.Since(start)

	report(rt, w, sched, steps, elapsed, final)
	if opts.snapshot {
		printSnapshot(rt.Snapshot())
	}
	if sink != nil {
		if err := sink.RecordSnapshot(rt.Snapshot()); err != nil {
			return err
		}
		fmt.Printf("cycle history written to %s\n", sink.Path())
	}
	return nil
}

// drive runs mutator batches until ctx is done or opts.steps is reached.
func drive(ctx context.Context, rt *gc.Runtime, w *workload, opts options, sink *telemetry.Sink, snapshotEvery int) (int, error) {
	steps := 0
	lastSnap := uint64(0)
	for {
		if err := ctx.Err(); err != nil {
			return steps, nil
		}
		if opts.steps > 0 && steps >= opts.steps {
			return steps, nil
		}
		n := opts.batch
		if opts.steps > 0 {
			n = min(n, opts.steps-steps)
		}
		var err error
		var snap *gc.HeapSnapshot
		rt.WithExclusiveAccess(func() {
			for i := 0; i < n && err == nil; i++ {
				err = w.step()
			}
			if sink != nil && snapshotEvery > 0 && rt.CycleCount() >= lastSnap+uint64(snapshotEvery) {
				lastSnap = rt.CycleCount()
				s := rt.Snapshot()
				snap = &s
			}
		})
		steps += n
		if err != nil {
			return steps, fmt.Errorf("mutator step %d: %w", steps, err)
		}
		if snap != nil {
			if err := sink.RecordSnapshot(*snap); err != nil {
				log.Warningf("recording snapshot: %s", err)
			}
		}
	}
}

func report(rt *gc.Runtime, w *workload, sched *gc.SliceScheduler, steps int, elapsed time.Duration, final gc.CycleStats) {
	fmt.Printf("%s mutator steps in %s (%s steps/s)\n",
		humanize.Comma(int64(steps)), elapsed.Round(time.Millisecond),
		humanize.Comma(int64(float64(steps)/elapsed.Seconds())))

	ops := make([]string, 0, len(w.ops))
	for op := range w.ops {
		ops = append(ops, op)
	}
	slices.Sort(ops)
	for _, op := range ops {
		fmt.Printf("  %-10s %s\n", op, humanize.Comma(int64(w.ops[op])))
	}
	fmt.Printf("  %-10s %d (zone churn %d, finalizers run %d)\n", "oom", w.oom, w.zoneChurn, w.finalized)

	fmt.Printf("major GCs: %d, minor GCs: %d, scheduler ticks: %d, slices: %d\n",
		rt.CycleCount(), rt.MinorCount(), sched.Ticks(), sched.Slices())
	fmt.Printf("final GC: freed %s cells, %d sweep groups, heap %s -> %s",
		humanize.Comma(int64(final.Freed)), final.SweepGroups,
		humanize.Bytes(final.HeapBytesBefore), humanize.Bytes(final.HeapBytesAfter))
	if final.Compacted {
		fmt.Printf(", relocated %s cells", humanize.Comma(int64(final.Relocated)))
	}
	fmt.Println()
}

func printSnapshot(s gc.HeapSnapshot) {
	fmt.Printf("runtime %s: %d roots, %d atoms, %d zones\n", s.RuntimeID, s.Roots, s.Atoms, len(s.Zones))
	for _, z := range s.Zones {
		cells := 0
		for _, n := range z.Cells {
			cells += n
		}
		var malloc uint64
		for _, n := range z.MallocBytes {
			malloc += n
		}
		fmt.Printf("  %-10s %6s cells in %3d arenas  gc %8s  malloc %8s  ids %d\n",
			z.Name, humanize.Comma(int64(cells)), z.Arenas,
			humanize.Bytes(z.GCBytes), humanize.Bytes(malloc), z.UniqueIDs)
	}
}
