package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/btree-query-bench/pagetree/dbms/index/bptree"
	"github.com/btree-query-bench/pagetree/dbms/index/listindex"
	"github.com/btree-query-bench/pagetree/dbms/index/lsm"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/cockroachdb/errors"
)

// BenchConfig describes one bench run.
type BenchConfig struct {
	Dir     string // CSV, PNG and scratch databases go here
	Keys    int
	Workers int
	Options []bptree.Option
}

// BenchResult is one CSV row. Objects tracks GC pressure.
type BenchResult struct {
	Name      string
	Config    string
	Operation string
	LatencyNs int64
	MemMB     uint64
	Objects   uint64
}

type MemoryStats struct {
	AllocMB      uint64
	TotalAllocMB uint64
	HeapObjects  uint64
}

// GetDetailedMem forces a GC so the numbers reflect live data.
func GetDetailedMem() MemoryStats {
	var m runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		HeapObjects:  m.HeapObjects,
	}
}

// Record writes res as a CSV row.
func Record(w *csv.Writer, res BenchResult) error {
	return w.Write([]string{
		res.Name,
		res.Config,
		res.Operation,
		strconv.FormatInt(res.LatencyNs, 10),
		strconv.FormatUint(res.MemMB, 10),
		strconv.FormatUint(res.Objects, 10),
	})
}

// runBench loads the paged tree, Pebble and the list index with cfg.Keys
// keys each, runs the three workloads against them and writes
// bench_results.csv and bench_latency.png to cfg.Dir.
func runBench(cfg BenchConfig) error {
	log := logging.WithComponent("bench")
	if cfg.Keys <= 0 || cfg.Workers <= 0 {
		return errors.Newf("bench: need positive keys and workers, got %d and %d", cfg.Keys, cfg.Workers)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return dberr.IO(err, "bench: mkdir %s", cfg.Dir)
	}
	scratch, err := os.MkdirTemp(cfg.Dir, "scratch-")
	if err != nil {
		return dberr.IO(err, "bench: scratch dir")
	}
	defer os.RemoveAll(scratch)

	csvPath := filepath.Join(cfg.Dir, "bench_results.csv")
	f, err := os.Create(csvPath)
	if err != nil {
		return dberr.IO(err, "bench: create %s", csvPath)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"Structure", "Config", "TestType", "LatencyNs", "MemMB", "HeapObjects"}); err != nil {
		return err
	}

	structures := []struct {
		name string
		open func() (index.Index, string, error)
	}{
		{"BPlusTree", func() (index.Index, string, error) {
			t, err := bptree.Open(filepath.Join(scratch, "bptree.db"), cfg.Options...)
			if err != nil {
				return nil, "", err
			}
			return t, fmt.Sprintf("order=%d", t.Order()), nil
		}},
		{"LSM-Pebble", func() (index.Index, string, error) {
			l, err := lsm.Open(filepath.Join(scratch, "pebble"))
			return l, "memtable=16MB", err
		}},
		{"List", func() (index.Index, string, error) {
			return listindex.NewListIndex(), "sorted-slice", nil
		}},
	}

	var results []BenchResult
	for _, s := range structures {
		idx, conf, err := s.open()
		if err != nil {
			return errors.Wrapf(err, "bench: open %s", s.name)
		}
		log.Info("benchmarking", "structure", s.name, "config", conf, "keys", cfg.Keys)
		rs, err := runSuite(idx, s.name, conf, cfg)
		if cerr := idx.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "bench: %s", s.name)
		}
		for _, r := range rs {
			if err := Record(w, r); err != nil {
				return err
			}
		}
		results = append(results, rs...)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return dberr.IO(err, "bench: write %s", csvPath)
	}

	pngPath := filepath.Join(cfg.Dir, "bench_latency.png")
	if err := PlotLatencies(results, pngPath); err != nil {
		return err
	}
	fmt.Printf("Benchmark complete: %s, %s\n", csvPath, pngPath)
	return nil
}

func runSuite(idx index.Index, name, conf string, cfg BenchConfig) ([]BenchResult, error) {
	wl := NewWorkload(idx, cfg.Keys)
	var out []BenchResult
	timed := func(op string, ops int, fn func() error) error {
		start := time.Now()
		if err := fn(); err != nil {
			return err
		}
		elapsed := time.Since(start)
		mem := GetDetailedMem()
		out = append(out, BenchResult{
			Name:      name,
			Config:    conf,
			Operation: op,
			LatencyNs: elapsed.Nanoseconds() / int64(max(ops, 1)),
			MemMB:     mem.AllocMB,
			Objects:   mem.HeapObjects,
		})
		return nil
	}

	if err := timed("Load_Sequential", cfg.Keys, wl.Load); err != nil {
		return nil, err
	}
	half := cfg.Keys / 2
	if err := timed("Workload_OLTP", half, func() error { return wl.Execute(OLTP, half, cfg.Workers) }); err != nil {
		return nil, err
	}
	if err := timed("Workload_OLAP", half, func() error { return wl.Execute(OLAP, half, cfg.Workers) }); err != nil {
		return nil, err
	}
	if err := timed("Workload_Range", 100, func() error { return wl.Execute(Reporting, 100, cfg.Workers) }); err != nil {
		return nil, err
	}
	return out, nil
}
