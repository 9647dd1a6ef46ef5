package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index/bptree"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/btree-query-bench/pagetree/dbms/pager"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const usage = `usage: pagetree [flags] repl|bench|dot|stats

  repl   interactive insert/search on the tree in -db
  bench  compare the tree with Pebble and an in-memory list, write CSV and PNG
  dot    write the tree in -db as Graphviz to -out (default stdout)
  stats  print cache and tree metrics for -db in Prometheus text format

flags:
`

// cliConfig holds the parsed command line.
type cliConfig struct {
	Mode       string
	DBPath     string
	Order      int
	CacheSize  int
	PageSize   int
	SyncWrites bool
	LogLevel   string
	LogJSON    bool
	Out        string
	Scale      int
	Workers    int
}

func (c cliConfig) treeOptions() []bptree.Option {
	return []bptree.Option{
		bptree.WithOrder(c.Order),
		bptree.WithCacheSize(c.CacheSize),
		bptree.WithPageSize(c.PageSize),
		bptree.WithSyncWrites(c.SyncWrites),
	}
}

func parseFlags(fs *flag.FlagSet, args []string) (cliConfig, error) {
	var c cliConfig
	fs.StringVar(&c.DBPath, "db", "pagetree.db", "page file of the tree")
	fs.IntVar(&c.Order, "order", bptree.DefaultOrder, "maximum children per internal page")
	fs.IntVar(&c.CacheSize, "cache", pager.DefaultCacheSize, "number of pages kept in memory")
	fs.IntVar(&c.PageSize, "page-size", btpage.DefaultPageSize, "on-disk page slot size in bytes")
	fs.BoolVar(&c.SyncWrites, "sync", false, "fsync after every page write")
	fs.StringVar(&c.LogLevel, "log-level", "warn", "debug, info, warn or error")
	fs.BoolVar(&c.LogJSON, "log-json", false, "log as JSON instead of text")
	fs.StringVar(&c.Out, "out", "", "output file for dot; output directory for bench")
	fs.IntVar(&c.Scale, "n", 100000, "bench: keys loaded per structure")
	fs.IntVar(&c.Workers, "workers", 4, "bench: concurrent workers per workload")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.Mode = fs.Arg(0)
	return c, nil
}

func main() {
	fs := flag.NewFlagSet("pagetree", flag.ExitOnError)
	cfg, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		fatal(err)
	}

	lvl, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	if err := logging.Init(logging.Config{Level: lvl, Output: os.Stderr, JSON: cfg.LogJSON}); err != nil {
		fatal(err)
	}

	opts := cfg.treeOptions()
	switch cfg.Mode {
	case "repl", "":
		err = withTree(cfg.DBPath, opts, func(t *bptree.Tree) error {
			return runREPL(os.Stdin, os.Stdout, t)
		})
	case "dot":
		err = withTree(cfg.DBPath, opts, func(t *bptree.Tree) error {
			return runDOT(t, cfg.Out)
		})
	case "stats":
		err = withTree(cfg.DBPath, opts, func(t *bptree.Tree) error {
			return runStats(os.Stdout, t, cfg.DBPath)
		})
	case "bench":
		dir := cfg.Out
		if dir == "" {
			dir = "results"
		}
		err = runBench(BenchConfig{
			Dir:     dir,
			Keys:    cfg.Scale,
			Workers: cfg.Workers,
			Options: opts,
		})
	default:
		fs.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	logging.GetLogger().Error("pagetree failed", "error", err)
	fmt.Fprintf(os.Stderr, "pagetree: %v\n", err)
	os.Exit(1)
}

func withTree(path string, opts []bptree.Option, fn func(*bptree.Tree) error) error {
	t, err := bptree.Open(path, opts...)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		t.Close()
		return err
	}
	return t.Close()
}

// ─── REPL ─────────────────────────────────────────────────────────────────────

// runREPL is the interactive menu: insert a pair, search a key, or exit.
// Malformed input is reported and the menu shown again; only I/O and tree
// failures end it with an error.
func runREPL(in io.Reader, out io.Writer, t *bptree.Tree) error {
	sc := bufio.NewScanner(in)
	prompt := func(msg string) (string, bool) {
		fmt.Fprint(out, msg)
		if !sc.Scan() {
			return "", false
		}
		return strings.TrimSpace(sc.Text()), true
	}

	for {
		fmt.Fprintln(out, "Please select an operation:")
		fmt.Fprintln(out, "1. Insert key and value")
		fmt.Fprintln(out, "2. Search for a key")
		fmt.Fprintln(out, "3. Exit")
		choice, ok := prompt("Please enter the number of your choice (1, 2 or 3): ")
		if !ok {
			return sc.Err()
		}

		switch choice {
		case "1":
			ks, ok := prompt("Please enter the key to insert: ")
			if !ok {
				return sc.Err()
			}
			key, err := strconv.ParseInt(ks, 10, 64)
			if err != nil {
				fmt.Fprintln(out, "Invalid key. Please enter an integer.")
				continue
			}
			vs, ok := prompt("Please enter the value to insert: ")
			if !ok {
				return sc.Err()
			}
			value, err := strconv.ParseUint(vs, 10, 64)
			if err != nil {
				fmt.Fprintln(out, "Invalid value. Please enter a whole number.")
				continue
			}
			switch err := t.Insert(key, value); {
			case err == nil:
				fmt.Fprintf(out, "The key %d and value %d have been inserted.\n", key, value)
			case dberr.Is(err, dberr.ErrDuplicateKey):
				fmt.Fprintf(out, "The key %d already exists.\n", key)
			default:
				return err
			}
		case "2":
			ks, ok := prompt("Please enter the key you are searching for: ")
			if !ok {
				return sc.Err()
			}
			key, err := strconv.ParseInt(ks, 10, 64)
			if err != nil {
				fmt.Fprintln(out, "Invalid key. Please enter an integer.")
				continue
			}
			value, found, err := t.Get(key)
			switch {
			case err != nil:
				return err
			case found:
				fmt.Fprintf(out, "The value of key %d is %d.\n", key, value)
			default:
				fmt.Fprintf(out, "The key %d was not found.\n", key)
			}
		case "3":
			return nil
		default:
			fmt.Fprintln(out, "Invalid selection. Please enter 1, 2 or 3.")
		}
	}
}

// ─── DOT / stats ──────────────────────────────────────────────────────────────

func runDOT(t *bptree.Tree, path string) error {
	if path == "" {
		return t.ExportDOT(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return dberr.IO(err, "create %s", path)
	}
	if err := t.ExportDOT(f); err != nil {
		f.Close()
		return err
	}
	return dberr.IO(f.Close(), "close %s", path)
}

// runStats registers the tree's cache and shape with a fresh registry and
// prints it in the Prometheus text exposition format.
func runStats(w io.Writer, t *bptree.Tree, path string) error {
	s, err := t.Stats()
	if err != nil {
		return err
	}
	labels := prometheus.Labels{"file": path}
	gauge := func(name, help string, v float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "pagetree",
			Subsystem:   "tree",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return v })
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		pager.NewCacheCollector(t.Cache(), labels),
		gauge("pages", "Pages in the page file.", float64(s.Pages)),
		gauge("height", "Levels from the root to the leaves.", float64(s.Height)),
		gauge("order", "Maximum children per internal page.", float64(s.Order)),
	)
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "write metrics")
		}
	}
	return nil
}
