package main

import (
	"math/rand"
	"sync/atomic"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"golang.org/x/sync/errgroup"
)

type WorkloadType string

const (
	OLTP      WorkloadType = "OLTP (90/10)"
	OLAP      WorkloadType = "OLAP (10/90)"
	Reporting WorkloadType = "Reporting (Range)"
)

// Workload drives one index. Reads pick keys among the loaded ones; writes
// draw fresh keys from next so they never collide.
type Workload struct {
	Index  index.Index
	Loaded int64
	next   atomic.Int64
}

func NewWorkload(idx index.Index, loaded int) *Workload {
	w := &Workload{Index: idx, Loaded: int64(loaded)}
	w.next.Store(int64(loaded))
	return w
}

// Load inserts keys 0..Loaded-1 in order.
func (w *Workload) Load() error {
	for k := int64(0); k < w.Loaded; k++ {
		if err := w.Index.Insert(k, uint64(k)); err != nil {
			return err
		}
	}
	return nil
}

// Execute runs ops operations of the given mix spread over workers
// goroutines. It stops at the first error.
func (w *Workload) Execute(wType WorkloadType, ops, workers int) error {
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		share := ops / workers
		if i < ops%workers {
			share++
		}
		seed := int64(i + 1)
		g.Go(func() error {
			return w.run(wType, share, rand.New(rand.NewSource(seed)))
		})
	}
	return g.Wait()
}

func (w *Workload) run(wType WorkloadType, ops int, rng *rand.Rand) error {
	for i := 0; i < ops; i++ {
		choice := rng.Intn(100)
		switch wType {
		case OLTP:
			if choice < 90 {
				if err := w.read(rng); err != nil {
					return err
				}
			} else if err := w.write(); err != nil {
				return err
			}
		case OLAP:
			if choice < 10 {
				if err := w.read(rng); err != nil {
					return err
				}
			} else if err := w.write(); err != nil {
				return err
			}
		case Reporting:
			key := rng.Int63n(max(w.Loaded, 1))
			it, err := w.Index.Range(key, key+100)
			if err != nil {
				return err
			}
			for it.Next() {
			}
			err = it.Error()
			it.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Workload) read(rng *rand.Rand) error {
	_, _, err := w.Index.Get(rng.Int63n(max(w.Loaded, 1)))
	return err
}

func (w *Workload) write() error {
	k := w.next.Add(1) - 1
	err := w.Index.Insert(k, uint64(k))
	if dberr.Is(err, dberr.ErrDuplicateKey) {
		return nil
	}
	return err
}
