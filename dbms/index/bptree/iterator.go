package bptree

import (
	"math"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/cockroachdb/errors"
)

// ─── Range Iterator ───────────────────────────────────────────────────────────

type entry struct {
	key   int64
	value uint64
}

// RangeIterator yields the pairs with start <= key <= end in ascending order.
//
// It copies one leaf's worth of pairs at a time under the shared structure
// lock and holds nothing between batches, so callers may insert while
// iterating. Each batch resumes by descending to the key after the last one
// returned, which keeps the scan correct across splits.
type RangeIterator struct {
	tree *Tree
	from int64 // next key to look for
	end  int64
	done bool

	batch []entry
	pos   int
	k     int64
	v     uint64
	err   error
}

var _ index.Iterator = (*RangeIterator)(nil)

// Range returns an iterator over keys in [start, end].
func (t *Tree) Range(start, end int64) (index.Iterator, error) {
	t.mu.RLock()
	err := t.usable()
	t.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return &RangeIterator{tree: t, from: start, end: end, done: start > end}, nil
}

func (it *RangeIterator) Next() bool {
	for {
		if it.pos < len(it.batch) {
			e := it.batch[it.pos]
			it.pos++
			it.k, it.v = e.key, e.value
			return true
		}
		if it.done || it.err != nil {
			return false
		}
		it.fill()
	}
}

func (it *RangeIterator) fill() {
	batch, more, err := it.tree.scan(it.from, it.end, it.batch[:0])
	it.batch, it.pos = batch, 0
	if err != nil {
		it.err = err
		return
	}
	if !more || len(batch) == 0 {
		it.done = true
		return
	}
	last := batch[len(batch)-1].key
	if last == math.MaxInt64 {
		it.done = true
		return
	}
	it.from = last + 1
}

func (it *RangeIterator) Key() int64    { return it.k }
func (it *RangeIterator) Value() uint64 { return it.v }
func (it *RangeIterator) Error() error  { return it.err }

func (it *RangeIterator) Close() error {
	it.done = true
	it.batch = nil
	return nil
}

// scan appends the pairs of the first leaf holding keys in [from, end] to
// out, following the leaf chain past leaves with nothing in range. more is
// false once the end of the range or of the chain was reached.
func (t *Tree) scan(from, end int64, out []entry) ([]entry, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return out, false, err
	}
	if t.rootID == btpage.InvalidPage {
		return out, false, nil
	}

	leaf, err := t.findLeaf(from)
	if err != nil {
		return out, false, err
	}
	limit := t.store.PageCount()
	for hops := uint32(0); ; hops++ {
		var (
			next   uint32
			passed bool
		)
		leaf.RLock()
		rec := leaf.Record()
		for i := findLeafIdx(rec.Keys, from); i < len(rec.Keys); i++ {
			if rec.Keys[i] > end {
				passed = true
				break
			}
			out = append(out, entry{rec.Keys[i], rec.Values[i]})
		}
		next = rec.Next
		leaf.RUnlock()
		t.cache.Release(leaf)

		switch {
		case passed, next == btpage.InvalidPage:
			return out, false, nil
		case len(out) > 0:
			return out, true, nil
		case hops >= limit:
			return out, false, errors.Wrapf(dberr.ErrTreeCorrupt,
				"bptree: leaf chain from key %d runs past %d pages", from, limit)
		}
		if leaf, err = t.cache.Get(next); err != nil {
			return out, false, err
		}
	}
}
