package bptree

import (
	"math"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/cockroachdb/errors"
)

// Verify walks the whole tree and checks its structural invariants:
//
//   - keys are strictly ascending and inside the range the parent assigns
//   - every non-root page holds between ceil(order/2)-1 and order-1 keys
//   - internal pages have one more child than keys; leaves one value per key
//   - every page's parent pointer names the page that lists it
//   - all leaves sit at the same depth
//   - the leaf chain visits every leaf once, left to right, and ends
//   - every page in the file is reachable, so exactly one has no parent
//
// It takes the structure lock exclusively.
func (t *Tree) Verify() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.rootID == btpage.InvalidPage {
		if n := t.store.PageCount(); n != 0 {
			return corrupt("empty tree over %d pages", n)
		}
		return nil
	}

	v := &verifier{t: t, seen: make(map[uint32]bool), leafDepth: -1}
	if err := v.walk(t.rootID, btpage.InvalidPage, math.MinInt64, math.MaxInt64, true, 0); err != nil {
		return err
	}
	if err := v.checkChain(); err != nil {
		return err
	}
	if n := t.store.PageCount(); int(n) != len(v.seen) {
		return corrupt("%d of %d pages reachable from root %d", len(v.seen), n, t.rootID)
	}
	return nil
}

type verifier struct {
	t         *Tree
	seen      map[uint32]bool
	leaves    []uint32 // in key order
	leafDepth int
}

// walk checks the subtree at id, whose keys must lie in [lo, hi]; hiOpen
// is false when hi itself is excluded.
func (v *verifier) walk(id, parent uint32, lo, hi int64, hiOpen bool, depth int) error {
	if v.seen[id] {
		return corrupt("page %d reached twice", id)
	}
	v.seen[id] = true

	p, err := v.t.cache.Get(id)
	if err != nil {
		return err
	}
	rec := p.Snapshot()
	v.t.cache.Release(p)

	isRoot := parent == btpage.InvalidPage
	if rec.Parent != parent {
		return corrupt("page %d names parent %d, listed by %d", id, rec.Parent, parent)
	}
	n := len(rec.Keys)
	if n > v.t.maxKeys() {
		return corrupt("page %d holds %d keys, max %d", id, n, v.t.maxKeys())
	}
	if !isRoot && n < v.t.minKeys() {
		return corrupt("page %d holds %d keys, min %d", id, n, v.t.minKeys())
	}
	if n == 0 && !(isRoot && rec.IsLeaf()) {
		return corrupt("page %d is empty", id)
	}
	for i, k := range rec.Keys {
		if i > 0 && k <= rec.Keys[i-1] {
			return corrupt("page %d: key %d at %d not above %d", id, k, i, rec.Keys[i-1])
		}
		if k < lo || k > hi || (k == hi && !hiOpen) {
			return corrupt("page %d: key %d outside its parent's range [%d, %d]", id, k, lo, hi)
		}
	}

	if rec.IsLeaf() {
		if len(rec.Values) != n {
			return corrupt("leaf %d: %d keys, %d values", id, n, len(rec.Values))
		}
		if v.leafDepth < 0 {
			v.leafDepth = depth
		} else if v.leafDepth != depth {
			return corrupt("leaf %d at depth %d, expected %d", id, depth, v.leafDepth)
		}
		v.leaves = append(v.leaves, id)
		return nil
	}

	if len(rec.Children) != n+1 {
		return corrupt("internal page %d: %d keys, %d children", id, n, len(rec.Children))
	}
	for i, child := range rec.Children {
		clo, chi, chiOpen := lo, hi, hiOpen
		if i > 0 {
			clo = rec.Keys[i-1]
		}
		if i < n {
			chi, chiOpen = rec.Keys[i], false
		}
		if err := v.walk(child, id, clo, chi, chiOpen, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (v *verifier) checkChain() error {
	curr := v.leaves[0]
	last, first := int64(0), true
	for i := 0; curr != btpage.InvalidPage; i++ {
		if i >= len(v.leaves) || v.leaves[i] != curr {
			return corrupt("leaf chain reaches page %d at position %d", curr, i)
		}
		p, err := v.t.cache.Get(curr)
		if err != nil {
			return err
		}
		rec := p.Snapshot()
		v.t.cache.Release(p)
		for _, k := range rec.Keys {
			if !first && k <= last {
				return corrupt("leaf chain: key %d in page %d after %d", k, curr, last)
			}
			last, first = k, false
		}
		curr = rec.Next
		if curr == btpage.InvalidPage && i != len(v.leaves)-1 {
			return corrupt("leaf chain ends after %d of %d leaves", i+1, len(v.leaves))
		}
	}
	return nil
}

func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(dberr.ErrTreeCorrupt, "bptree: verify: "+format, args...)
}
