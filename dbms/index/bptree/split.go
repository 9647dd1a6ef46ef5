package bptree

import (
	"slices"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/pager"
	"github.com/cockroachdb/errors"
)

// split divides the overflowing page cur and pushes the separator into the
// parent, repeating upward while parents overflow. cur arrives pinned and
// write-locked; split unlocks and releases it. The caller holds t.mu
// exclusively.
//
// Locks are taken child first: the split page and its new sibling are
// written and unlocked before the parent is fetched and locked, and children
// moved to a new internal page are re-parented after that page is unlocked.
func (t *Tree) split(cur *pager.Page) error {
	for {
		var (
			sep   int64
			right *pager.Page
			moved []uint32
			err   error
		)
		rec := cur.Record()
		if rec.IsLeaf() {
			sep, right, err = t.splitLeaf(cur)
		} else {
			sep, right, moved, err = t.splitInternal(cur)
		}
		leftID, parentID := cur.ID(), rec.Parent
		cur.Unlock()
		t.cache.Release(cur)
		if err != nil {
			return err
		}
		rightID := right.ID()
		right.Unlock()
		t.cache.Release(right)

		if err := t.reparent(moved, rightID); err != nil {
			return err
		}
		if parentID == btpage.InvalidPage {
			return t.growRoot(leftID, sep, rightID)
		}

		parent, err := t.cache.Get(parentID)
		if err != nil {
			return err
		}
		parent.Lock()
		prec := parent.Record()
		pos := findChildIdx(prec.Keys, sep)
		if pos >= len(prec.Children) || prec.Children[pos] != leftID {
			parent.Unlock()
			t.cache.Release(parent)
			return errors.Wrapf(dberr.ErrTreeCorrupt,
				"bptree: page %d does not list child %d at slot %d for separator %d", parentID, leftID, pos, sep)
		}
		prec.Keys = slices.Insert(prec.Keys, pos, sep)
		prec.Children = slices.Insert(prec.Children, pos+1, rightID)
		if len(prec.Keys) <= t.maxKeys() {
			err := t.cache.WriteBack(parent)
			parent.Unlock()
			t.cache.Release(parent)
			return err
		}
		cur = parent
	}
}

// splitLeaf moves the upper half of the write-locked leaf into a new leaf
// linked right after it. The separator is the new leaf's first key, which
// stays in the leaf. The new leaf is returned pinned and locked.
func (t *Tree) splitLeaf(leaf *pager.Page) (int64, *pager.Page, error) {
	right, err := t.cache.Allocate(btpage.KindLeaf)
	if err != nil {
		return 0, nil, err
	}
	right.Lock()

	rec, rrec := leaf.Record(), right.Record()
	mid := len(rec.Keys) / 2
	rrec.Keys = slices.Clone(rec.Keys[mid:])
	rrec.Values = slices.Clone(rec.Values[mid:])
	rrec.Next = rec.Next
	rrec.Parent = rec.Parent
	rec.Keys = slices.Clip(rec.Keys[:mid])
	rec.Values = slices.Clip(rec.Values[:mid])
	rec.Next = right.ID()

	// The new leaf goes first so the chain never points at a blank page.
	if err := t.writeBoth(right, leaf); err != nil {
		right.Unlock()
		t.cache.Release(right)
		return 0, nil, err
	}
	t.leafSplits.Add(1)
	t.log.Debug("leaf split", "page_id", leaf.ID(), "new_page", right.ID(), "separator", rrec.Keys[0])
	return rrec.Keys[0], right, nil
}

// splitInternal moves the keys and children above the middle key of the
// write-locked internal page into a new internal page. The middle key leaves
// both pages and becomes the separator. It also returns the children that
// now belong to the new page, whose parent pointers the caller must rewrite.
func (t *Tree) splitInternal(node *pager.Page) (int64, *pager.Page, []uint32, error) {
	right, err := t.cache.Allocate(btpage.KindInternal)
	if err != nil {
		return 0, nil, nil, err
	}
	right.Lock()

	rec, rrec := node.Record(), right.Record()
	mid := len(rec.Keys) / 2
	sep := rec.Keys[mid]
	rrec.Keys = slices.Clone(rec.Keys[mid+1:])
	rrec.Children = slices.Clone(rec.Children[mid+1:])
	rrec.Parent = rec.Parent
	rec.Keys = slices.Clip(rec.Keys[:mid])
	rec.Children = slices.Clip(rec.Children[:mid+1])

	if err := t.writeBoth(right, node); err != nil {
		right.Unlock()
		t.cache.Release(right)
		return 0, nil, nil, err
	}
	t.internalSplits.Add(1)
	t.log.Debug("internal split", "page_id", node.ID(), "new_page", right.ID(), "separator", sep)
	return sep, right, slices.Clone(rrec.Children), nil
}

// growRoot puts a new internal root above the two halves of the old root.
func (t *Tree) growRoot(leftID uint32, sep int64, rightID uint32) error {
	root, err := t.cache.Allocate(btpage.KindInternal)
	if err != nil {
		return err
	}
	root.Lock()
	rec := root.Record()
	rec.Keys = []int64{sep}
	rec.Children = []uint32{leftID, rightID}
	err = t.cache.WriteBack(root)
	rootID := root.ID()
	root.Unlock()
	t.cache.Release(root)
	if err != nil {
		return err
	}

	if err := t.reparent([]uint32{leftID, rightID}, rootID); err != nil {
		return err
	}
	t.rootID = rootID
	t.rootSplits.Add(1)
	t.log.Debug("new root", "page_id", rootID, "left", leftID, "right", rightID, "separator", sep)
	return nil
}

// reparent points each child at parentID, one page at a time.
func (t *Tree) reparent(children []uint32, parentID uint32) error {
	for _, id := range children {
		p, err := t.cache.Get(id)
		if err != nil {
			return err
		}
		p.Lock()
		rec := p.Record()
		if rec.Parent == parentID {
			p.Unlock()
			t.cache.Release(p)
			continue
		}
		rec.Parent = parentID
		err = t.cache.WriteBack(p)
		p.Unlock()
		t.cache.Release(p)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) writeBoth(first, second *pager.Page) error {
	if err := t.cache.WriteBack(first); err != nil {
		return err
	}
	return t.cache.WriteBack(second)
}
