// Package bptree implements a concurrent, disk-backed B+ tree over a
// write-through page cache.
//
// Internal pages hold separator keys and child page IDs; child i holds keys
// k with Keys[i-1] <= k < Keys[i], so a key equal to a separator descends
// to the right. Leaves hold key/value pairs and are chained through Next in
// ascending key order for range scans. Every page records its parent; the
// root is the only page without one.
//
// Concurrency: a tree-wide structure lock protects the root ID and the shape
// of internal pages. Lookups, scans and inserts that fit in their leaf hold it
// shared and lock only the pages they touch, one at a time. An insert that
// has to split retries with the structure lock held exclusively and walks the
// split upward child first, releasing each page before locking its parent.
package bptree

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/btree-query-bench/pagetree/dbms/pager"
	"github.com/cockroachdb/errors"
)

var _ index.Index = (*Tree)(nil)

type Tree struct {
	mu     sync.RWMutex // structure lock
	rootID uint32       // btpage.InvalidPage while empty
	closed bool
	failed error // set when a split stopped half way

	order int
	store *pager.Store
	cache *pager.Cache
	log   *slog.Logger

	leafSplits     atomic.Uint64
	internalSplits atomic.Uint64
	rootSplits     atomic.Uint64
}

// Open opens (or creates) the tree stored in the file at path.
func Open(path string, opts ...Option) (*Tree, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.order < 3 {
		return nil, errors.Wrapf(dberr.ErrInvalidArgument, "bptree: order %d is below 3", cfg.order)
	}
	if maxOrder := btpage.MaxOrder(cfg.pageSize); cfg.order > maxOrder {
		return nil, errors.Wrapf(dberr.ErrRecordTooLarge,
			"bptree: order %d does not fit a %d byte page (max %d)", cfg.order, cfg.pageSize, maxOrder)
	}
	if cfg.logger == nil {
		cfg.logger = logging.GetLogger()
	}

	store, err := pager.OpenStore(path,
		pager.WithPageSize(cfg.pageSize),
		pager.WithSyncWrites(cfg.syncWrites),
		pager.WithStoreLogger(cfg.logger.With("component", "pager")),
	)
	if err != nil {
		return nil, err
	}
	t := &Tree{
		order: cfg.order,
		store: store,
		cache: pager.NewCache(store, cfg.cacheSize, pager.WithCacheLogger(cfg.logger.With("component", "cache"))),
		log:   cfg.logger.With("component", "bptree"),
	}
	if t.rootID, err = t.findRoot(); err != nil {
		store.Close()
		return nil, err
	}
	t.log.Info("tree opened", "path", path, "order", t.order, "root", t.rootID, "pages", store.PageCount())
	return t, nil
}

// findRoot scans the file for the single page without a parent.
func (t *Tree) findRoot() (uint32, error) {
	root := btpage.InvalidPage
	n := t.store.PageCount()
	for id := uint32(0); id < n; id++ {
		rec, err := t.store.Read(id)
		if err != nil {
			return 0, err
		}
		if !rec.IsRoot() {
			continue
		}
		if root != btpage.InvalidPage {
			return 0, errors.Wrapf(dberr.ErrTreeCorrupt, "bptree: pages %d and %d both lack a parent", root, id)
		}
		root = id
	}
	if n > 0 && root == btpage.InvalidPage {
		return 0, errors.Wrapf(dberr.ErrTreeCorrupt, "bptree: none of %d pages is a root", n)
	}
	return root, nil
}

// Order returns the fan-out the tree was opened with.
func (t *Tree) Order() int { return t.order }

// Cache exposes the page cache, e.g. for metrics.
func (t *Tree) Cache() *pager.Cache { return t.cache }

// usable reports why the tree cannot serve requests. Callers hold t.mu.
func (t *Tree) usable() error {
	if t.closed {
		return errors.Wrap(dberr.ErrClosed, "bptree")
	}
	if t.failed != nil {
		return errors.Mark(errors.Wrap(t.failed, "bptree: unusable after failed split"), dberr.ErrTreeCorrupt)
	}
	return nil
}

// ─── Get ──────────────────────────────────────────────────────────────────────

// Get returns the value stored under key.
func (t *Tree) Get(key int64) (uint64, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return 0, false, err
	}
	if t.rootID == btpage.InvalidPage {
		return 0, false, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return 0, false, err
	}
	defer t.cache.Release(leaf)
	leaf.RLock()
	defer leaf.RUnlock()

	rec := leaf.Record()
	if i := findLeafIdx(rec.Keys, key); i < len(rec.Keys) && rec.Keys[i] == key {
		return rec.Values[i], true, nil
	}
	return 0, false, nil
}

// ─── Insert ───────────────────────────────────────────────────────────────────

// Insert stores value under key. It fails with dberr.ErrDuplicateKey if the
// key is already present.
func (t *Tree) Insert(key int64, value uint64) error {
	done, err := t.insertShared(key, value)
	if err != nil || done {
		return err
	}
	return t.insertExclusive(key, value)
}

// insertShared is the common case: the target leaf has room, so only the
// leaf is locked for writing. It reports false when a split or a new root is
// needed.
func (t *Tree) insertShared(key int64, value uint64) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return false, err
	}
	if t.rootID == btpage.InvalidPage {
		return false, nil
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return false, err
	}
	defer t.cache.Release(leaf)
	leaf.Lock()
	defer leaf.Unlock()

	rec := leaf.Record()
	i := findLeafIdx(rec.Keys, key)
	if i < len(rec.Keys) && rec.Keys[i] == key {
		return false, duplicate(key)
	}
	if len(rec.Keys)+1 > t.maxKeys() {
		return false, nil
	}
	return true, t.insertIntoLeaf(leaf, i, key, value)
}

// insertExclusive holds the structure lock exclusively, so it may create the
// root and split pages.
func (t *Tree) insertExclusive(key int64, value uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return err
	}
	if t.rootID == btpage.InvalidPage {
		return t.plantRoot(key, value)
	}

	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	leaf.Lock()
	rec := leaf.Record()
	i := findLeafIdx(rec.Keys, key)
	if i < len(rec.Keys) && rec.Keys[i] == key {
		leaf.Unlock()
		t.cache.Release(leaf)
		return duplicate(key)
	}
	if len(rec.Keys)+1 <= t.maxKeys() {
		// Another writer split this leaf while we waited.
		err := t.insertIntoLeaf(leaf, i, key, value)
		leaf.Unlock()
		t.cache.Release(leaf)
		return err
	}

	rec.Keys = slices.Insert(rec.Keys, i, key)
	rec.Values = slices.Insert(rec.Values, i, value)
	if err := t.split(leaf); err != nil {
		t.failed = err
		t.log.Error("split failed, tree is read-only", "key", key, "error", err)
		return err
	}
	return nil
}

// insertIntoLeaf adds the pair at position i of the write-locked leaf and
// writes the leaf through, undoing the change if the write fails.
func (t *Tree) insertIntoLeaf(leaf *pager.Page, i int, key int64, value uint64) error {
	rec := leaf.Record()
	rec.Keys = slices.Insert(rec.Keys, i, key)
	rec.Values = slices.Insert(rec.Values, i, value)
	if err := t.cache.WriteBack(leaf); err != nil {
		rec.Keys = slices.Delete(rec.Keys, i, i+1)
		rec.Values = slices.Delete(rec.Values, i, i+1)
		return errors.Wrapf(err, "bptree: insert %d", key)
	}
	return nil
}

// plantRoot makes a single-entry leaf the root of an empty tree. The blank
// leaf is already on disk once allocated, so it becomes the root even if
// writing the entry fails; the tree is then an empty leaf root.
func (t *Tree) plantRoot(key int64, value uint64) error {
	leaf, err := t.cache.Allocate(btpage.KindLeaf)
	if err != nil {
		return err
	}
	defer t.cache.Release(leaf)
	leaf.Lock()
	defer leaf.Unlock()
	t.rootID = leaf.ID()
	t.log.Debug("root planted", "page_id", t.rootID)
	return t.insertIntoLeaf(leaf, 0, key, value)
}

func duplicate(key int64) error {
	return errors.Wrapf(dberr.ErrDuplicateKey, "bptree: insert %d", key)
}

// ─── Find leaf ────────────────────────────────────────────────────────────────

// findLeaf descends from the root to the leaf responsible for key and
// returns it pinned but unlocked. Only one page is locked at a time. The
// caller holds t.mu and must Release the result.
func (t *Tree) findLeaf(key int64) (*pager.Page, error) {
	curr, parent := t.rootID, btpage.InvalidPage
	limit := t.store.PageCount()
	for depth := uint32(0); ; depth++ {
		p, err := t.cache.Get(curr)
		if err != nil {
			return nil, err
		}
		p.RLock()
		rec := p.Record()
		if err := checkDescent(rec, parent, depth, limit); err != nil {
			p.RUnlock()
			t.cache.Release(p)
			return nil, err
		}
		if rec.IsLeaf() {
			p.RUnlock()
			return p, nil
		}
		idx := findChildIdx(rec.Keys, key)
		n := len(rec.Children)
		next := btpage.InvalidPage
		if idx < n {
			next = rec.Children[idx]
		}
		p.RUnlock()
		t.cache.Release(p)
		if next == btpage.InvalidPage {
			return nil, errors.Wrapf(dberr.ErrInvalidChildIndex,
				"bptree: page %d: child %d of %d for key %d", curr, idx, n, key)
		}
		curr, parent = next, curr
	}
}

// checkDescent rejects a page reached from parent that does not name parent
// as its own, or a descent deeper than the file has pages. Parent pointers
// only change under the exclusive structure lock, so any holder of t.mu
// sees them consistent.
func checkDescent(rec *btpage.Record, parent, depth, limit uint32) error {
	if rec.Parent != parent {
		return errors.Wrapf(dberr.ErrInvalidChildIndex,
			"bptree: page %d reached from %d names parent %d", rec.ID, parent, rec.Parent)
	}
	if depth >= limit {
		return errors.Wrapf(dberr.ErrInvalidChildIndex,
			"bptree: descent to page %d exceeds %d levels", rec.ID, limit)
	}
	return nil
}

// findChildIdx returns the child slot for key: the number of separators
// less than or equal to key.
func findChildIdx(keys []int64, key int64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		m := (lo + hi) / 2
		if keys[m] <= key {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// findLeafIdx returns the position of the first key >= key.
func findLeafIdx(keys []int64, key int64) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		m := (lo + hi) / 2
		if keys[m] < key {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

func (t *Tree) maxKeys() int { return t.order - 1 }

// minKeys is the fewest keys a non-root page may hold: ceil(order/2)-1.
func (t *Tree) minKeys() int { return (t.order+1)/2 - 1 }

// ─── Stats / Close ────────────────────────────────────────────────────────────

// Stats describes the tree's size and the work it has done.
type Stats struct {
	Order          int
	Pages          uint32
	Height         int
	LeafSplits     uint64
	InternalSplits uint64
	RootSplits     uint64
	Cache          pager.CacheStats
}

// Stats returns the current counters. Height is 0 for an empty tree.
func (t *Tree) Stats() (Stats, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.usable(); err != nil {
		return Stats{}, err
	}

	s := Stats{
		Order:          t.order,
		Pages:          t.store.PageCount(),
		LeafSplits:     t.leafSplits.Load(),
		InternalSplits: t.internalSplits.Load(),
		RootSplits:     t.rootSplits.Load(),
	}
	curr, parent := t.rootID, btpage.InvalidPage
	for curr != btpage.InvalidPage {
		p, err := t.cache.Get(curr)
		if err != nil {
			return Stats{}, err
		}
		p.RLock()
		rec := p.Record()
		err = checkDescent(rec, parent, uint32(s.Height), s.Pages)
		s.Height++
		parent, curr = curr, btpage.InvalidPage
		if !rec.IsLeaf() && len(rec.Children) > 0 {
			curr = rec.Children[0]
		}
		p.RUnlock()
		t.cache.Release(p)
		if err != nil {
			return Stats{}, err
		}
	}
	s.Cache = t.cache.Stats()
	return s, nil
}

// Close closes the page file. Every mutation is already on disk.
func (t *Tree) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.log.Info("tree closed", "root", t.rootID, "pages", t.store.PageCount())
	return t.store.Close()
}
