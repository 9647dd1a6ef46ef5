package pager

import (
	"sync"

	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
)

// Page is the shared in-memory instance of one page. The cache hands out the
// same *Page to every caller asking for the same id while it is resident or
// pinned, so mutations made under Lock are seen by everyone.
//
// The record may only be read under RLock or Lock and only be modified under
// Lock. Callers must Release every page obtained from Cache.Get or
// Cache.Allocate exactly once.
type Page struct {
	mu  sync.RWMutex
	id  uint32
	rec *btpage.Record

	// guarded by the cache's membership lock
	pins int
	elem *lruEntry // nil while detached from the LRU list
}

func newPage(rec *btpage.Record) *Page {
	return &Page{id: rec.ID, rec: rec}
}

// ID returns the page id. It never changes and needs no lock.
func (p *Page) ID() uint32 { return p.id }

func (p *Page) Lock()    { p.mu.Lock() }
func (p *Page) Unlock()  { p.mu.Unlock() }
func (p *Page) RLock()   { p.mu.RLock() }
func (p *Page) RUnlock() { p.mu.RUnlock() }

// Record returns the page content. The caller must hold the page lock.
func (p *Page) Record() *btpage.Record { return p.rec }

// Snapshot returns a deep copy of the record taken under the read lock.
func (p *Page) Snapshot() *btpage.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rec.Clone()
}
