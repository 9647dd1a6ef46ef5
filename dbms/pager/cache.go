package pager

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheSize is the number of resident pages used when none is given.
const DefaultCacheSize = 100

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheLogger overrides the component logger.
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) { c.log = l }
}

// CacheStats is a point-in-time copy of the cache counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Resident  int // pages on the LRU list, never above Capacity
	Indexed   int // resident pages plus evicted pages still pinned
	Capacity  int
}

// Cache is a bounded LRU cache of shared pages with write-through.
//
// Lock order: the membership lock is only held inside membership methods,
// which neither perform I/O nor touch page content locks. Store.mu is taken
// with no cache lock held. Page content locks are taken by callers only.
type Cache struct {
	store *Store
	m     membership
	loads singleflight.Group
	log   *slog.Logger
}

// NewCache puts an LRU cache of capacity pages in front of store.
func NewCache(store *Store, capacity int, opts ...CacheOption) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	c := &Cache{
		store: store,
		m: membership{
			capacity: capacity,
			index:    make(map[uint32]*Page, capacity),
		},
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logging.WithComponent("cache")
	}
	return c
}

// Store returns the backing page store.
func (c *Cache) Store() *Store { return c.store }

// Get returns the pinned shared page for id, reading it through the store on
// a miss. The caller must Release it.
func (c *Cache) Get(id uint32) (*Page, error) {
	for {
		p, evicted := c.m.acquire(id)
		c.logEvicted(evicted)
		if p != nil {
			return p, nil
		}

		v, err, _ := c.loads.Do(strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
			gen := c.m.generation()
			rec, err := c.store.Read(id)
			if err != nil {
				return nil, err
			}
			return loaded{rec: rec, gen: gen}, nil
		})
		if err != nil {
			return nil, err
		}
		l := v.(loaded)
		p, evicted = c.m.admit(newPage(l.rec), l.gen)
		c.logEvicted(evicted)
		if p != nil {
			return p, nil
		}
		// The page was cached and dropped again while we read it, so the
		// copy we hold may predate its last write. Read it again.
		logging.WithPage(c.log, id).Debug("stale page load discarded")
	}
}

// Allocate creates a new page of the given kind on disk and returns it
// pinned. The caller must Release it.
func (c *Cache) Allocate(kind btpage.Kind) (*Page, error) {
	rec, err := c.store.Allocate(kind)
	if err != nil {
		return nil, err
	}
	p, evicted := c.m.admit(newPage(rec), noGeneration)
	c.logEvicted(evicted)
	if p == nil {
		return nil, errors.AssertionFailedf("pager: freshly allocated page %d rejected", rec.ID)
	}
	return p, nil
}

// WriteBack persists the current record of p. The caller must hold p's lock
// (read or write) so the record cannot change during encoding.
func (c *Cache) WriteBack(p *Page) error {
	return c.store.Write(p.rec)
}

// Release drops one pin on p.
func (c *Cache) Release(p *Page) {
	c.m.release(p)
}

// Len returns the number of resident pages.
func (c *Cache) Len() int {
	return c.Stats().Resident
}

// Stats returns a copy of the cache counters.
func (c *Cache) Stats() CacheStats {
	return c.m.stats()
}

func (c *Cache) logEvicted(ids []uint32) {
	if len(ids) == 0 || !c.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, id := range ids {
		logging.WithPage(c.log, id).Debug("page evicted")
	}
}

type loaded struct {
	rec *btpage.Record
	gen uint64
}

const noGeneration = ^uint64(0)

// ─── membership ───────────────────────────────────────────────────────────────

type lruEntry struct {
	page *Page
	prev *lruEntry
	next *lruEntry
}

// membership is the id -> page index plus the LRU order of resident pages.
// A page is indexed while it is resident or pinned; evicting a pinned page
// only unlinks it from the LRU list, so every holder keeps using the same
// instance and a later Get finds it again.
type membership struct {
	mu       sync.Mutex
	capacity int
	index    map[uint32]*Page
	head     *lruEntry // most recent
	tail     *lruEntry // least recent
	resident int

	// drops counts pages removed from the index. A load that observed a
	// different value may have read a stale slot.
	drops uint64

	hits, misses, evictions uint64
}

func (m *membership) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// acquire pins and promotes id if it is indexed, and returns nil on a miss.
func (m *membership) acquire(id uint32) (*Page, []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.index[id]
	if !ok {
		m.misses++
		return nil, nil
	}
	m.hits++
	p.pins++
	return p, m.touch(p)
}

// admit indexes p pinned. If another instance of the id is already indexed,
// that one is pinned and returned instead. It returns nil if gen shows that
// pages were dropped since the caller began reading p from disk.
func (m *membership) admit(p *Page, gen uint64) (*Page, []uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.index[p.id]; ok {
		cur.pins++
		return cur, m.touch(cur)
	}
	if gen != noGeneration && gen != m.drops {
		return nil, nil
	}
	m.index[p.id] = p
	p.pins = 1
	m.pushFront(p)
	return p, m.evictOverflow()
}

func (m *membership) release(p *Page) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.pins <= 0 {
		panic("pager: release of unpinned page " + strconv.FormatUint(uint64(p.id), 10))
	}
	p.pins--
	if p.pins == 0 && p.elem == nil {
		m.drop(p)
	}
}

func (m *membership) stats() CacheStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CacheStats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Resident:  m.resident,
		Indexed:   len(m.index),
		Capacity:  m.capacity,
	}
}

// touch makes p the most recent entry, re-linking it if it was evicted
// while pinned.
func (m *membership) touch(p *Page) []uint32 {
	if p.elem == nil {
		m.pushFront(p)
		return m.evictOverflow()
	}
	m.moveToFront(p.elem)
	return nil
}

func (m *membership) evictOverflow() []uint32 {
	var evicted []uint32
	for m.resident > m.capacity && m.tail != nil {
		victim := m.tail.page
		m.unlink(m.tail)
		m.evictions++
		evicted = append(evicted, victim.id)
		if victim.pins == 0 {
			m.drop(victim)
		}
	}
	return evicted
}

func (m *membership) drop(p *Page) {
	if m.index[p.id] == p {
		delete(m.index, p.id)
		m.drops++
	}
}

func (m *membership) pushFront(p *Page) {
	e := &lruEntry{page: p, next: m.head}
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
	if m.tail == nil {
		m.tail = e
	}
	p.elem = e
	m.resident++
}

func (m *membership) moveToFront(e *lruEntry) {
	if m.head == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if m.tail == e {
		m.tail = e.prev
	}
	e.prev = nil
	e.next = m.head
	if m.head != nil {
		m.head.prev = e
	}
	m.head = e
}

func (m *membership) unlink(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		m.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		m.tail = e.prev
	}
	e.prev, e.next = nil, nil
	e.page.elem = nil
	m.resident--
}
