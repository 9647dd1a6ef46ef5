// Package listindex is an in-memory sorted slice behind the Index interface.
// It serves as the reference implementation the paged tree is checked and
// benchmarked against.
package listindex

import (
	"cmp"
	"slices"
	"sync"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/cockroachdb/errors"
)

var _ index.Index = (*ListIndex)(nil)

type Data struct {
	Key int64
	Val uint64
}

type ListIndex struct {
	mu     sync.RWMutex
	data   []Data // sorted by Key
	closed bool
}

func NewListIndex() *ListIndex {
	return &ListIndex{data: make([]Data, 0)}
}

func (l *ListIndex) find(key int64) (int, bool) {
	return slices.BinarySearchFunc(l.data, key, func(d Data, k int64) int { return cmp.Compare(d.Key, k) })
}

func (l *ListIndex) Insert(key int64, value uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.Wrap(dberr.ErrClosed, "listindex")
	}
	i, found := l.find(key)
	if found {
		return errors.Wrapf(dberr.ErrDuplicateKey, "listindex: insert %d", key)
	}
	l.data = slices.Insert(l.data, i, Data{Key: key, Val: value})
	return nil
}

func (l *ListIndex) Get(key int64) (uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return 0, false, errors.Wrap(dberr.ErrClosed, "listindex")
	}
	if i, found := l.find(key); found {
		return l.data[i].Val, true, nil
	}
	return 0, false, nil
}

// Range copies the pairs in [start, end] so the iterator is unaffected by
// later inserts.
func (l *ListIndex) Range(start, end int64) (index.Iterator, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, errors.Wrap(dberr.ErrClosed, "listindex")
	}
	var data []Data
	if start <= end {
		lo, _ := l.find(start)
		hi, found := l.find(end)
		if found {
			hi++
		}
		data = slices.Clone(l.data[lo:hi])
	}
	return &ListIterator{data: data, cur: -1}, nil
}

// Len returns the number of stored pairs.
func (l *ListIndex) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.data)
}

func (l *ListIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.data = nil
	return nil
}

type ListIterator struct {
	data []Data
	cur  int
}

func (it *ListIterator) Next() bool {
	if it.cur+1 >= len(it.data) {
		it.cur = len(it.data)
		return false
	}
	it.cur++
	return true
}

func (it *ListIterator) Key() int64    { return it.data[it.cur].Key }
func (it *ListIterator) Value() uint64 { return it.data[it.cur].Val }
func (it *ListIterator) Error() error  { return nil }
func (it *ListIterator) Close() error  { return nil }
