// Package lsm wraps Pebble (CockroachDB's LSM storage engine) behind the
// common Index interface so it can be benchmarked alongside the paged
// B+ tree.
package lsm

import (
	"encoding/binary"
	"log/slog"
	"math"
	"sync"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

var _ index.Index = (*LSM)(nil)

type LSM struct {
	wmu  sync.Mutex // serializes the existence check with the write
	db   *pebble.DB
	sync bool
	log  *slog.Logger
}

// Option configures an LSM at Open.
type Option func(*LSM)

// WithSyncWrites makes every insert wait for the WAL to reach disk.
func WithSyncWrites(on bool) Option {
	return func(l *LSM) { l.sync = on }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *LSM) { l.log = log }
}

// Open opens (or creates) a Pebble database at the given directory path.
func Open(dir string, opts ...Option) (*LSM, error) {
	l := &LSM{}
	for _, o := range opts {
		o(l)
	}
	if l.log == nil {
		l.log = logging.WithComponent("lsm")
	}

	popts := &pebble.Options{
		MemTableSize: 16 << 20,
		// Keep several memtables so one can be flushed while another is active.
		MemTableStopWritesThreshold: 4,
		// L0 compaction trigger.
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
	}
	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, dberr.IO(err, "lsm: open %s", dir)
	}
	l.db = db
	l.log.Info("lsm opened", "dir", dir, "sync", l.sync)
	return l, nil
}

// Close cleanly shuts down Pebble, flushing any in-memory state.
func (l *LSM) Close() error {
	return dberr.IO(l.db.Close(), "lsm: close")
}

// Insert stores value under key, failing with dberr.ErrDuplicateKey if the
// key is present.
func (l *LSM) Insert(key int64, value uint64) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, found, err := l.Get(key); err != nil {
		return err
	} else if found {
		return errors.Wrapf(dberr.ErrDuplicateKey, "lsm: insert %d", key)
	}
	wo := pebble.NoSync
	if l.sync {
		wo = pebble.Sync
	}
	return dberr.IO(l.db.Set(encodeKey(key), encodeValue(value), wo), "lsm: insert %d", key)
}

// Get retrieves the value for key.
func (l *LSM) Get(key int64) (uint64, bool, error) {
	val, closer, err := l.db.Get(encodeKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, dberr.IO(err, "lsm: get %d", key)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, false, errors.Newf("lsm: key %d: value of %d bytes", key, len(val))
	}
	return binary.BigEndian.Uint64(val), true, nil
}

// Range returns an iterator over all keys in [start, end] inclusive.
func (l *LSM) Range(start, end int64) (index.Iterator, error) {
	if start > end {
		return &rangeIterator{}, nil
	}
	iterOpts := &pebble.IterOptions{LowerBound: encodeKey(start)}
	// Pebble's UpperBound is exclusive; there is no bound above MaxInt64.
	if end != math.MaxInt64 {
		iterOpts.UpperBound = encodeKey(end + 1)
	}
	iter, err := l.db.NewIter(iterOpts)
	if err != nil {
		return nil, dberr.IO(err, "lsm: range")
	}
	iter.First()
	return &rangeIterator{iter: iter, first: true}, nil
}

// ─── Key encoding ─────────────────────────────────────────────────────────────

// encodeKey encodes an int64 as 8 big-endian bytes with the sign bit
// flipped, so byte order matches numeric order for negative keys too.
func encodeKey(k int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(k)^(1<<63))
	return b
}

func decodeKey(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b) ^ (1 << 63))
}

func encodeValue(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// ─── Range Iterator ───────────────────────────────────────────────────────────

type rangeIterator struct {
	iter  *pebble.Iterator // nil for an empty range
	first bool
	key   int64
	val   uint64
	err   error
}

func (it *rangeIterator) Next() bool {
	if it.iter == nil || it.err != nil {
		return false
	}
	var valid bool
	if it.first {
		// iter.First() was already called in Range(); just check validity.
		it.first = false
		valid = it.iter.Valid()
	} else {
		valid = it.iter.Next()
	}
	if !valid {
		return false
	}
	k, v := it.iter.Key(), it.iter.Value()
	if len(k) != 8 || len(v) != 8 {
		it.err = errors.Newf("lsm: unexpected entry of %d/%d bytes", len(k), len(v))
		return false
	}
	it.key = decodeKey(k)
	it.val = binary.BigEndian.Uint64(v)
	return true
}

func (it *rangeIterator) Key() int64    { return it.key }
func (it *rangeIterator) Value() uint64 { return it.val }

func (it *rangeIterator) Error() error {
	if it.err == nil && it.iter != nil {
		return it.iter.Error()
	}
	return it.err
}

func (it *rangeIterator) Close() error {
	if it.iter == nil {
		return nil
	}
	err := it.iter.Close()
	it.iter = nil
	return err
}
