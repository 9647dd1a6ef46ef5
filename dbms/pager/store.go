// Package pager moves page records between a file of fixed-size slots and a
// bounded in-memory cache.
//
// Store owns the file: page id N lives at offset N*pageSize and the file is
// always a whole number of pages long. Cache sits in front of it and hands
// out one shared *Page per id.
package pager

import (
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/btree-query-bench/pagetree/dbms/logging"
	"github.com/cockroachdb/errors"
)

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	pageSize   int
	syncWrites bool
	logger     *slog.Logger
}

// WithPageSize sets the slot size. It must be a multiple of 64 and large
// enough for a record header.
func WithPageSize(n int) StoreOption {
	return func(c *storeConfig) { c.pageSize = n }
}

// WithSyncWrites makes every Write and Allocate fsync the file.
func WithSyncWrites(on bool) StoreOption {
	return func(c *storeConfig) { c.syncWrites = on }
}

// WithStoreLogger overrides the component logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(c *storeConfig) { c.logger = l }
}

// Store reads and writes page records at page-aligned offsets.
//
// mu serializes every file access and allocation. Nothing else is acquired
// while it is held.
type Store struct {
	mu        sync.Mutex
	file      *os.File
	pageSize  int
	pageCount uint32
	sync      bool
	log       *slog.Logger
}

// OpenStore opens (or creates) the page file at path.
func OpenStore(path string, opts ...StoreOption) (*Store, error) {
	cfg := storeConfig{pageSize: btpage.DefaultPageSize}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.pageSize < btpage.HeaderSize+64 || cfg.pageSize%64 != 0 {
		return nil, errors.Wrapf(dberr.ErrInvalidArgument, "pager: page size %d", cfg.pageSize)
	}
	if cfg.logger == nil {
		cfg.logger = logging.WithComponent("pager")
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, dberr.IO(err, "pager: open %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dberr.IO(err, "pager: stat %s", path)
	}
	if info.Size()%int64(cfg.pageSize) != 0 {
		f.Close()
		return nil, errors.Wrapf(dberr.ErrCorruptPage,
			"pager: %s is %d bytes, not a multiple of the %d byte page size", path, info.Size(), cfg.pageSize)
	}

	s := &Store{
		file:      f,
		pageSize:  cfg.pageSize,
		pageCount: uint32(info.Size() / int64(cfg.pageSize)),
		sync:      cfg.syncWrites,
		log:       cfg.logger,
	}
	s.log.Info("page file opened", "path", path, "pages", s.pageCount, "page_size", s.pageSize)
	return s, nil
}

// PageSize returns the slot size in bytes.
func (s *Store) PageSize() int { return s.pageSize }

// PageCount returns the number of pages in the file.
func (s *Store) PageCount() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageCount
}

// Read loads and decodes page id.
func (s *Store) Read(id uint32) (*btpage.Record, error) {
	buf := make([]byte, s.pageSize)

	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return nil, errors.Wrap(dberr.ErrClosed, "pager: read")
	}
	n, err := s.file.ReadAt(buf, s.offset(id))
	s.mu.Unlock()

	if err != nil && !errors.Is(err, io.EOF) {
		return nil, dberr.IO(err, "pager: read page %d", id)
	}
	if n < s.pageSize {
		return nil, dberr.Corrupt(id, "read %d of %d bytes", n, s.pageSize)
	}
	rec, err := btpage.Decode(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "pager: read page %d", id)
	}
	if rec.ID != id {
		return nil, dberr.Corrupt(id, "slot holds page %d", rec.ID)
	}
	return rec, nil
}

// Write encodes rec and overwrites its slot.
func (s *Store) Write(rec *btpage.Record) error {
	buf, err := s.encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.Wrap(dberr.ErrClosed, "pager: write")
	}
	if rec.ID >= s.pageCount {
		// Only Allocate may grow the file.
		return errors.Wrapf(dberr.ErrInvalidArgument, "pager: write page %d: only %d pages allocated", rec.ID, s.pageCount)
	}
	return s.writeLocked(rec.ID, buf)
}

// Allocate appends a blank record of the given kind and returns it.
func (s *Store) Allocate(kind btpage.Kind) (*btpage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, errors.Wrap(dberr.ErrClosed, "pager: allocate")
	}
	if s.pageCount == btpage.InvalidPage {
		return nil, errors.Wrap(dberr.ErrIO, "pager: page id space exhausted")
	}

	rec := btpage.NewRecord(s.pageCount, kind)
	buf, err := s.encode(rec)
	if err != nil {
		return nil, err
	}
	if err := s.writeLocked(rec.ID, buf); err != nil {
		return nil, err
	}
	s.pageCount++
	logging.WithPage(s.log, rec.ID).Debug("page allocated", "kind", kind)
	return rec, nil
}

// Sync flushes the file to stable storage.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.Wrap(dberr.ErrClosed, "pager: sync")
	}
	return dberr.IO(s.file.Sync(), "pager: sync")
}

// Close closes the underlying file. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return dberr.IO(err, "pager: close")
}

// --- internal helpers ---

func (s *Store) offset(id uint32) int64 {
	return int64(id) * int64(s.pageSize)
}

// encode returns rec as a full, zero padded slot.
func (s *Store) encode(rec *btpage.Record) ([]byte, error) {
	if size := rec.EncodedSize(); size > s.pageSize {
		return nil, errors.Wrapf(dberr.ErrRecordTooLarge,
			"pager: page %d encodes to %d bytes, page size is %d", rec.ID, size, s.pageSize)
	}
	enc, err := btpage.Encode(rec)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, s.pageSize)
	copy(buf, enc)
	return buf, nil
}

func (s *Store) writeLocked(id uint32, buf []byte) error {
	if _, err := s.file.WriteAt(buf, s.offset(id)); err != nil {
		return dberr.IO(err, "pager: write page %d", id)
	}
	if s.sync {
		return dberr.IO(s.file.Sync(), "pager: sync page %d", id)
	}
	return nil
}
