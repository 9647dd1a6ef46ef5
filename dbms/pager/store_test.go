package pager

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/btree-query-bench/pagetree/dbms/index/btpage"
	"github.com/kr/pretty"
)

func openTestStore(t *testing.T, opts ...StoreOption) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pages.db")
	s, err := OpenStore(path, opts...)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func fileSize(t *testing.T, path string) int64 {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info.Size()
}

func TestStoreAllocateGrowsByWholePages(t *testing.T) {
	s, path := openTestStore(t)

	for want := uint32(0); want < 5; want++ {
		kind := btpage.KindLeaf
		if want%2 == 1 {
			kind = btpage.KindInternal
		}
		rec, err := s.Allocate(kind)
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if rec.ID != want {
			t.Fatalf("allocated id %d, want %d", rec.ID, want)
		}
		if rec.Kind != kind || !rec.IsRoot() || rec.Next != btpage.InvalidPage {
			t.Fatalf("allocated record not blank: %# v", pretty.Formatter(rec))
		}
		if got := fileSize(t, path); got != int64(want+1)*btpage.DefaultPageSize {
			t.Fatalf("file is %d bytes after allocating page %d", got, want)
		}
	}
	if got := s.PageCount(); got != 5 {
		t.Fatalf("PageCount = %d, want 5", got)
	}
}

func TestStoreWriteRead(t *testing.T) {
	s, path := openTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Allocate(btpage.KindLeaf); err != nil {
			t.Fatal(err)
		}
	}

	rec := &btpage.Record{
		ID: 1, Kind: btpage.KindLeaf,
		Keys: []int64{3, 7, 9}, Values: []uint64{30, 70, 90},
		Next: 2, Parent: 0,
	}
	if err := s.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := fileSize(t, path); got != 3*btpage.DefaultPageSize {
		t.Fatalf("overwrite changed file size to %d", got)
	}
	got, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !reflect.DeepEqual(got, rec) {
		t.Fatalf("read back mismatch:\n%s", pretty.Diff(rec, got))
	}

	// Neighbours are untouched.
	for _, id := range []uint32{0, 2} {
		r, err := s.Read(id)
		if err != nil {
			t.Fatalf("Read(%d): %v", id, err)
		}
		if len(r.Keys) != 0 {
			t.Fatalf("page %d has keys %v", id, r.Keys)
		}
	}
}

func TestStoreReadPastEndIsCorrupt(t *testing.T) {
	s, _ := openTestStore(t)
	if _, err := s.Allocate(btpage.KindLeaf); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(4); !dberr.Is(err, dberr.ErrCorruptPage) {
		t.Fatalf("Read past end = %v, want ErrCorruptPage", err)
	}
}

func TestStoreRecordTooLarge(t *testing.T) {
	s, _ := openTestStore(t, WithPageSize(128))
	rec, err := s.Allocate(btpage.KindLeaf)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		rec.Keys = append(rec.Keys, int64(i))
		rec.Values = append(rec.Values, uint64(i))
	}
	if err := s.Write(rec); !dberr.Is(err, dberr.ErrRecordTooLarge) {
		t.Fatalf("Write = %v, want ErrRecordTooLarge", err)
	}
}

func TestStoreWriteUnallocated(t *testing.T) {
	s, _ := openTestStore(t)
	if err := s.Write(btpage.NewRecord(3, btpage.KindLeaf)); !dberr.Is(err, dberr.ErrInvalidArgument) {
		t.Fatalf("Write to an unallocated page = %v, want ErrInvalidArgument", err)
	}
}

func TestOpenStoreRejectsBadPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	for _, size := range []int{0, btpage.HeaderSize, 4000} {
		if _, err := OpenStore(path, WithPageSize(size)); !dberr.Is(err, dberr.ErrInvalidArgument) {
			t.Errorf("OpenStore(page size %d) = %v, want ErrInvalidArgument", size, err)
		}
	}
}

func TestStoreDetectsMisplacedRecord(t *testing.T) {
	s, path := openTestStore(t)
	for i := 0; i < 2; i++ {
		if _, err := s.Allocate(btpage.KindLeaf); err != nil {
			t.Fatal(err)
		}
	}
	s.Close()

	// Put page 1's encoding into slot 0.
	enc, err := btpage.Encode(btpage.NewRecord(1, btpage.KindLeaf))
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt(enc, 0); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s2, err := OpenStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	if _, err := s2.Read(0); !dberr.Is(err, dberr.ErrCorruptPage) {
		t.Fatalf("Read = %v, want ErrCorruptPage", err)
	}
}

func TestOpenStoreRejectsPartialPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.db")
	if err := os.WriteFile(path, make([]byte, btpage.DefaultPageSize+10), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenStore(path); !dberr.Is(err, dberr.ErrCorruptPage) {
		t.Fatalf("OpenStore = %v, want ErrCorruptPage", err)
	}
}

func TestStoreClosed(t *testing.T) {
	s, _ := openTestStore(t, WithSyncWrites(true))
	if _, err := s.Allocate(btpage.KindLeaf); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Read(0); !dberr.Is(err, dberr.ErrClosed) {
		t.Fatalf("Read after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Allocate(btpage.KindLeaf); !dberr.Is(err, dberr.ErrClosed) {
		t.Fatalf("Allocate after Close = %v, want ErrClosed", err)
	}
}
