package bptree

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
)

func openTestTree(t *testing.T, opts ...Option) (*Tree, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	tr, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, path
}

func mustInsert(t *testing.T, tr *Tree, key int64, value uint64) {
	t.Helper()
	if err := tr.Insert(key, value); err != nil {
		t.Fatalf("Insert(%d): %v", key, err)
	}
}

func mustVerify(t *testing.T, tr *Tree) {
	t.Helper()
	if err := tr.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func expectValue(t *testing.T, tr *Tree, key int64, want uint64) {
	t.Helper()
	v, ok, err := tr.Get(key)
	if err != nil {
		t.Fatalf("Get(%d): %v", key, err)
	}
	if !ok || v != want {
		t.Fatalf("Get(%d) = %d, %v; want %d", key, v, ok, want)
	}
}

func TestInsertAndSearch(t *testing.T) {
	tr, _ := openTestTree(t)
	for k := int64(0); k < 100; k++ {
		mustInsert(t, tr, k, uint64(k*10))
	}
	for k := int64(0); k < 100; k++ {
		expectValue(t, tr, k, uint64(k*10))
	}
	for _, k := range []int64{-1, 100, 1 << 40} {
		if _, ok, err := tr.Get(k); ok || err != nil {
			t.Fatalf("Get(%d) = %v, %v; want absent", k, ok, err)
		}
	}
	mustVerify(t, tr)

	s, err := tr.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.Height < 3 || s.LeafSplits == 0 || s.RootSplits == 0 {
		t.Fatalf("100 keys at order 4 should build a tall tree: %+v", s)
	}
}

func TestEmptyTree(t *testing.T) {
	tr, _ := openTestTree(t)
	if _, ok, err := tr.Get(1); ok || err != nil {
		t.Fatalf("Get on empty tree = %v, %v", ok, err)
	}
	mustVerify(t, tr)
	if s, _ := tr.Stats(); s.Height != 0 || s.Pages != 0 {
		t.Fatalf("empty tree stats %+v", s)
	}
}

func TestDuplicateKeyKeepsFirstValue(t *testing.T) {
	tr, _ := openTestTree(t)
	for k := int64(0); k < 20; k++ {
		mustInsert(t, tr, k, uint64(k))
	}
	for _, k := range []int64{0, 7, 19} {
		if err := tr.Insert(k, 999); !dberr.Is(err, dberr.ErrDuplicateKey) {
			t.Fatalf("Insert(%d) twice: %v", k, err)
		}
		expectValue(t, tr, k, uint64(k))
	}
	mustVerify(t, tr)
}

// A key equal to a separator has to be found in the right subtree.
func TestSeparatorKeysRouteRight(t *testing.T) {
	tr, _ := openTestTree(t, WithOrder(3))
	for k := int64(1); k <= 9; k++ {
		mustInsert(t, tr, k*10, uint64(k))
	}
	for k := int64(1); k <= 9; k++ {
		expectValue(t, tr, k*10, uint64(k))
		if err := tr.Insert(k*10, 0); !dberr.Is(err, dberr.ErrDuplicateKey) {
			t.Fatalf("Insert(%d) twice: %v", k*10, err)
		}
	}
	mustVerify(t, tr)
}

func TestVerifyAcrossOrders(t *testing.T) {
	for _, order := range []int{3, 4, 5, 16} {
		for _, shape := range []string{"ascending", "descending", "random"} {
			t.Run(fmt.Sprintf("order%d/%s", order, shape), func(t *testing.T) {
				tr, _ := openTestTree(t, WithOrder(order))
				keys := make([]int64, 500)
				for i := range keys {
					keys[i] = int64(i)
				}
				switch shape {
				case "descending":
					for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
						keys[i], keys[j] = keys[j], keys[i]
					}
				case "random":
					rng := rand.New(rand.NewSource(int64(order)))
					rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
				}
				for i, k := range keys {
					mustInsert(t, tr, k-250, uint64(k))
					if i%97 == 0 {
						mustVerify(t, tr)
					}
				}
				mustVerify(t, tr)
				for _, k := range keys {
					expectValue(t, tr, k-250, uint64(k))
				}
			})
		}
	}
}

func TestSmallCacheStaysBounded(t *testing.T) {
	const capacity = 4
	tr, _ := openTestTree(t, WithCacheSize(capacity))
	rng := rand.New(rand.NewSource(7))
	for _, k := range rng.Perm(300) {
		mustInsert(t, tr, int64(k), uint64(k)+1)
		if n := tr.Cache().Len(); n > capacity {
			t.Fatalf("%d resident pages with capacity %d", n, capacity)
		}
	}
	for k := 0; k < 300; k++ {
		expectValue(t, tr, int64(k), uint64(k)+1)
	}
	mustVerify(t, tr)
	if s := tr.Cache().Stats(); s.Evictions == 0 || s.Indexed != s.Resident {
		t.Fatalf("cache stats after run: %+v", s)
	}
}

func TestReopenKeepsContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")
	tr, err := Open(path, WithOrder(5))
	if err != nil {
		t.Fatal(err)
	}
	for k := int64(0); k < 200; k++ {
		mustInsert(t, tr, k*3, uint64(k))
	}
	before, _ := tr.Stats()
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	tr, err = Open(path, WithOrder(5))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	mustVerify(t, tr)
	for k := int64(0); k < 200; k++ {
		expectValue(t, tr, k*3, uint64(k))
	}
	after, _ := tr.Stats()
	if after.Pages != before.Pages || after.Height != before.Height {
		t.Fatalf("shape changed across reopen: %+v vs %+v", before, after)
	}
	mustInsert(t, tr, 1, 1)
	mustVerify(t, tr)
}

func TestOpenRejectsBadOrder(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "a.db"), WithOrder(2)); !dberr.Is(err, dberr.ErrInvalidArgument) {
		t.Fatalf("order 2: %v, want ErrInvalidArgument", err)
	}
	_, err := Open(filepath.Join(dir, "b.db"), WithOrder(1000))
	if !dberr.Is(err, dberr.ErrRecordTooLarge) {
		t.Fatalf("order 1000 on 4K pages: %v", err)
	}
	tr, err := Open(filepath.Join(dir, "c.db"), WithOrder(1000), WithPageSize(16384))
	if err != nil {
		t.Fatalf("order 1000 on 16K pages: %v", err)
	}
	tr.Close()
}

func TestClosedTree(t *testing.T) {
	tr, _ := openTestTree(t)
	mustInsert(t, tr, 1, 1)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := tr.Insert(2, 2); !dberr.Is(err, dberr.ErrClosed) {
		t.Fatalf("Insert after Close: %v", err)
	}
	if _, _, err := tr.Get(1); !dberr.Is(err, dberr.ErrClosed) {
		t.Fatalf("Get after Close: %v", err)
	}
	if _, err := tr.Range(0, 1); !dberr.Is(err, dberr.ErrClosed) {
		t.Fatalf("Range after Close: %v", err)
	}
}
