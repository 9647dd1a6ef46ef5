package bptree

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/btree-query-bench/pagetree/dbms/index"
	"github.com/btree-query-bench/pagetree/dbms/index/listindex"
	"github.com/kr/pretty"
)

type pair struct {
	Key   int64
	Value uint64
}

func drain(t *testing.T, idx index.Index, start, end int64) []pair {
	t.Helper()
	it, err := idx.Range(start, end)
	if err != nil {
		t.Fatalf("Range(%d, %d): %v", start, end, err)
	}
	defer it.Close()
	var out []pair
	for it.Next() {
		out = append(out, pair{it.Key(), it.Value()})
	}
	if err := it.Error(); err != nil {
		t.Fatalf("Range(%d, %d): %v", start, end, err)
	}
	return out
}

func TestRangeMatchesListIndex(t *testing.T) {
	tr, _ := openTestTree(t, WithOrder(4))
	ref := listindex.NewListIndex()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 400; i++ {
		k := rng.Int63n(2000) - 1000
		v := rng.Uint64()
		want := ref.Insert(k, v)
		got := tr.Insert(k, v)
		if (want == nil) != (got == nil) {
			t.Fatalf("Insert(%d): tree %v, reference %v", k, got, want)
		}
	}
	mustVerify(t, tr)

	ranges := [][2]int64{
		{math.MinInt64, math.MaxInt64},
		{-1000, 1000},
		{0, 0},
		{-5, 5},
		{500, 499},
		{2000, 3000},
		{-3000, -1001},
		{math.MaxInt64, math.MaxInt64},
	}
	for i := 0; i < 20; i++ {
		a, b := rng.Int63n(2200)-1100, rng.Int63n(2200)-1100
		ranges = append(ranges, [2]int64{min(a, b), max(a, b)})
	}
	for _, r := range ranges {
		got, want := drain(t, tr, r[0], r[1]), drain(t, ref, r[0], r[1])
		if diff := pretty.Diff(got, want); len(diff) > 0 {
			t.Fatalf("Range(%d, %d) differs from reference:\n%s", r[0], r[1], strings.Join(diff, "\n"))
		}
	}
}

func TestRangeFollowsLeafChain(t *testing.T) {
	tr, _ := openTestTree(t, WithOrder(3))
	for k := int64(99); k >= 0; k-- {
		mustInsert(t, tr, k*2, uint64(k))
	}
	got := drain(t, tr, 0, math.MaxInt64)
	if len(got) != 100 {
		t.Fatalf("full scan returned %d pairs", len(got))
	}
	for i, p := range got {
		if p.Key != int64(i*2) || p.Value != uint64(i) {
			t.Fatalf("pair %d = %+v", i, p)
		}
	}
	// Bounds that fall between stored keys.
	if got := drain(t, tr, 3, 9); len(got) != 3 || got[0].Key != 4 || got[2].Key != 8 {
		t.Fatalf("Range(3, 9) = %+v", got)
	}
}

func TestRangeOnEmptyTree(t *testing.T) {
	tr, _ := openTestTree(t)
	if got := drain(t, tr, math.MinInt64, math.MaxInt64); len(got) != 0 {
		t.Fatalf("empty tree scan = %+v", got)
	}
}

func TestRangeSeesConcurrentInsertsAfterCursor(t *testing.T) {
	tr, _ := openTestTree(t, WithOrder(3))
	for k := int64(0); k < 10; k++ {
		mustInsert(t, tr, k*10, 0)
	}
	it, err := tr.Range(0, 1000)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	if !it.Next() || it.Key() != 0 {
		t.Fatal("first key")
	}
	// Splits the leaves ahead of the cursor.
	for k := int64(91); k < 100; k++ {
		mustInsert(t, tr, k, 1)
	}
	n := 1
	for it.Next() {
		n++
	}
	if n != 19 {
		t.Fatalf("scan saw %d keys, want 19", n)
	}
}

func TestExportDOT(t *testing.T) {
	tr, _ := openTestTree(t, WithOrder(3))
	for k := int64(1); k <= 12; k++ {
		mustInsert(t, tr, k, uint64(k))
	}
	var buf bytes.Buffer
	if err := tr.ExportDOT(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "digraph BPlusTree {") || !strings.HasSuffix(out, "}\n") {
		t.Fatalf("not a digraph:\n%s", out)
	}
	s, _ := tr.Stats()
	for id := uint32(0); id < s.Pages; id++ {
		if !strings.Contains(out, fmt.Sprintf("page%d [label=", id)) {
			t.Errorf("page %d missing from output", id)
		}
	}
	if !strings.Contains(out, "rank=same") || !strings.Contains(out, "style=dashed") {
		t.Error("leaf chain not drawn")
	}
}
