package listindex

import (
	"testing"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/kr/pretty"
)

func collect(t *testing.T, l *ListIndex, start, end int64) []Data {
	t.Helper()
	it, err := l.Range(start, end)
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()
	var out []Data
	for it.Next() {
		out = append(out, Data{Key: it.Key(), Val: it.Value()})
	}
	return out
}

func TestListIndex(t *testing.T) {
	l := NewListIndex()
	for _, k := range []int64{5, -3, 9, 0, 7} {
		if err := l.Insert(k, uint64(k+100)); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Insert(9, 1); !dberr.Is(err, dberr.ErrDuplicateKey) {
		t.Fatalf("duplicate insert: %v", err)
	}
	if v, ok, _ := l.Get(9); !ok || v != 109 {
		t.Fatalf("Get(9) = %d, %v", v, ok)
	}
	if _, ok, _ := l.Get(4); ok {
		t.Fatal("Get(4) found a missing key")
	}

	tests := []struct {
		start, end int64
		want       []Data
	}{
		{-10, 10, []Data{{-3, 97}, {0, 100}, {5, 105}, {7, 107}, {9, 109}}},
		{0, 7, []Data{{0, 100}, {5, 105}, {7, 107}}},
		{1, 4, nil},
		{8, 2, nil},
	}
	for _, tt := range tests {
		if diff := pretty.Diff(collect(t, l, tt.start, tt.end), tt.want); len(diff) > 0 {
			t.Errorf("Range(%d, %d): %v", tt.start, tt.end, diff)
		}
	}
	if l.Len() != 5 {
		t.Fatalf("Len = %d", l.Len())
	}
}
