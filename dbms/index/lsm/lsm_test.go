package lsm

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
)

func openTestLSM(t *testing.T) *LSM {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "pebble"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestInsertGet(t *testing.T) {
	l := openTestLSM(t)
	for k := int64(-50); k < 50; k++ {
		if err := l.Insert(k, uint64(k+1000)); err != nil {
			t.Fatalf("Insert(%d): %v", k, err)
		}
	}
	if err := l.Insert(7, 1); !dberr.Is(err, dberr.ErrDuplicateKey) {
		t.Fatalf("duplicate insert: %v", err)
	}
	for k := int64(-50); k < 50; k++ {
		v, ok, err := l.Get(k)
		if err != nil || !ok || v != uint64(k+1000) {
			t.Fatalf("Get(%d) = %d, %v, %v", k, v, ok, err)
		}
	}
	if _, ok, err := l.Get(50); ok || err != nil {
		t.Fatalf("Get(50) = %v, %v", ok, err)
	}
}

func TestRangeOrdersNegativeKeys(t *testing.T) {
	l := openTestLSM(t)
	keys := []int64{math.MaxInt64, 3, -1, math.MinInt64, 0}
	for _, k := range keys {
		if err := l.Insert(k, 1); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		start, end int64
		want       []int64
	}{
		{math.MinInt64, math.MaxInt64, []int64{math.MinInt64, -1, 0, 3, math.MaxInt64}},
		{-1, 3, []int64{-1, 0, 3}},
		{1, 2, nil},
		{5, -5, nil},
	}
	for _, tt := range tests {
		it, err := l.Range(tt.start, tt.end)
		if err != nil {
			t.Fatal(err)
		}
		var got []int64
		for it.Next() {
			got = append(got, it.Key())
		}
		if err := it.Error(); err != nil {
			t.Fatal(err)
		}
		it.Close()
		if len(got) != len(tt.want) {
			t.Fatalf("Range(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Fatalf("Range(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		}
	}
}
