// Package btpage defines the page record of the B+ tree and its on-disk
// encoding.
//
// Page layout (little-endian, zero padded to the page size):
//
//	[0-7]    8 bytes  xxhash64 of bytes [8 : encoded length]
//	[8]      1 byte   kind (KindLeaf / KindInternal)
//	[9-12]   4 bytes  page ID
//	[13-16]  4 bytes  parent page ID (InvalidPage for the root)
//	[17-20]  4 bytes  next leaf page ID (InvalidPage at the end of the chain)
//	[21-22]  2 bytes  number of keys n
//	[23-24]  2 bytes  number of children c (always 0 for leaves)
//	[25+]    n int64 keys, then
//	         leaf:     n uint64 values
//	         internal: c uint32 child page IDs
//
// The record length is implied by n and c, so nothing after it is read.
package btpage

import (
	"encoding/binary"
	"fmt"

	"github.com/btree-query-bench/pagetree/dbms/dberr"
	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

const (
	DefaultPageSize = 4096 // matches the OS page size

	InvalidPage = uint32(0xFFFFFFFF)

	OffChecksum    = 0
	OffKind        = 8
	OffID          = 9
	OffParent      = 13
	OffNext        = 17
	OffNumKeys     = 21
	OffNumChildren = 23
	HeaderSize     = 25

	keySize   = 8
	valueSize = 8
	childSize = 4
)

// Kind discriminates leaf and internal pages. Zero is deliberately invalid so
// that a hole of zero bytes never decodes as a page.
type Kind byte

const (
	KindLeaf     Kind = 1
	KindInternal Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindInternal:
		return "internal"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

func (k Kind) valid() bool { return k == KindLeaf || k == KindInternal }

// Record is the decoded content of one page.
//
// Leaves use Keys, Values and Next. Internal pages use Keys and Children,
// with len(Children) == len(Keys)+1 once populated; child i holds keys below
// Keys[i] and at or above Keys[i-1].
type Record struct {
	ID       uint32
	Kind     Kind
	Keys     []int64
	Values   []uint64
	Children []uint32
	Next     uint32
	Parent   uint32
}

// NewRecord returns an empty record with no parent and no next leaf.
func NewRecord(id uint32, kind Kind) *Record {
	return &Record{ID: id, Kind: kind, Next: InvalidPage, Parent: InvalidPage}
}

func (r *Record) IsLeaf() bool { return r.Kind == KindLeaf }

func (r *Record) IsRoot() bool { return r.Parent == InvalidPage }

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Keys != nil {
		c.Keys = append([]int64(nil), r.Keys...)
	}
	if r.Values != nil {
		c.Values = append([]uint64(nil), r.Values...)
	}
	if r.Children != nil {
		c.Children = append([]uint32(nil), r.Children...)
	}
	return &c
}

// EncodedSize is the number of bytes a record of the given shape occupies.
func EncodedSize(kind Kind, nKeys, nChildren int) int {
	n := HeaderSize + nKeys*keySize
	if kind == KindLeaf {
		return n + nKeys*valueSize
	}
	return n + nChildren*childSize
}

// EncodedSize is the number of bytes Encode produces for r.
func (r *Record) EncodedSize() int {
	return EncodedSize(r.Kind, len(r.Keys), len(r.Children))
}

// MaxOrder is the largest tree order whose full leaf (order-1 keys) and full
// internal page (order-1 keys, order children) both fit in pageSize bytes.
func MaxOrder(pageSize int) int {
	leafKeys := (pageSize - HeaderSize) / (keySize + valueSize)
	internalKeys := (pageSize - HeaderSize - childSize) / (keySize + childSize)
	return min(leafKeys, internalKeys) + 1
}

// Encode serializes r into a buffer of exactly r.EncodedSize() bytes.
func Encode(r *Record) ([]byte, error) {
	if !r.Kind.valid() {
		return nil, dberr.Corrupt(r.ID, "encode: invalid %s", r.Kind)
	}
	if r.IsLeaf() && (len(r.Values) != len(r.Keys) || len(r.Children) != 0) {
		return nil, dberr.Corrupt(r.ID, "encode leaf: %d keys, %d values, %d children",
			len(r.Keys), len(r.Values), len(r.Children))
	}
	if !r.IsLeaf() && len(r.Values) != 0 {
		return nil, dberr.Corrupt(r.ID, "encode internal: carries %d values", len(r.Values))
	}
	if len(r.Keys) > 0xFFFF || len(r.Children) > 0xFFFF {
		return nil, errors.Wrapf(dberr.ErrRecordTooLarge, "btpage: page %d has %d keys", r.ID, len(r.Keys))
	}

	buf := make([]byte, r.EncodedSize())
	buf[OffKind] = byte(r.Kind)
	binary.LittleEndian.PutUint32(buf[OffID:], r.ID)
	binary.LittleEndian.PutUint32(buf[OffParent:], r.Parent)
	binary.LittleEndian.PutUint32(buf[OffNext:], r.Next)
	binary.LittleEndian.PutUint16(buf[OffNumKeys:], uint16(len(r.Keys)))
	binary.LittleEndian.PutUint16(buf[OffNumChildren:], uint16(len(r.Children)))

	off := HeaderSize
	for _, k := range r.Keys {
		binary.LittleEndian.PutUint64(buf[off:], uint64(k))
		off += keySize
	}
	if r.IsLeaf() {
		for _, v := range r.Values {
			binary.LittleEndian.PutUint64(buf[off:], v)
			off += valueSize
		}
	} else {
		for _, c := range r.Children {
			binary.LittleEndian.PutUint32(buf[off:], c)
			off += childSize
		}
	}

	binary.LittleEndian.PutUint64(buf[OffChecksum:], xxhash.Sum64(buf[OffKind:]))
	return buf, nil
}

// Decode parses a record from the start of buf. Trailing bytes (the zero
// padding of a slot) are ignored.
func Decode(buf []byte) (*Record, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(dberr.ErrCorruptPage, "btpage: %d bytes is shorter than a header", len(buf))
	}
	kind := Kind(buf[OffKind])
	id := binary.LittleEndian.Uint32(buf[OffID:])
	if !kind.valid() {
		return nil, dberr.Corrupt(id, "unknown %s", kind)
	}
	n := int(binary.LittleEndian.Uint16(buf[OffNumKeys:]))
	c := int(binary.LittleEndian.Uint16(buf[OffNumChildren:]))
	if kind == KindLeaf && c != 0 {
		return nil, dberr.Corrupt(id, "leaf with %d children", c)
	}
	if kind == KindInternal && c != 0 && c != n+1 {
		return nil, dberr.Corrupt(id, "internal page with %d keys and %d children", n, c)
	}
	size := EncodedSize(kind, n, c)
	if size > len(buf) {
		return nil, dberr.Corrupt(id, "record of %d bytes overruns %d byte slot", size, len(buf))
	}
	want := binary.LittleEndian.Uint64(buf[OffChecksum:])
	if got := xxhash.Sum64(buf[OffKind:size]); got != want {
		return nil, dberr.Corrupt(id, "checksum %016x, want %016x", got, want)
	}

	r := &Record{
		ID:     id,
		Kind:   kind,
		Parent: binary.LittleEndian.Uint32(buf[OffParent:]),
		Next:   binary.LittleEndian.Uint32(buf[OffNext:]),
	}
	off := HeaderSize
	if n > 0 {
		r.Keys = make([]int64, n)
		for i := range r.Keys {
			r.Keys[i] = int64(binary.LittleEndian.Uint64(buf[off:]))
			off += keySize
		}
	}
	if kind == KindLeaf {
		if n > 0 {
			r.Values = make([]uint64, n)
			for i := range r.Values {
				r.Values[i] = binary.LittleEndian.Uint64(buf[off:])
				off += valueSize
			}
		}
		return r, nil
	}
	if c > 0 {
		r.Children = make([]uint32, c)
		for i := range r.Children {
			r.Children[i] = binary.LittleEndian.Uint32(buf[off:])
			off += childSize
		}
	}
	return r, nil
}
