package index

// Index is the common interface for all implementations.
//
// Keys are unique: Insert of a key that is already present fails with an
// error matching dberr.ErrDuplicateKey and leaves the stored value alone.
type Index interface {
	Insert(key int64, value uint64) error
	Get(key int64) (value uint64, found bool, err error)
	Range(start, end int64) (Iterator, error)
	Close() error
}

// Iterator walks key/value pairs in ascending key order.
type Iterator interface {
	Next() bool
	Key() int64
	Value() uint64
	Error() error
	Close() error
}
