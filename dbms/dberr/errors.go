// Package dberr defines the error kinds surfaced by the storage core.
//
// Every failure returned by the pager and the tree wraps one of the sentinels
// below, so callers branch with errors.Is while the message keeps the page id
// and operation that failed. A tree poisoned by a failed split reports
// ErrTreeCorrupt on top of the original cause.
package dberr

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrIO marks file level failures (open, read, write, sync, stat).
	ErrIO = errors.New("io error")

	// ErrCorruptPage is returned when a page slot cannot be decoded, or a
	// record is malformed and cannot be encoded.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrRecordTooLarge is returned when an encoded record does not fit a page.
	ErrRecordTooLarge = errors.New("record too large for page")

	// ErrDuplicateKey is returned by Insert when the key already exists.
	// Nothing is mutated when it is returned.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidChildIndex reports a descent that selected a child slot the
	// page does not have, or reached a child that names another parent.
	ErrInvalidChildIndex = errors.New("invalid child index")

	// ErrTreeCorrupt reports a broken structural invariant.
	ErrTreeCorrupt = errors.New("tree corrupt")

	// ErrClosed is returned by operations on a closed store or tree.
	ErrClosed = errors.New("closed")

	// ErrInvalidArgument reports a caller mistake: a bad page size or order,
	// or a write to a page that was never allocated.
	ErrInvalidArgument = errors.New("invalid argument")
)

// IO marks err as an ErrIO failure and prefixes it with the operation.
// It returns nil when err is nil.
func IO(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrapf(err, format, args...), ErrIO)
}

// Corrupt builds an ErrCorruptPage error for the given page.
func Corrupt(id uint32, format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptPage, "page %d: "+format, append([]interface{}{id}, args...)...)
}

// Is reports whether err matches target. It is errors.Is from
// cockroachdb/errors, re-exported so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
