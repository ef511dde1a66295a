package rrdcache

import "errors"

// Sentinel errors returned by the core operations. Callers compare with
// errors.Is; wrapped context (filename, timestamp, ...) is added with
// fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrEncodeOverflow: filename or update token would exceed the
	// bounded formatting buffer.
	ErrEncodeOverflow = errors.New("rrdcache: encoded value would overflow buffer")

	// ErrUnsupportedType: a value's kind is neither counter nor gauge.
	ErrUnsupportedType = errors.New("rrdcache: unsupported value kind")

	// ErrSchemaMismatch: the sample's type name disagrees with the
	// schema it was checked against.
	ErrSchemaMismatch = errors.New("rrdcache: sample type does not match schema")

	// ErrOutOfOrder: sample timestamp <= the entry's last accepted
	// timestamp.
	ErrOutOfOrder = errors.New("rrdcache: sample timestamp is out of order")

	// ErrAllocFailed: append or entry creation could not proceed. No
	// operation in this package returns it, and append never removes an
	// entry.
	ErrAllocFailed = errors.New("rrdcache: allocation failed")

	// ErrNotFound: a targeted flush named an identifier with no cache
	// entry.
	ErrNotFound = errors.New("rrdcache: identifier not found")

	// ErrWriteFailed: the RRD library rejected an update. The writer does
	// not return or wrap it: it logs a warning and drops the batch, never
	// retrying.
	ErrWriteFailed = errors.New("rrdcache: rrd update failed")

	// ErrClosed: an operation was attempted on a Core that has not been
	// initialized, or has already been shut down.
	ErrClosed = errors.New("rrdcache: core is not initialized")
)
