// Package objectstore abstracts enumeration, metadata lookup, and byte-range
// streaming of remote objects so Discovery and the Raw Loader never depend
// directly on a cloud SDK.
package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Head/OpenStream when the object does not exist.
var ErrNotFound = errors.New("objectstore: object not found")

// ObjectMeta describes one remote object.
type ObjectMeta struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
	VersionID    string
	Checksum     string
}

// Adapter is implemented by every object-store backend (S3, in-memory test
// double). Implementations must be safe for concurrent use.
type Adapter interface {
	// List enumerates every object under prefix, transparently paginating.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)
	// Head returns metadata for a single object.
	Head(ctx context.Context, key string) (ObjectMeta, error)
	// OpenStream opens an ordered byte stream for the object's current version.
	OpenStream(ctx context.Context, key string) (io.ReadCloser, error)
	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
