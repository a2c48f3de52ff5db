// Package storage describes where uploaded database files live between runs.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// DatabaseContentType is attached to database files written to a store.
const DatabaseContentType = "application/vnd.sqlite3"

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is the stored metadata of one database file.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

// Reader is the side a submission needs: size a database file before
// fetching it.
type Reader interface {
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// ObjectStore adds the management operations used by the upload and remove
// commands.
type ObjectStore interface {
	Reader
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
