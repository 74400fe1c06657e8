package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SnapshotWriter archives the relation table after a rebuild.
type SnapshotWriter interface {
	WriteRelations(ctx context.Context, runID string, relations []Relation) (path string, err error)
}

// SnapshotReader locates and decodes archived relation tables.
type SnapshotReader interface {
	// Latest returns the newest snapshot, or ErrNotFound when none exist.
	Latest(ctx context.Context) (BlobInfo, error)
	ReadRelations(ctx context.Context, path string) ([]Relation, error)
}
