// Package storage abstracts the object store used for archiving sealed
// segments. Implementations cover the local filesystem and S3-compatible
// object storage.
package storage

import (
	"context"
	"errors"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage abstracts archival storage operations for sealed
// segments.
type ObjectStorage interface {
	// Upload copies a local file to objectPath in the archive.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies an archived object to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object from the archive.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present in the archive.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
