// Package swift defines the object-store client consumed by the storage
// layer and its OpenStack Swift implementation.
//
// A Store is bound to a single container: one container backs exactly one
// export. The interface is deliberately small so tests can substitute an
// in-memory implementation (see swifttest).
package swift

import (
	"context"
	"errors"
)

// ErrNotFound indicates the container or object does not exist (404).
// A missing object is not a failure for the storage layer: it reads as an
// all-zero object.
var ErrNotFound = errors.New("not found")

// Store is a synchronous client for one container in an object store.
type Store interface {
	// ContainerHeaders returns the container's response header map.
	// Returns ErrNotFound if the container does not exist.
	ContainerHeaders(ctx context.Context) (map[string]string, error)

	// CreateContainer creates the container (or replaces its metadata if it
	// already exists) with the given headers.
	CreateContainer(ctx context.Context, headers map[string]string) error

	// UpdateContainer replaces the container's metadata headers.
	UpdateContainer(ctx context.Context, headers map[string]string) error

	// DeleteContainer removes the container. The container must be empty.
	DeleteContainer(ctx context.Context) error

	// ListObjects returns up to limit object names starting after marker.
	ListObjects(ctx context.Context, marker string, limit int) ([]string, error)

	// GetObject returns the full contents of an object.
	// Returns ErrNotFound if the object does not exist.
	GetObject(ctx context.Context, name string) ([]byte, error)

	// PutObject stores an object and returns the lowercase hex MD5 ETag
	// reported by the server.
	PutObject(ctx context.Context, name string, data []byte) (etag string, err error)

	// DeleteObject removes an object.
	DeleteObject(ctx context.Context, name string) error

	// Container returns the container name this store is bound to.
	Container() string
}
