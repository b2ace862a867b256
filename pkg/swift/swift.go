package swift

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ncw/swift/v2"
)

// contentType sent with stored objects.
const contentType = "application/octet-stream"

// Auth holds the credentials for one Swift account.
type Auth struct {
	AuthURL  string
	Username string
	Password string
}

// Dial authenticates against the Swift auth endpoint and returns a shared
// connection. The connection can back multiple container-bound stores.
func Dial(ctx context.Context, auth Auth) (*swift.Connection, error) {
	conn := &swift.Connection{
		UserName: auth.Username,
		ApiKey:   auth.Password,
		AuthUrl:  auth.AuthURL,
		Timeout:  60 * time.Second,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("swift authentication failed: %w", err)
	}
	return conn, nil
}

// Conn is the Swift-backed Store for a single container.
type Conn struct {
	cli       *swift.Connection
	container string
}

// New binds an authenticated Swift connection to a container.
func New(cli *swift.Connection, container string) *Conn {
	return &Conn{cli: cli, container: container}
}

// Container returns the container name this store is bound to.
func (c *Conn) Container() string {
	return c.container
}

// ContainerHeaders returns the container's response header map.
func (c *Conn) ContainerHeaders(ctx context.Context) (map[string]string, error) {
	_, headers, err := c.cli.Container(ctx, c.container)
	if err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return nil, fmt.Errorf("container %s: %w", c.container, ErrNotFound)
		}
		return nil, fmt.Errorf("get container %s: %w", c.container, err)
	}
	return headers, nil
}

// CreateContainer creates the container with the given metadata headers.
func (c *Conn) CreateContainer(ctx context.Context, headers map[string]string) error {
	if err := c.cli.ContainerCreate(ctx, c.container, swift.Headers(headers)); err != nil {
		return fmt.Errorf("create container %s: %w", c.container, err)
	}
	return nil
}

// UpdateContainer replaces the container's metadata headers.
func (c *Conn) UpdateContainer(ctx context.Context, headers map[string]string) error {
	if err := c.cli.ContainerUpdate(ctx, c.container, swift.Headers(headers)); err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return fmt.Errorf("container %s: %w", c.container, ErrNotFound)
		}
		return fmt.Errorf("update container %s: %w", c.container, err)
	}
	return nil
}

// DeleteContainer removes the (empty) container.
func (c *Conn) DeleteContainer(ctx context.Context) error {
	if err := c.cli.ContainerDelete(ctx, c.container); err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return fmt.Errorf("container %s: %w", c.container, ErrNotFound)
		}
		return fmt.Errorf("delete container %s: %w", c.container, err)
	}
	return nil
}

// ListObjects returns up to limit object names starting after marker.
func (c *Conn) ListObjects(ctx context.Context, marker string, limit int) ([]string, error) {
	names, err := c.cli.ObjectNames(ctx, c.container, &swift.ObjectsOpts{
		Marker: marker,
		Limit:  limit,
	})
	if err != nil {
		if errors.Is(err, swift.ContainerNotFound) {
			return nil, fmt.Errorf("container %s: %w", c.container, ErrNotFound)
		}
		return nil, fmt.Errorf("list container %s: %w", c.container, err)
	}
	return names, nil
}

// GetObject returns the full contents of an object.
func (c *Conn) GetObject(ctx context.Context, name string) ([]byte, error) {
	data, err := c.cli.ObjectGetBytes(ctx, c.container, name)
	if err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return nil, fmt.Errorf("object %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get object %s: %w", name, err)
	}
	return data, nil
}

// PutObject stores an object and returns the server-reported ETag in
// lowercase.
func (c *Conn) PutObject(ctx context.Context, name string, data []byte) (string, error) {
	headers, err := c.cli.ObjectPut(ctx, c.container, name, bytes.NewReader(data), false, "", contentType, nil)
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", name, err)
	}
	return strings.ToLower(headers["Etag"]), nil
}

// DeleteObject removes an object.
func (c *Conn) DeleteObject(ctx context.Context, name string) error {
	if err := c.cli.ObjectDelete(ctx, c.container, name); err != nil {
		if errors.Is(err, swift.ObjectNotFound) {
			return fmt.Errorf("object %s: %w", name, ErrNotFound)
		}
		return fmt.Errorf("delete object %s: %w", name, err)
	}
	return nil
}

// Ensure Conn implements Store.
var _ Store = (*Conn)(nil)
