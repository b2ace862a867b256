// Package store presents a swiftnbd export as a seekable byte window.
//
// A Storage splits a logical disk of object_size x objects bytes into
// fixed-size objects named disk.part/NNNNNNNN and translates positional
// reads and writes into object GETs and PUTs, with read-modify-write for
// partial edges and an in-memory cache for hot objects. Exclusive access is
// coordinated through the container's client metadata.
package store

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/usebox/swiftnbd/internal/logger"
	"github.com/usebox/swiftnbd/pkg/cache"
	"github.com/usebox/swiftnbd/pkg/swift"
)

// DiskVersion is the disk format version written and served by this build.
const DiskVersion = "1"

// defaultCacheBytes bounds the cache when no limit is configured.
const defaultCacheBytes = 1 << 20

// ObjectName returns the object key for a 0-based object index.
func ObjectName(num int) string {
	return fmt.Sprintf("disk.part/%08d", num)
}

// Config describes the export geometry for a Storage.
type Config struct {
	ObjectSize int
	Objects    int
	Version    string
	ReadOnly   bool

	// CacheBytes bounds the object cache memory; it is converted to a
	// whole number of objects. Zero selects a 1 MiB default.
	CacheBytes int64
}

// Storage manages one object-split disk stored in a container.
//
// A Storage is bound to a single NBD connection (or control operation) at a
// time; the remote container lock enforces this. Methods are not safe for
// concurrent use except the byte counters, which may be read from the stats
// task while a connection is active.
type Storage struct {
	store swift.Store
	cache *cache.Cache

	objectSize int
	objects    int
	version    string
	readOnly   bool

	pos    int64
	locked bool
	meta   swift.Metadata

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// New creates a Storage over s with the given geometry.
func New(s swift.Store, cfg Config) *Storage {
	cacheBytes := cfg.CacheBytes
	if cacheBytes <= 0 {
		cacheBytes = defaultCacheBytes
	}
	entries := int(cacheBytes / int64(cfg.ObjectSize))
	if entries < 1 {
		entries = 1
	}

	return &Storage{
		store:      s,
		cache:      cache.New(entries),
		objectSize: cfg.ObjectSize,
		objects:    cfg.Objects,
		version:    cfg.Version,
		readOnly:   cfg.ReadOnly,
	}
}

// Open reads the container's metadata and returns a Storage sized from it.
//
// A container without complete swiftnbd metadata fails with ErrNotSetup.
// A disk format with a different major version fails with ErrVersion; a
// minor version difference is logged and served.
func Open(ctx context.Context, s swift.Store, cacheBytes int64, readOnly bool) (*Storage, error) {
	headers, err := s.ContainerHeaders(ctx)
	if err != nil {
		if errors.Is(err, swift.ErrNotFound) {
			return nil, fmt.Errorf("container %s does not exist: %w", s.Container(), ErrNotSetup)
		}
		return nil, opError(ErrIO, "%v", err)
	}

	meta := swift.ParseMeta(headers)
	if len(meta) == 0 {
		return nil, fmt.Errorf("container %s: %w", s.Container(), ErrNotSetup)
	}

	objects, err := meta.Objects()
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", s.Container(), err)
	}
	objectSize, err := meta.ObjectSize()
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", s.Container(), err)
	}
	if objects <= 0 || objectSize <= 0 {
		return nil, fmt.Errorf("container %s: non-positive geometry: %w", s.Container(), ErrNotSetup)
	}

	version := meta.Version()
	if swift.MajorVersion(version) != swift.MajorVersion(DiskVersion) {
		return nil, opError(ErrVersion, "%s is version %s, server supports %s", s.Container(), version, DiskVersion)
	}
	if version != DiskVersion {
		logger.Warn("Disk format version mismatch, serving anyway",
			"container", s.Container(), "disk", version, "supported", DiskVersion)
	}

	return New(s, Config{
		ObjectSize: objectSize,
		Objects:    objects,
		Version:    version,
		ReadOnly:   readOnly,
		CacheBytes: cacheBytes,
	}), nil
}

// Name returns the backing container name.
func (s *Storage) Name() string { return s.store.Container() }

// Size returns the export size in bytes.
func (s *Storage) Size() int64 { return int64(s.objectSize) * int64(s.objects) }

// ObjectSize returns the object size in bytes.
func (s *Storage) ObjectSize() int { return s.objectSize }

// Objects returns the number of objects in the disk.
func (s *Storage) Objects() int { return s.objects }

// ReadOnly reports whether the export refuses writes.
func (s *Storage) ReadOnly() bool { return s.readOnly }

// Locked reports whether this instance holds the container lock.
func (s *Storage) Locked() bool { return s.locked }

// BytesIn returns the bytes fetched from the object store so far.
func (s *Storage) BytesIn() uint64 { return s.bytesIn.Load() }

// BytesOut returns the bytes stored to the object store so far.
func (s *Storage) BytesOut() uint64 { return s.bytesOut.Load() }

// CacheUsage returns the cache's resident and maximum size in bytes.
func (s *Storage) CacheUsage() (size, limit int64) {
	return int64(s.cache.Len()) * int64(s.objectSize),
		int64(s.cache.Limit()) * int64(s.objectSize)
}

// Lock marks the container as in use by clientID. It fails with ErrBusy if
// another client holds the lock. Idempotent when this instance already
// holds the lock.
func (s *Storage) Lock(ctx context.Context, clientID string) error {
	if s.locked {
		return nil
	}

	headers, err := s.store.ContainerHeaders(ctx)
	if err != nil {
		return opError(ErrIO, "failed to lock: %v", err)
	}

	meta := swift.ParseMeta(headers)
	if meta.Client() != "" {
		return opError(ErrBusy, "already in use: %s", meta.Client())
	}

	meta[swift.MetaClient] = fmt.Sprintf("%s@%d", clientID, time.Now().Unix())
	if err := s.store.UpdateContainer(ctx, meta.Headers()); err != nil {
		return opError(ErrIO, "failed to lock: %v", err)
	}

	s.meta = meta
	s.locked = true
	return nil
}

// Unlock releases the container lock, retaining the previous holder in the
// last metadata key for audit. Idempotent when not locked.
func (s *Storage) Unlock(ctx context.Context) error {
	if !s.locked {
		return nil
	}

	s.meta[swift.MetaLast] = s.meta.Client()
	s.meta[swift.MetaClient] = ""
	if err := s.store.UpdateContainer(ctx, s.meta.Headers()); err != nil {
		return opError(ErrIO, "failed to unlock: %v", err)
	}

	s.locked = false
	return nil
}

// Seek positions the cursor. Offsets outside [0, size] fail with
// ErrInvalidSeek.
func (s *Storage) Seek(offset int64) error {
	if offset < 0 || offset > s.Size() {
		return opError(ErrInvalidSeek, "offset %d out of bounds", offset)
	}
	s.pos = offset
	return nil
}

// Tell returns the current cursor position.
func (s *Storage) Tell() int64 { return s.pos }

// Read returns up to length bytes from the cursor, stopping at the end of
// the disk, and advances the cursor by the bytes returned. A read at or
// past the end returns an empty slice.
func (s *Storage) Read(ctx context.Context, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}

	out := make([]byte, 0, length)
	remaining := length
	for remaining > 0 {
		num := int(s.pos / int64(s.objectSize))
		if num >= s.objects {
			break
		}

		obj, err := s.fetchObject(ctx, num)
		if err != nil {
			return nil, err
		}

		objPos := int(s.pos % int64(s.objectSize))
		part := s.objectSize - objPos
		if part > remaining {
			part = remaining
		}
		out = append(out, obj[objPos:objPos+part]...)
		remaining -= part
		s.pos += int64(part)
	}
	return out, nil
}

// Write stores data at the cursor. Partial first and last objects are
// read-modify-written; whole objects in between are overwritten. The write
// is rejected with ErrInvalidSeek before contacting the store if it would
// touch an object index past the end of the disk. The cursor is not moved.
func (s *Storage) Write(ctx context.Context, data []byte) error {
	if s.readOnly {
		return opError(ErrReadOnly, "%s", s.Name())
	}
	if len(data) == 0 {
		return nil
	}

	objPos := int(s.pos % int64(s.objectSize))
	first := int(s.pos / int64(s.objectSize))
	last := int((s.pos + int64(len(data)) - 1) / int64(s.objectSize))
	if last >= s.objects {
		return opError(ErrInvalidSeek, "write out of bounds (object %d, disk has %d)", last, s.objects)
	}

	aligned := make([]byte, 0, (last-first+1)*s.objectSize)
	if objPos != 0 {
		// object-align the beginning of data
		obj, err := s.fetchObject(ctx, first)
		if err != nil {
			return err
		}
		aligned = append(aligned, obj[:objPos]...)
	}
	aligned = append(aligned, data...)

	if rem := len(aligned) % s.objectSize; rem != 0 {
		// object-align the end of data
		obj, err := s.fetchObject(ctx, last)
		if err != nil {
			return err
		}
		aligned = append(aligned, obj[rem:]...)
	}

	for i := 0; i <= last-first; i++ {
		chunk := aligned[i*s.objectSize : (i+1)*s.objectSize]
		if err := s.putObject(ctx, first+i, chunk); err != nil {
			return err
		}
	}
	return nil
}

// Flush drops the object cache. Writes are synchronous PUTs, so there is
// nothing to write back.
func (s *Storage) Flush() {
	s.cache.Flush()
}

// fetchObject returns the objectSize bytes of object num, consulting the
// cache first. A missing object reads as zeros and is not cached.
func (s *Storage) fetchObject(ctx context.Context, num int) ([]byte, error) {
	if data, ok := s.cache.Get(num); ok {
		return data, nil
	}

	name := ObjectName(num)
	data, err := s.store.GetObject(ctx, name)
	if err != nil {
		if errors.Is(err, swift.ErrNotFound) {
			return make([]byte, s.objectSize), nil
		}
		return nil, opError(ErrIO, "%v", err)
	}
	if len(data) != s.objectSize {
		return nil, opError(ErrIO, "invalid object size %d, %d expected (%s)", len(data), s.objectSize, name)
	}

	s.bytesIn.Add(uint64(s.objectSize))
	s.cache.Set(num, data)
	return data, nil
}

// putObject stores exactly objectSize bytes as object num and verifies the
// returned ETag against the payload MD5. The cache is only updated after a
// successful, verified PUT.
func (s *Storage) putObject(ctx context.Context, num int, data []byte) error {
	if num >= s.objects {
		return opError(ErrInvalidSeek, "write offset out of bounds (object %d)", num)
	}

	name := ObjectName(num)
	etag, err := s.store.PutObject(ctx, name, data)
	if err != nil {
		return opError(ErrIO, "%v", err)
	}

	sum := md5.Sum(data)
	if etag != hex.EncodeToString(sum[:]) {
		return opError(ErrIntegrity, "etag mismatch (object %d)", num)
	}

	s.bytesOut.Add(uint64(s.objectSize))
	s.cache.Set(num, append([]byte(nil), data...))
	return nil
}
