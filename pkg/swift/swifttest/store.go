// Package swifttest provides an in-memory swift.Store for tests.
package swifttest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sort"
	"strconv"
	"sync"

	"github.com/usebox/swiftnbd/pkg/swift"
)

// Store is an in-memory object store bound to a single container.
//
// The zero value is not usable; call New. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.Mutex
	container string
	exists    bool
	headers   map[string]string
	objects   map[string][]byte

	// getCalls and putCalls count object reads and writes, so tests can
	// assert cache behavior through GetCallCount and PutCallCount.
	getCalls int
	putCalls int

	// Err, when set, is returned by every object operation (transport
	// failure injection).
	Err error

	// ETag, when set, overrides the computed MD5 returned by PutObject
	// (integrity failure injection).
	ETag string
}

// New creates an empty, existing container.
func New(container string) *Store {
	return &Store{
		container: container,
		exists:    true,
		headers:   make(map[string]string),
		objects:   make(map[string][]byte),
	}
}

// NewAbsent creates a store whose container does not exist yet.
func NewAbsent(container string) *Store {
	s := New(container)
	s.exists = false
	return s
}

// Setup writes the metadata of a set-up export into the container.
func (s *Store) Setup(version string, objects, objectSize int) {
	meta := swift.Metadata{
		swift.MetaVersion:    version,
		swift.MetaObjects:    strconv.Itoa(objects),
		swift.MetaObjectSize: strconv.Itoa(objectSize),
		swift.MetaClient:     "",
		swift.MetaLast:       "",
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers = meta.Headers()
}

// SetObject seeds an object without counting a put.
func (s *Store) SetObject(name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
}

// Object returns a copy of an object's contents and whether it exists.
func (s *Store) Object(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// ObjectCount returns the number of stored objects.
func (s *Store) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// GetCallCount returns the number of GetObject calls observed.
func (s *Store) GetCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// PutCallCount returns the number of PutObject calls observed.
func (s *Store) PutCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putCalls
}

// Meta parses the container's current swiftnbd metadata.
func (s *Store) Meta() swift.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return swift.ParseMeta(s.headers)
}

func (s *Store) Container() string {
	return s.container
}

func (s *Store) ContainerHeaders(ctx context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if !s.exists {
		return nil, swift.ErrNotFound
	}
	headers := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		headers[k] = v
	}
	return headers, nil
}

func (s *Store) CreateContainer(ctx context.Context, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.exists = true
	s.headers = copyHeaders(headers)
	return nil
}

func (s *Store) UpdateContainer(ctx context.Context, headers map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if !s.exists {
		return swift.ErrNotFound
	}
	s.headers = copyHeaders(headers)
	return nil
}

func (s *Store) DeleteContainer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if !s.exists {
		return swift.ErrNotFound
	}
	s.exists = false
	s.headers = make(map[string]string)
	return nil
}

func (s *Store) ListObjects(ctx context.Context, marker string, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if !s.exists {
		return nil, swift.ErrNotFound
	}
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		if name > marker {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (s *Store) GetObject(ctx context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.getCalls++
	data, ok := s.objects[name]
	if !ok {
		return nil, swift.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) PutObject(ctx context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.putCalls++
	s.objects[name] = append([]byte(nil), data...)
	if s.ETag != "" {
		return s.ETag, nil
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

func (s *Store) DeleteObject(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	if _, ok := s.objects[name]; !ok {
		return swift.ErrNotFound
	}
	delete(s.objects, name)
	return nil
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// Ensure Store implements swift.Store.
var _ swift.Store = (*Store)(nil)
