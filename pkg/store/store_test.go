package store

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usebox/swiftnbd/pkg/swift"
	"github.com/usebox/swiftnbd/pkg/swift/swifttest"
)

const (
	testObjectSize = 512
	testObjects    = 16
)

// newTestStorage returns a storage over a fake container whose first 8
// objects are initialised to 0xff; the second half is uninitialised.
func newTestStorage(t *testing.T) (*Storage, *swifttest.Store) {
	t.Helper()

	fake := swifttest.New("test")
	fake.Setup(DiskVersion, testObjects, testObjectSize)
	for i := 0; i < 8; i++ {
		fake.SetObject(ObjectName(i), bytes.Repeat([]byte{0xff}, testObjectSize))
	}

	st, err := Open(context.Background(), fake, 0, false)
	require.NoError(t, err)
	return st, fake
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "disk.part/00000000", ObjectName(0))
	assert.Equal(t, "disk.part/00000042", ObjectName(42))
	assert.Equal(t, "disk.part/12345678", ObjectName(12345678))
}

func TestOpenGeometry(t *testing.T) {
	st, _ := newTestStorage(t)

	assert.Equal(t, int64(testObjectSize*testObjects), st.Size())
	assert.Equal(t, testObjectSize, st.ObjectSize())
	assert.Equal(t, testObjects, st.Objects())
	assert.False(t, st.ReadOnly())
}

func TestOpenNotSetup(t *testing.T) {
	fake := swifttest.New("empty")

	_, err := Open(context.Background(), fake, 0, false)
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestOpenMissingContainer(t *testing.T) {
	fake := swifttest.NewAbsent("missing")

	_, err := Open(context.Background(), fake, 0, false)
	assert.ErrorIs(t, err, ErrNotSetup)
}

func TestOpenMajorVersionMismatch(t *testing.T) {
	fake := swifttest.New("vtest")
	fake.Setup("2", testObjects, testObjectSize)

	_, err := Open(context.Background(), fake, 0, false)
	assert.ErrorIs(t, err, ErrVersion)
}

func TestOpenMinorVersionServed(t *testing.T) {
	fake := swifttest.New("vtest")
	fake.Setup("1.1", testObjects, testObjectSize)

	st, err := Open(context.Background(), fake, 0, false)
	require.NoError(t, err)
	assert.Equal(t, "1.1", st.version)
}

func TestReadFullObject(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	data, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, testObjectSize), data)
	assert.Equal(t, int64(testObjectSize), st.Tell())
}

func TestReadMissingObjectIsZeros(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(8*testObjectSize))
	data, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, testObjectSize), data)
}

func TestReadAcrossObjects(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(testObjectSize/2))
	data, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, testObjectSize), data)
}

func TestReadAtEndIsEmpty(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(st.Size()))
	data, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReadShortAtEnd(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(st.Size()-128))
	data, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Len(t, data, 128)
}

func TestReadInvalidObjectSize(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	fake.SetObject(ObjectName(0), []byte("short"))

	require.NoError(t, st.Seek(0))
	_, err := st.Read(ctx, testObjectSize)
	assert.ErrorIs(t, err, ErrIO)
}

func TestWriteFullObject(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{'X'}, testObjectSize)
	require.NoError(t, st.Seek(0))
	require.NoError(t, st.Write(ctx, payload))

	obj, ok := fake.Object(ObjectName(0))
	require.True(t, ok)
	assert.Equal(t, payload, obj)
}

func TestWriteReadRoundTrip(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte{'Y'}, 3*testObjectSize)
	require.NoError(t, st.Seek(2*testObjectSize))
	require.NoError(t, st.Write(ctx, payload))

	require.NoError(t, st.Seek(2*testObjectSize))
	data, err := st.Read(ctx, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestWriteUnalignedEdges(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	// Write one object's worth starting at half an object: both touched
	// objects keep their unmodified halves.
	payload := bytes.Repeat([]byte{'X'}, testObjectSize)
	require.NoError(t, st.Seek(testObjectSize/2))
	require.NoError(t, st.Write(ctx, payload))

	half := testObjectSize / 2
	obj0, ok := fake.Object(ObjectName(0))
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, half), obj0[:half])
	assert.Equal(t, bytes.Repeat([]byte{'X'}, half), obj0[half:])

	obj1, ok := fake.Object(ObjectName(1))
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{'X'}, half), obj1[:half])
	assert.Equal(t, bytes.Repeat([]byte{0xff}, half), obj1[half:])
}

func TestWriteUnalignedIntoZeros(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	// Objects 8 and 9 do not exist; the edges must read back as zeros.
	half := testObjectSize / 2
	payload := bytes.Repeat([]byte{'X'}, testObjectSize)
	require.NoError(t, st.Seek(8*testObjectSize+int64(half)))
	require.NoError(t, st.Write(ctx, payload))

	obj8, ok := fake.Object(ObjectName(8))
	require.True(t, ok)
	assert.Equal(t, make([]byte, half), obj8[:half])
	assert.Equal(t, bytes.Repeat([]byte{'X'}, half), obj8[half:])

	obj9, ok := fake.Object(ObjectName(9))
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{'X'}, half), obj9[:half])
	assert.Equal(t, make([]byte, half), obj9[half:])
}

func TestWritePastEndRejectedBeforeStore(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	puts := fake.PutCallCount()
	require.NoError(t, st.Seek(st.Size()-256))
	err := st.Write(ctx, make([]byte, 1024))
	assert.ErrorIs(t, err, ErrInvalidSeek)
	assert.Equal(t, puts, fake.PutCallCount(), "store must be untouched")
}

func TestWriteObjectAlignedPayloads(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	require.NoError(t, st.Write(ctx, bytes.Repeat([]byte{'Z'}, 4*testObjectSize)))

	pattern := regexp.MustCompile(`^disk\.part/[0-9]{8}$`)
	names, err := fake.ListObjects(ctx, "", 0)
	require.NoError(t, err)
	for _, name := range names {
		assert.Regexp(t, pattern, name)
		obj, _ := fake.Object(name)
		assert.Len(t, obj, testObjectSize)
	}
}

func TestWriteReadOnly(t *testing.T) {
	fake := swifttest.New("ro")
	fake.Setup(DiskVersion, testObjects, testObjectSize)

	st, err := Open(context.Background(), fake, 0, true)
	require.NoError(t, err)

	err = st.Write(context.Background(), []byte("nope"))
	assert.ErrorIs(t, err, ErrReadOnly)
	assert.Equal(t, 0, fake.PutCallCount())
}

func TestWriteIntegrityMismatch(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	fake.ETag = "0000deadbeef0000"

	require.NoError(t, st.Seek(0))
	err := st.Write(ctx, bytes.Repeat([]byte{'X'}, testObjectSize))
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Equal(t, ErrnoEAGAIN, Errno(err))

	// A failed PUT must not populate the cache.
	size, _ := st.CacheUsage()
	assert.Zero(t, size)
}

func TestWriteTransportError(t *testing.T) {
	st, fake := newTestStorage(t)

	fake.Err = errors.New("connection reset")

	require.NoError(t, st.Seek(0))
	err := st.Write(context.Background(), make([]byte, testObjectSize))
	assert.ErrorIs(t, err, ErrIO)
}

func TestZeroLengthOps(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	data, err := st.Read(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, st.Write(ctx, nil))
	assert.Equal(t, 0, fake.PutCallCount())
}

func TestSeekBounds(t *testing.T) {
	st, _ := newTestStorage(t)

	assert.NoError(t, st.Seek(0))
	assert.NoError(t, st.Seek(st.Size()))
	assert.ErrorIs(t, st.Seek(-1), ErrInvalidSeek)
	assert.ErrorIs(t, st.Seek(st.Size()+1), ErrInvalidSeek)
}

func TestReadUsesCache(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	_, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	gets := fake.GetCallCount()

	require.NoError(t, st.Seek(0))
	_, err = st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, gets, fake.GetCallCount(), "second read must be served from cache")
}

func TestFlushDropsCache(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	_, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	gets := fake.GetCallCount()

	st.Flush()

	require.NoError(t, st.Seek(0))
	_, err = st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, gets+1, fake.GetCallCount(), "read after flush must hit the store")
}

func TestByteCounters(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(0))
	_, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(testObjectSize), st.BytesIn())

	require.NoError(t, st.Seek(0))
	require.NoError(t, st.Write(ctx, make([]byte, 2*testObjectSize)))
	assert.Equal(t, uint64(2*testObjectSize), st.BytesOut())
}

func TestMissingObjectNotCounted(t *testing.T) {
	st, _ := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Seek(10*testObjectSize))
	_, err := st.Read(ctx, testObjectSize)
	require.NoError(t, err)
	assert.Zero(t, st.BytesIn(), "zero-filled objects are not fetched")
}

func TestLockUnlock(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx, "10.0.0.1:33000"))
	assert.True(t, st.Locked())

	meta := fake.Meta()
	require.Regexp(t, regexp.MustCompile(`^10\.0\.0\.1:33000@[0-9]+$`), meta.Client())

	// Idempotent while held by this instance.
	require.NoError(t, st.Lock(ctx, "10.0.0.1:33000"))

	holder := meta.Client()
	require.NoError(t, st.Unlock(ctx))
	assert.False(t, st.Locked())

	meta = fake.Meta()
	assert.Empty(t, meta.Client())
	assert.Equal(t, holder, meta[swift.MetaLast])
}

func TestLockBusy(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx, "first"))

	other, err := Open(ctx, fake, 0, false)
	require.NoError(t, err)
	err = other.Lock(ctx, "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, ErrnoEBUSY, Errno(err))

	// The original holder is still recorded.
	assert.Contains(t, fake.Meta().Client(), "first@")
}

func TestUnlockWhenNotLocked(t *testing.T) {
	st, _ := newTestStorage(t)

	assert.NoError(t, st.Unlock(context.Background()))
}

func TestLockPreservesGeometryMeta(t *testing.T) {
	st, fake := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx, "client"))

	meta := fake.Meta()
	objects, err := meta.Objects()
	require.NoError(t, err)
	assert.Equal(t, testObjects, objects)
	assert.Equal(t, strconv.Itoa(testObjectSize), meta[swift.MetaObjectSize])
	assert.Equal(t, DiskVersion, meta.Version())
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err   error
		errno uint32
	}{
		{nil, 0},
		{ErrBusy, ErrnoEBUSY},
		{ErrReadOnly, ErrnoEROFS},
		{ErrInvalidSeek, ErrnoESPIPE},
		{ErrIntegrity, ErrnoEAGAIN},
		{ErrIO, ErrnoEIO},
		{errors.New("anything else"), ErrnoEIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.errno, Errno(tt.err))
	}
}
