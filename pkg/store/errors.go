package store

import (
	"errors"
	"fmt"
)

// POSIX errno values used in NBD error replies. The NBD protocol transports
// Linux errno numbers regardless of the host platform.
const (
	ErrnoEIO    uint32 = 5
	ErrnoEAGAIN uint32 = 11
	ErrnoEBUSY  uint32 = 16
	ErrnoESPIPE uint32 = 29
	ErrnoEROFS  uint32 = 30
)

// Sentinel errors returned by Storage operations. The NBD adapter maps them
// to reply error codes via Errno.
var (
	// ErrBusy indicates the container is locked by another client.
	ErrBusy = errors.New("storage already in use")

	// ErrReadOnly indicates a write against a read-only export.
	ErrReadOnly = errors.New("read only storage")

	// ErrInvalidSeek indicates an offset outside [0, size] or a write past
	// the end of the disk.
	ErrInvalidSeek = errors.New("offset out of bounds")

	// ErrIntegrity indicates an ETag mismatch after a PUT. The write may
	// succeed if retried.
	ErrIntegrity = errors.New("object integrity error")

	// ErrIO indicates an object-store transport failure or a corrupt
	// (wrong-size) object.
	ErrIO = errors.New("storage I/O error")

	// ErrNotSetup indicates the container carries no (or partial) swiftnbd
	// metadata.
	ErrNotSetup = errors.New("container is not set up")

	// ErrVersion indicates an unsupported disk format major version.
	ErrVersion = errors.New("unsupported disk format version")
)

// Errno returns the NBD reply error code for a storage error, or 0 for nil.
// Unrecognized errors are reported as EIO.
func Errno(err error) uint32 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrBusy):
		return ErrnoEBUSY
	case errors.Is(err, ErrReadOnly):
		return ErrnoEROFS
	case errors.Is(err, ErrInvalidSeek):
		return ErrnoESPIPE
	case errors.Is(err, ErrIntegrity):
		return ErrnoEAGAIN
	default:
		return ErrnoEIO
	}
}

// opError wraps a cause under one of the sentinel categories above, keeping
// both matchable with errors.Is.
func opError(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}
