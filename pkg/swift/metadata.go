package swift

import (
	"fmt"
	"strconv"
	"strings"
)

// MetaPrefix is the header prefix for all swiftnbd container metadata.
const MetaPrefix = "x-container-meta-swiftnbd-"

// Keys recognized in container metadata.
const (
	MetaVersion    = "version"
	MetaObjects    = "objects"
	MetaObjectSize = "object-size"
	MetaClient     = "client"
	MetaLast       = "last"
)

// requiredMeta are the keys a container must carry to count as set up.
var requiredMeta = []string{MetaVersion, MetaObjects, MetaObjectSize}

// Metadata is the swiftnbd key set stored as container metadata, without
// the header prefix.
type Metadata map[string]string

// ParseMeta extracts swiftnbd metadata from a container header map.
// Header keys are matched case-insensitively. If any of the required keys
// (version, objects, object-size) is missing, the container has not been
// set up and an empty map is returned.
func ParseMeta(headers map[string]string) Metadata {
	meta := make(Metadata)
	for key, value := range headers {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, MetaPrefix) {
			meta[lower[len(MetaPrefix):]] = value
		}
	}
	for _, key := range requiredMeta {
		if _, ok := meta[key]; !ok {
			return Metadata{}
		}
	}
	return meta
}

// Headers converts the metadata back into prefixed container headers.
func (m Metadata) Headers() map[string]string {
	headers := make(map[string]string, len(m))
	for key, value := range m {
		headers[MetaPrefix+key] = value
	}
	return headers
}

// Objects returns the object count.
func (m Metadata) Objects() (int, error) {
	n, err := strconv.Atoi(m[MetaObjects])
	if err != nil {
		return 0, fmt.Errorf("invalid objects metadata %q: %w", m[MetaObjects], err)
	}
	return n, nil
}

// ObjectSize returns the object size in bytes.
func (m Metadata) ObjectSize() (int, error) {
	n, err := strconv.Atoi(m[MetaObjectSize])
	if err != nil {
		return 0, fmt.Errorf("invalid object-size metadata %q: %w", m[MetaObjectSize], err)
	}
	return n, nil
}

// Version returns the disk format version string.
func (m Metadata) Version() string {
	return m[MetaVersion]
}

// Client returns the current lock holder ("" when unlocked).
func (m Metadata) Client() string {
	return m[MetaClient]
}

// MajorVersion returns the component of a disk version string before the
// first dot.
func MajorVersion(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}
