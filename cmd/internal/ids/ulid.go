// Package ids provides the ID primitives used across the client runtime.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// LocalPrefix marks a transient client-generated message id. A prefixed id is
// never a server id, so a stale placeholder can always be removed safely.
const LocalPrefix = "local-"

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable and work well in distributed systems.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewLocalID returns a transient message id for an optimistic placeholder.
func NewLocalID(now time.Time) (string, error) {
	id, err := NewULID(now)
	if err != nil {
		return "", err
	}
	return LocalPrefix + id, nil
}

// IsLocal reports whether id is a transient client-generated id.
func IsLocal(id string) bool {
	return len(id) > len(LocalPrefix) && id[:len(LocalPrefix)] == LocalPrefix
}
