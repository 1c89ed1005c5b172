package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("storage: key not found")

// Message is a payload delivered on a pub/sub channel.
type Message struct {
	Channel string
	Payload []byte
}

// Store is the narrow ephemeral key-value surface the presence coordinator
// needs: single keys with TTL, named sets, prefix enumeration and pub/sub.
// No transactional guarantees are assumed across calls.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// GetDel atomically returns and removes the value at key, or ErrNotFound.
	GetDel(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A ttl of zero means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// SetAdd adds member to the named set.
	SetAdd(ctx context.Context, key, member string) error

	// SetRemove removes member from the named set.
	SetRemove(ctx context.Context, key, member string) error

	// SetMembers returns all members of the named set. A missing set is empty.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ScanKeys returns all keys matching a glob pattern such as "prefix:*".
	ScanKeys(ctx context.Context, pattern string) ([]string, error)

	// Publish delivers payload to all current subscribers of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a channel of messages for the given channels. The
	// returned channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context, channels ...string) (<-chan Message, error)
}
