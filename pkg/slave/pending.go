package slave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const pendingKeyPrefix = "gss:pending-deletion:"

// PendingDeletions remembers the cloud id of an account between the
// pre-delete signal and the actual deletion, so the registry entry can
// still be removed once the local row is gone. Entries are consumed once
// and expire on their own; deleting an account nobody marked is a no-op.
type PendingDeletions interface {
	Mark(ctx context.Context, uid, cloudID string) error
	Take(ctx context.Context, uid string) (cloudID string, ok bool, err error)
}

type memoryEntry struct {
	cloudID string
	expires time.Time
}

// MemoryPendingDeletions is the in-process store used when no Redis is
// configured. Single-instance deployments only.
type MemoryPendingDeletions struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryPendingDeletions creates the in-process store.
func NewMemoryPendingDeletions(ttl time.Duration) *MemoryPendingDeletions {
	return &MemoryPendingDeletions{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// Mark implements PendingDeletions.
func (m *MemoryPendingDeletions) Mark(_ context.Context, uid, cloudID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[uid] = memoryEntry{cloudID: cloudID, expires: m.now().Add(m.ttl)}

	// drop whatever expired while we are here
	for key, entry := range m.entries {
		if m.now().After(entry.expires) {
			delete(m.entries, key)
		}
	}
	return nil
}

// Take implements PendingDeletions.
func (m *MemoryPendingDeletions) Take(_ context.Context, uid string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[uid]
	if !ok {
		return "", false, nil
	}
	delete(m.entries, uid)

	if m.now().After(entry.expires) {
		return "", false, nil
	}
	return entry.cloudID, true, nil
}

// RedisPendingDeletions shares the pending marks across instances behind a
// load balancer; the pre-delete and delete signals may hit different
// processes.
type RedisPendingDeletions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPendingDeletions creates the Redis backed store.
func NewRedisPendingDeletions(client *redis.Client, ttl time.Duration) *RedisPendingDeletions {
	return &RedisPendingDeletions{client: client, ttl: ttl}
}

// Mark implements PendingDeletions.
func (r *RedisPendingDeletions) Mark(ctx context.Context, uid, cloudID string) error {
	return r.client.Set(ctx, pendingKeyPrefix+uid, cloudID, r.ttl).Err()
}

// Take implements PendingDeletions.
func (r *RedisPendingDeletions) Take(ctx context.Context, uid string) (string, bool, error) {
	cloudID, err := r.client.GetDel(ctx, pendingKeyPrefix+uid).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cloudID, true, nil
}
