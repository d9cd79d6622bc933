package cache

import (
	"context"
	"strings"
	"time"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Entry is one cached upstream payload.
type Entry struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"stored_at"`
}

// Cache is a keyed store of upstream payloads. Entries mirror upstream
// truth and are never authoritative, so concurrent writers for the same key
// resolve last-writer-wins. Implementations must hand out copies so that a
// reader never observes a payload being overwritten.
type Cache interface {
	// Get returns the entry for key. A missing or expired entry is reported
	// with ok == false and a nil error.
	Get(ctx context.Context, key string) (e Entry, ok bool, err error)
	// Set stores e under key; the backend may drop it after ttl.
	Set(ctx context.Context, key string, e Entry, ttl time.Duration) error
	// Close releases any resources held by the backend.
	Close() error
}

// Key builds the cache key for a tenant's domain payload.
func Key(tenantID string, domain model.Domain) string {
	return tenantID + "|" + string(domain)
}

// Invalidator is implemented by caches that can drop every payload of one
// tenant, for example after the tenant's consent has been withdrawn.
type Invalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string) (int, error)
}

// tenantOwns reports whether key was built by Key for tenantID. A tenant id
// that is a prefix of another one does not own the other tenant's keys.
func tenantOwns(key, tenantID string) bool {
	rest, ok := strings.CutPrefix(key, tenantID+"|")
	return ok && rest != "" && !strings.Contains(rest, "|")
}
