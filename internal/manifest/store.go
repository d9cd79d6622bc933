package manifest

import (
	"context"
	"errors"
	"fmt"

	"github.com/darkace1998/PostureLens/internal/config"
	"github.com/darkace1998/PostureLens/internal/model"
)

var (
	// ErrDuplicateVersion is returned when a manifest with the same tenant
	// and version already exists. The existing manifest is left untouched.
	ErrDuplicateVersion = errors.New("duplicate manifest version")
	// ErrNotFound is returned when no manifest matches.
	ErrNotFound = errors.New("manifest not found")
)

// Store is the append-only manifest repository. Implementations hand out
// copies, so callers can never edit a persisted manifest in place.
type Store interface {
	// Append persists m. It fails with ErrDuplicateVersion if the tenant
	// already has a manifest with m.Version.
	Append(ctx context.Context, m *model.Manifest) error

	// Get returns the tenant's manifest with the given assessment id.
	Get(ctx context.Context, tenantID, assessmentID string) (*model.Manifest, error)

	// Latest returns the tenant's most recent manifest by version.
	Latest(ctx context.Context, tenantID string) (*model.Manifest, error)

	// List returns references to the tenant's manifests ordered by
	// captured_at, oldest first.
	List(ctx context.Context, tenantID string) ([]model.ManifestRef, error)

	// Close releases any resources held by the store.
	Close() error
}

// Open creates the store selected by cfg.Driver.
func Open(cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "memory":
		return NewMemory(), nil
	case "", "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
