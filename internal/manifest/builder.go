package manifest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/darkace1998/PostureLens/internal/logging"
	"github.com/darkace1998/PostureLens/internal/model"
)

// Builder assigns identity and version to draft manifests and appends them
// to a Store. Builds for one tenant are serialized so versions are unique
// and sequential; different tenants proceed in parallel.
type Builder struct {
	store Store
	log   *logging.Logger
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewBuilder creates a Builder appending to store.
func NewBuilder(store Store, log *logging.Logger) *Builder {
	if log == nil {
		log = logging.Default()
	}
	return &Builder{
		store: store,
		log:   log.Named("manifest"),
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

func (b *Builder) tenantLock(tenantID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[tenantID] = l
	}
	return l
}

// Prepare completes a manifest before it is stored. prev is the tenant's
// latest manifest, or nil for the first one. It runs under the tenant's build
// lock, so prev is still the latest manifest when m is appended. Changes to
// the tenant, id or version of m are discarded.
type Prepare func(prev, m *model.Manifest) error

// Build stamps draft with a fresh assessment id and the tenant's next
// version, persists it and returns the stored copy. The draft itself is not
// modified. A zero CapturedAt is set to the current time.
func (b *Builder) Build(ctx context.Context, draft *model.Manifest) (*model.Manifest, error) {
	return b.BuildWith(ctx, draft, nil)
}

// BuildWith is Build with prepare run on the stamped copy before it is
// appended. An error from prepare aborts the build and stores nothing.
func (b *Builder) BuildWith(ctx context.Context, draft *model.Manifest, prepare Prepare) (*model.Manifest, error) {
	if draft == nil || draft.TenantID == "" {
		return nil, errors.New("manifest: draft without tenant")
	}

	l := b.tenantLock(draft.TenantID)
	l.Lock()
	defer l.Unlock()

	version := 1
	prev, err := b.store.Latest(ctx, draft.TenantID)
	switch {
	case err == nil:
		version = prev.Version + 1
	case errors.Is(err, ErrNotFound):
		prev = nil
	default:
		return nil, fmt.Errorf("tenant %s: reading latest manifest: %w", draft.TenantID, err)
	}

	m := draft.Clone()
	id := uuid.NewString()
	m.AssessmentID = id
	m.Version = version
	if m.CapturedAt.IsZero() {
		m.CapturedAt = b.now().UTC()
	}
	if prepare != nil {
		if err := prepare(prev, m); err != nil {
			return nil, fmt.Errorf("tenant %s: preparing manifest: %w", draft.TenantID, err)
		}
		m.TenantID, m.AssessmentID, m.Version = draft.TenantID, id, version
	}
	if m.Snapshot.TenantID == "" {
		m.Snapshot.TenantID = m.TenantID
	}

	if err := b.store.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", m.TenantID, err)
	}
	b.log.Info("tenant %s: stored manifest v%d (%s) grade=%s", m.TenantID, m.Version, m.AssessmentID, gradeLabel(m.Scores.OverallGrade))
	return m.Clone(), nil
}

func gradeLabel(g string) string {
	if g == "" {
		return "n/a"
	}
	return g
}
