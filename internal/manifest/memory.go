package manifest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/darkace1998/PostureLens/internal/model"
)

// Memory is a thread-safe in-memory Store, used for tests and demo runs.
type Memory struct {
	mu       sync.RWMutex
	byTenant map[string][]*model.Manifest
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{byTenant: make(map[string][]*model.Manifest)}
}

// Append implements Store.
func (s *Memory) Append(_ context.Context, m *model.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, x := range s.byTenant[m.TenantID] {
		if x.Version == m.Version {
			return fmt.Errorf("%w: tenant %s version %d", ErrDuplicateVersion, m.TenantID, m.Version)
		}
		if x.AssessmentID == m.AssessmentID {
			return fmt.Errorf("assessment %s already stored", m.AssessmentID)
		}
	}
	s.byTenant[m.TenantID] = append(s.byTenant[m.TenantID], m.Clone())
	return nil
}

// Get implements Store.
func (s *Memory) Get(_ context.Context, tenantID, assessmentID string) (*model.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.byTenant[tenantID] {
		if m.AssessmentID == assessmentID {
			return m.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tenantID, assessmentID)
}

// Latest implements Store.
func (s *Memory) Latest(_ context.Context, tenantID string) (*model.Manifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *model.Manifest
	for _, m := range s.byTenant[tenantID] {
		if latest == nil || m.Version > latest.Version {
			latest = m
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no manifests for tenant %s", ErrNotFound, tenantID)
	}
	return latest.Clone(), nil
}

// List implements Store.
func (s *Memory) List(_ context.Context, tenantID string) ([]model.ManifestRef, error) {
	s.mu.RLock()
	refs := make([]model.ManifestRef, 0, len(s.byTenant[tenantID]))
	for _, m := range s.byTenant[tenantID] {
		refs = append(refs, m.Ref())
	}
	s.mu.RUnlock()

	sortRefs(refs)
	return refs, nil
}

// Close is a no-op for the in-memory store (satisfies the Store interface).
func (s *Memory) Close() error {
	return nil
}

func sortRefs(refs []model.ManifestRef) {
	sort.Slice(refs, func(i, j int) bool {
		if !refs[i].CapturedAt.Equal(refs[j].CapturedAt) {
			return refs[i].CapturedAt.Before(refs[j].CapturedAt)
		}
		return refs[i].Version < refs[j].Version
	})
}
