// Package companyconfig loads per-company agent documents into immutable,
// generation-stamped snapshots and invalidates them when inputs change.
package companyconfig

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"agent-engine/internal/models"
)

// ErrNotFound is returned by a Source when the company has no document.
var ErrNotFound = stderrors.New("company config not found")

// Source fetches the current document of one company. Implementations must
// return a value the caller may keep; the loader never mutates it.
type Source interface {
	Fetch(ctx context.Context, companyID string) (*models.CompanyConfig, error)
}

// Lister enumerates the companies a Source holds documents for.
type Lister interface {
	ListCompanies(ctx context.Context) ([]string, error)
}

// FlagWriter persists a company-scoped feature flag.
type FlagWriter interface {
	SetFeatureFlag(ctx context.Context, companyID, flag string, enabled bool) error
}

// Invalidator drops a company's snapshot. origin is recorded for metrics.
type Invalidator interface {
	InvalidateCompany(ctx context.Context, companyID, origin string) error
}

// Invalidation origins.
const (
	OriginToggle   = "booking_toggle"
	OriginEvent    = "config_event"
	OriginFile     = "file_watch"
	OriginPeer     = "peer"
	OriginOperator = "operator"
)

// MemorySource keeps documents in memory. Used by tests and tools.
type MemorySource struct {
	mu   sync.RWMutex
	docs map[string]*models.CompanyConfig
}

func NewMemorySource(docs ...*models.CompanyConfig) *MemorySource {
	s := &MemorySource{docs: make(map[string]*models.CompanyConfig)}
	for _, d := range docs {
		s.Put(d)
	}
	return s
}

// Put stores a copy of cfg.
func (s *MemorySource) Put(cfg *models.CompanyConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[cfg.CompanyID] = cfg.Clone()
}

func (s *MemorySource) Delete(companyID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, companyID)
}

func (s *MemorySource) Fetch(_ context.Context, companyID string) (*models.CompanyConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.docs[companyID]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg.Clone(), nil
}

func (s *MemorySource) ListCompanies(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemorySource) SetFeatureFlag(_ context.Context, companyID, flag string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.docs[companyID]
	if !ok {
		return ErrNotFound
	}
	next := cfg.Clone()
	if next.FeatureFlags == nil {
		next.FeatureFlags = make(map[string]bool)
	}
	next.FeatureFlags[flag] = enabled
	s.docs[companyID] = next
	return nil
}
