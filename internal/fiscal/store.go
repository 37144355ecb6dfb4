package fiscal

import (
	"context"
	"sync"
	"time"

	"fiscalhub/pkg/fiscalerrors"
)

// ConfigStore persists per-site fiscal configuration and counters. Interface
// driven so the router is testable and deployments can choose memory or
// postgres without rewiring business code.
type ConfigStore interface {
	Save(ctx context.Context, cfg *SiteConfig) error
	Find(ctx context.Context, key SiteKey) (*SiteConfig, error)
	ListByOrg(ctx context.Context, orgID string) ([]*SiteConfig, error)
}

// InMemoryConfigStore keeps configuration in memory for tests/dev.
type InMemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[SiteKey]*SiteConfig
}

// NewInMemoryConfigStore constructs an empty config store.
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{configs: make(map[SiteKey]*SiteConfig)}
}

func (s *InMemoryConfigStore) Save(_ context.Context, cfg *SiteConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.UpdatedAt = time.Now().UTC()
	s.configs[cfg.Key] = &cp
	return nil
}

func (s *InMemoryConfigStore) Find(_ context.Context, key SiteKey) (*SiteConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "site %s not configured", key)
	}
	cp := *cfg
	return &cp, nil
}

func (s *InMemoryConfigStore) ListByOrg(_ context.Context, orgID string) ([]*SiteConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SiteConfig
	for key, cfg := range s.configs {
		if key.OrgID == orgID {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ ConfigStore = (*InMemoryConfigStore)(nil)
