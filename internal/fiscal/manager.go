package fiscal

import (
	"context"
	"log/slog"
	"sync"

	"fiscalhub/internal/platform/metrics"
	"fiscalhub/pkg/fiscalerrors"
)

// Manager hands out the single Router owning each (org, site) key. It
// reproduces the one-active-instance-per-key guarantee: every caller for the
// same site gets the same Router value, whose internal mutex serializes all
// mutation for that site. Sites never block each other.
type Manager struct {
	store   ConfigStore
	factory AdapterFactory
	logger  *slog.Logger
	metrics *metrics.Metrics
	events  EventSink

	mu      sync.Mutex
	routers map[SiteKey]*Router
}

// NewManager constructs a Manager. A nil sink disables event publishing.
func NewManager(store ConfigStore, factory AdapterFactory, logger *slog.Logger, m *metrics.Metrics, events EventSink) *Manager {
	if events == nil {
		events = NopSink{}
	}
	return &Manager{
		store:   store,
		factory: factory,
		logger:  logger,
		metrics: m,
		events:  events,
		routers: make(map[SiteKey]*Router),
	}
}

// Router returns the owner for a site, creating it on first use. On creation
// the persisted configuration is loaded and, when enabled, the adapter is
// re-initialized, so a process restart recovers the site's live state.
func (m *Manager) Router(ctx context.Context, key SiteKey) (*Router, error) {
	m.mu.Lock()
	if r, ok := m.routers[key]; ok {
		m.mu.Unlock()
		return r, nil
	}
	r := &Router{
		key:     key,
		store:   m.store,
		factory: m.factory,
		logger:  m.logger,
		metrics: m.metrics,
		events:  m.events,
	}
	m.routers[key] = r
	m.mu.Unlock()

	if err := r.restore(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Sites lists the keys of an organization's configured sites from the store,
// not just the routers already materialized in memory.
func (m *Manager) Sites(ctx context.Context, orgID string) ([]SiteKey, error) {
	configs, err := m.store.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	keys := make([]SiteKey, 0, len(configs))
	for _, cfg := range configs {
		keys = append(keys, cfg.Key)
	}
	return keys, nil
}

// restore loads persisted state into a fresh router. An unconfigured site is
// fine; it stays in the Unconfigured state.
func (r *Router) restore(ctx context.Context) error {
	cfg, err := r.store.Find(ctx, r.key)
	if err != nil {
		if fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound) {
			return nil
		}
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	if !cfg.Enabled {
		return nil
	}

	adapter, err := r.factory.Build(cfg.DeviceType, cfg.Settings)
	if err != nil {
		// Persisted config referencing an unknown device type: surface via
		// LastError instead of refusing to materialize the owner.
		cfg.LastError = err.Error()
		r.logger.Error("cannot rebuild adapter from persisted config",
			"site", r.key.String(), "error", err)
		return nil
	}
	if err := adapter.Connect(ctx); err != nil {
		cfg.LastError = err.Error()
		r.logger.Warn("device reconnect failed on restore", "site", r.key.String(), "error", err)
	}
	r.adapter = adapter
	return nil
}
