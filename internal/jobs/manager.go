package jobs

import (
	"context"
	"log/slog"
	"sync"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/internal/zreport"
)

// Manager hands out the single Runner owning each organization and starts
// its schedule loop on first use.
type Manager struct {
	baseCtx   context.Context
	manager   *fiscal.Manager
	generator *zreport.Generator
	configs   ConfigStore
	recorder  RunRecorder
	history   HistoryStore
	schedule  ScheduleStore
	logger    *slog.Logger
	metrics   *metrics.Metrics
	opts      []RunnerOption

	mu      sync.Mutex
	runners map[string]*Runner
}

// NewManager constructs the per-organization runner manager. baseCtx bounds
// the lifetime of every schedule loop started here.
func NewManager(
	baseCtx context.Context,
	fiscalManager *fiscal.Manager,
	generator *zreport.Generator,
	configs ConfigStore,
	recorder RunRecorder,
	history HistoryStore,
	schedule ScheduleStore,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...RunnerOption,
) *Manager {
	return &Manager{
		baseCtx:   baseCtx,
		manager:   fiscalManager,
		generator: generator,
		configs:   configs,
		recorder:  recorder,
		history:   history,
		schedule:  schedule,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		runners:   make(map[string]*Runner),
	}
}

// Runner returns the organization's runner, creating it and starting its
// durable timers on first use.
func (m *Manager) Runner(orgID string) *Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[orgID]; ok {
		return r
	}
	r := NewRunner(orgID, m.manager, m.generator, m.configs, m.recorder,
		m.history, m.schedule, m.logger, m.metrics, m.opts...)
	m.runners[orgID] = r

	go func() {
		if err := r.Run(m.baseCtx); err != nil && m.baseCtx.Err() == nil {
			m.logger.Error("job runner stopped", "org", orgID, "error", err)
		}
	}()
	return r
}
