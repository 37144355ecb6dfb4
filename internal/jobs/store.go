package jobs

import (
	"context"
	"sync"
	"time"

	"fiscalhub/internal/fiscal"
	"fiscalhub/pkg/fiscalerrors"
)

// ConfigStore persists per-site job schedules.
type ConfigStore interface {
	Save(ctx context.Context, cfg *SiteJobConfig) error
	Find(ctx context.Context, key fiscal.SiteKey) (*SiteJobConfig, error)
	ListByOrg(ctx context.Context, orgID string) ([]*SiteJobConfig, error)
}

// RunRecorder suppresses duplicate job executions. MarkRun is atomic
// check-and-set: it reports whether this call was the first for the key.
// Keys embed job type, site, and the business date being processed, so a
// late-arriving legitimate run for a different date is never suppressed.
type RunRecorder interface {
	MarkRun(ctx context.Context, runKey string) (first bool, err error)
	HasRun(ctx context.Context, runKey string) (bool, error)
}

// HistoryStore appends bounded execution history per organization.
type HistoryStore interface {
	// Append stores the entry and trims the organization's history to at
	// most limit entries, evicting oldest first.
	Append(ctx context.Context, orgID string, entry *HistoryEntry, limit int) error
	List(ctx context.Context, orgID string, max int) ([]*HistoryEntry, error)
}

// ScheduleStore persists durable timer due times. The next due time is
// written before the timer acts, so a crash fails toward "ran extra,
// suppressed by run key" rather than "silently never ran".
type ScheduleStore interface {
	NextDue(ctx context.Context, timerID string) (time.Time, error)
	SetNextDue(ctx context.Context, timerID string, due time.Time) error
}

// ---- in-memory implementations (tests/dev) ----

// InMemoryConfigStore keeps job configs in memory.
type InMemoryConfigStore struct {
	mu      sync.RWMutex
	configs map[fiscal.SiteKey]*SiteJobConfig
}

func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{configs: make(map[fiscal.SiteKey]*SiteJobConfig)}
}

func (s *InMemoryConfigStore) Save(_ context.Context, cfg *SiteJobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.UpdatedAt = time.Now().UTC()
	s.configs[cfg.Key] = &cp
	return nil
}

func (s *InMemoryConfigStore) Find(_ context.Context, key fiscal.SiteKey) (*SiteJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[key]
	if !ok {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "no job config for site %s", key)
	}
	cp := *cfg
	return &cp, nil
}

func (s *InMemoryConfigStore) ListByOrg(_ context.Context, orgID string) ([]*SiteJobConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*SiteJobConfig
	for key, cfg := range s.configs {
		if key.OrgID == orgID {
			cp := *cfg
			out = append(out, &cp)
		}
	}
	return out, nil
}

// InMemoryRunRecorder keeps run keys in memory.
type InMemoryRunRecorder struct {
	mu   sync.Mutex
	runs map[string]bool
}

func NewInMemoryRunRecorder() *InMemoryRunRecorder {
	return &InMemoryRunRecorder{runs: make(map[string]bool)}
}

func (r *InMemoryRunRecorder) MarkRun(_ context.Context, runKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[runKey] {
		return false, nil
	}
	r.runs[runKey] = true
	return true, nil
}

func (r *InMemoryRunRecorder) HasRun(_ context.Context, runKey string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runKey], nil
}

// InMemoryHistoryStore keeps bounded history in memory.
type InMemoryHistoryStore struct {
	mu      sync.Mutex
	entries map[string][]*HistoryEntry
}

func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{entries: make(map[string][]*HistoryEntry)}
}

func (s *InMemoryHistoryStore) Append(_ context.Context, orgID string, entry *HistoryEntry, limit int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	list := append(s.entries[orgID], &cp)
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	s.entries[orgID] = list
	return nil
}

// List returns entries newest first.
func (s *InMemoryHistoryStore) List(_ context.Context, orgID string, max int) ([]*HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[orgID]
	if max > 0 && len(list) > max {
		list = list[len(list)-max:]
	}
	out := make([]*HistoryEntry, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

// InMemoryScheduleStore keeps timer due times in memory. Only suitable for
// tests: it defeats the crash-survival property the redis/postgres
// implementations exist for.
type InMemoryScheduleStore struct {
	mu  sync.Mutex
	due map[string]time.Time
}

func NewInMemoryScheduleStore() *InMemoryScheduleStore {
	return &InMemoryScheduleStore{due: make(map[string]time.Time)}
}

func (s *InMemoryScheduleStore) NextDue(_ context.Context, timerID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.due[timerID], nil
}

func (s *InMemoryScheduleStore) SetNextDue(_ context.Context, timerID string, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.due[timerID] = due
	return nil
}

var (
	_ ConfigStore   = (*InMemoryConfigStore)(nil)
	_ RunRecorder   = (*InMemoryRunRecorder)(nil)
	_ HistoryStore  = (*InMemoryHistoryStore)(nil)
	_ ScheduleStore = (*InMemoryScheduleStore)(nil)
)
