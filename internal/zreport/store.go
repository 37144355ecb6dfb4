package zreport

import (
	"context"
	"sync"
	"time"

	"fiscalhub/internal/fiscal"
	"fiscalhub/pkg/fiscalerrors"
)

// Store persists reports. CreateNext owns the number sequence: it assigns
// the next report number and persists the report as one unit, so no two
// reports of a site can ever share a number and no number is ever skipped.
type Store interface {
	// CreateNext assigns the next report number and persists the report.
	// Returns CodeAlreadyExists when the business date already has one.
	CreateNext(ctx context.Context, report *Report) (*Report, error)

	Exists(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) (bool, error)
	FindByNumber(ctx context.Context, key fiscal.SiteKey, number uint64) (*Report, error)
	ListByDateRange(ctx context.Context, key fiscal.SiteKey, start, end time.Time) ([]*Report, error)
	Latest(ctx context.Context, key fiscal.SiteKey) (*Report, error)
}

// dateKey normalizes a business date to its calendar day.
func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// InMemoryStore keeps reports in memory for tests/dev.
type InMemoryStore struct {
	mu      sync.Mutex
	reports map[fiscal.SiteKey][]*Report
	byDate  map[fiscal.SiteKey]map[string]bool
}

// NewInMemoryStore constructs an empty report store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		reports: make(map[fiscal.SiteKey][]*Report),
		byDate:  make(map[fiscal.SiteKey]map[string]bool),
	}
}

func (s *InMemoryStore) CreateNext(_ context.Context, report *Report) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dateKey(report.BusinessDate)
	if s.byDate[report.Key][day] {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeAlreadyExists,
			"report for %s already exists at site %s", day, report.Key)
	}

	cp := *report
	cp.ReportNumber = uint64(len(s.reports[report.Key])) + 1
	s.reports[report.Key] = append(s.reports[report.Key], &cp)
	if s.byDate[report.Key] == nil {
		s.byDate[report.Key] = make(map[string]bool)
	}
	s.byDate[report.Key][day] = true

	out := cp
	return &out, nil
}

func (s *InMemoryStore) Exists(_ context.Context, key fiscal.SiteKey, businessDate time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byDate[key][dateKey(businessDate)], nil
}

func (s *InMemoryStore) FindByNumber(_ context.Context, key fiscal.SiteKey, number uint64) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reports[key] {
		if r.ReportNumber == number {
			cp := *r
			return &cp, nil
		}
	}
	return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "report %d at site %s", number, key)
}

func (s *InMemoryStore) ListByDateRange(_ context.Context, key fiscal.SiteKey, start, end time.Time) ([]*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Report
	for _, r := range s.reports[key] {
		if r.BusinessDate.Before(start) || r.BusinessDate.After(end) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) Latest(_ context.Context, key fiscal.SiteKey) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.reports[key]
	if len(list) == 0 {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "no reports at site %s", key)
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

// Count reports how many reports a site holds; used by tests.
func (s *InMemoryStore) Count(key fiscal.SiteKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reports[key])
}

var _ Store = (*InMemoryStore)(nil)
