//go:build integration

package zreport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/zreport"
	"fiscalhub/pkg/fiscalerrors"
	"fiscalhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *zreport.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.postgres.Exec(s.T(), `
		CREATE TABLE IF NOT EXISTS z_reports (
			org_id        TEXT NOT NULL,
			site_id       TEXT NOT NULL,
			report_number BIGINT NOT NULL,
			business_date DATE NOT NULL,
			generated_at  TIMESTAMPTZ NOT NULL,
			body          JSONB NOT NULL,
			PRIMARY KEY (org_id, site_id, report_number),
			UNIQUE (org_id, site_id, business_date)
		)`)
	s.store = zreport.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.postgres.Exec(s.T(), "TRUNCATE z_reports")
}

func testReport(key fiscal.SiteKey, date time.Time) *zreport.Report {
	return &zreport.Report{
		Key:              key,
		BusinessDate:     date,
		GeneratedAt:      date.Add(22 * time.Hour),
		GrossSales:       decimal.RequireFromString("45.00"),
		TotalTax:         decimal.RequireFromString("4.50"),
		TransactionCount: 3,
		Signature:        "sig-1",
		DeviceSerial:     "TSE-001",
	}
}

func (s *PostgresStoreSuite) TestCreateNextAssignsSequentialNumbers() {
	ctx := context.Background()
	key := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	other := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-2"}

	for i, date := range []time.Time{
		time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	} {
		created, err := s.store.CreateNext(ctx, testReport(key, date))
		s.Require().NoError(err)
		s.Equal(uint64(i+1), created.ReportNumber)
	}

	// Numbering is independent per site.
	created, err := s.store.CreateNext(ctx, testReport(other, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)))
	s.Require().NoError(err)
	s.Equal(uint64(1), created.ReportNumber)
}

func (s *PostgresStoreSuite) TestConcurrentCreatesGetDistinctNumbers() {
	ctx := context.Background()
	key := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-1"}

	const writers = 8
	numbers := make(chan uint64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		date := time.Date(2026, 3, 1+i, 0, 0, 0, 0, time.UTC)
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.store.CreateNext(ctx, testReport(key, date))
			if err != nil {
				s.T().Errorf("create report: %v", err)
				return
			}
			numbers <- created.ReportNumber
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[uint64]bool)
	for n := range numbers {
		s.False(seen[n], "report number %d assigned twice", n)
		seen[n] = true
	}
	s.Len(seen, writers)
	for n := uint64(1); n <= writers; n++ {
		s.True(seen[n], "missing report number %d", n)
	}
}

func (s *PostgresStoreSuite) TestDuplicateBusinessDateRejected() {
	ctx := context.Background()
	key := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	date := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	_, err := s.store.CreateNext(ctx, testReport(key, date))
	s.Require().NoError(err)

	_, err = s.store.CreateNext(ctx, testReport(key, date))
	s.Require().Error(err)
	s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeAlreadyExists))

	exists, err := s.store.Exists(ctx, key, date)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *PostgresStoreSuite) TestQueries() {
	ctx := context.Background()
	key := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	dates := []time.Time{
		time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}
	for _, date := range dates {
		_, err := s.store.CreateNext(ctx, testReport(key, date))
		s.Require().NoError(err)
	}

	s.Run("by number", func() {
		report, err := s.store.FindByNumber(ctx, key, 2)
		s.Require().NoError(err)
		s.Equal(dates[1], report.BusinessDate.UTC())
		s.True(report.GrossSales.Equal(decimal.RequireFromString("45.00")))
	})

	s.Run("missing number", func() {
		_, err := s.store.FindByNumber(ctx, key, 99)
		s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound))
	})

	s.Run("date range", func() {
		reports, err := s.store.ListByDateRange(ctx, key, dates[0], dates[1])
		s.Require().NoError(err)
		s.Require().Len(reports, 2)
		s.Equal(uint64(1), reports[0].ReportNumber)
		s.Equal(uint64(2), reports[1].ReportNumber)
	})

	s.Run("latest", func() {
		report, err := s.store.Latest(ctx, key)
		s.Require().NoError(err)
		s.Equal(uint64(3), report.ReportNumber)
	})

	s.Run("latest for empty site", func() {
		_, err := s.store.Latest(ctx, fiscal.SiteKey{OrgID: "org-9", SiteID: "site-9"})
		s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound))
	})
}
