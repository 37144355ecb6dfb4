package zreport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/ledger"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/pkg/fiscalerrors"
)

// flakyRegistry surfaces extra transaction IDs whose lookup always fails, to
// exercise the skip-and-log path.
type flakyRegistry struct {
	*ledger.InMemoryRegistry
	brokenIDs []string
}

func (f *flakyRegistry) TransactionIDs(ctx context.Context, start, end time.Time, filter string) ([]string, error) {
	ids, err := f.InMemoryRegistry.TransactionIDs(ctx, start, end, filter)
	if err != nil {
		return nil, err
	}
	return append(ids, f.brokenIDs...), nil
}

type GeneratorSuite struct {
	suite.Suite
	registry  *flakyRegistry
	store     *InMemoryStore
	generator *Generator
	key       fiscal.SiteKey
	day       time.Time
}

func (s *GeneratorSuite) SetupTest() {
	s.registry = &flakyRegistry{InMemoryRegistry: ledger.NewInMemoryRegistry()}
	s.store = NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.generator = NewGenerator(s.registry, s.store, logger, metrics.NewWith(prometheus.NewRegistry()),
		WithClock(func() time.Time { return time.Date(2026, 3, 15, 6, 0, 0, 0, time.UTC) }))
	s.key = fiscal.SiteKey{OrgID: "org-1", SiteID: "site-1"}
	s.day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
}

func TestGeneratorSuite(t *testing.T) {
	suite.Run(t, new(GeneratorSuite))
}

func (s *GeneratorSuite) sale(id string, gross, tax, net string, payment string) {
	s.registry.Record(&ledger.Transaction{
		ID:           id,
		Site:         s.key.String(),
		Type:         ledger.TypeSale,
		GrossAmount:  decimal.RequireFromString(gross),
		TaxAmounts:   map[string]decimal.Decimal{"10%": decimal.RequireFromString(tax)},
		NetAmounts:   map[string]decimal.Decimal{"10%": decimal.RequireFromString(net)},
		PaymentTypes: map[string]decimal.Decimal{payment: decimal.RequireFromString(gross)},
		RecordedAt:   s.day.Add(10 * time.Hour),
	})
}

func (s *GeneratorSuite) TestAggregation() {
	s.sale("tx-1", "10.00", "1.00", "9.00", "cash")
	s.sale("tx-2", "20.00", "2.00", "18.00", "card")
	s.sale("tx-3", "15.00", "1.50", "13.50", "card")
	s.registry.Record(&ledger.Transaction{
		ID:          "tx-4",
		Site:        s.key.String(),
		Type:        ledger.TypeVoid,
		GrossAmount: decimal.RequireFromString("5.00"),
		RecordedAt:  s.day.Add(12 * time.Hour),
	})

	report, err := s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().NoError(err)

	s.Equal(uint64(1), report.ReportNumber)
	s.Equal(3, report.TransactionCount)
	s.Equal(1, report.VoidCount)
	s.True(report.GrossSales.Equal(decimal.RequireFromString("45.00")), report.GrossSales.String())
	s.True(report.TotalTax.Equal(decimal.RequireFromString("4.50")), report.TotalTax.String())
	s.True(report.VoidTotal.Equal(decimal.RequireFromString("5.00")), report.VoidTotal.String())
	s.True(report.SalesByVatRate["10%"].Equal(decimal.RequireFromString("40.50")))
	s.True(report.TaxByVatRate["10%"].Equal(decimal.RequireFromString("4.50")))
	s.True(report.SalesByPaymentType["cash"].Equal(decimal.RequireFromString("10.00")))
	s.True(report.SalesByPaymentType["card"].Equal(decimal.RequireFromString("35.00")))
	s.Zero(report.SkippedTransactions)
}

func (s *GeneratorSuite) TestOtherSitesAreExcluded() {
	s.sale("tx-1", "10.00", "1.00", "9.00", "cash")
	s.registry.Record(&ledger.Transaction{
		ID:          "tx-other",
		Site:        "org-1/site-2",
		Type:        ledger.TypeSale,
		GrossAmount: decimal.RequireFromString("99.00"),
		RecordedAt:  s.day.Add(10 * time.Hour),
	})

	report, err := s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().NoError(err)
	s.Equal(1, report.TransactionCount)
	s.True(report.GrossSales.Equal(decimal.RequireFromString("10.00")))
}

func (s *GeneratorSuite) TestDuplicateDateLeavesStoreUntouched() {
	s.sale("tx-1", "10.00", "1.00", "9.00", "cash")

	_, err := s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().NoError(err)
	s.Equal(1, s.store.Count(s.key))

	_, err = s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().Error(err)
	s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeAlreadyExists))
	s.Equal(1, s.store.Count(s.key))
}

func (s *GeneratorSuite) TestNumbersAreSequentialPerSite() {
	other := fiscal.SiteKey{OrgID: "org-1", SiteID: "site-2"}
	for i := 0; i < 3; i++ {
		day := s.day.AddDate(0, 0, i)
		report, err := s.generator.Generate(context.Background(), s.key, day)
		s.Require().NoError(err)
		s.Equal(uint64(i+1), report.ReportNumber)
	}

	report, err := s.generator.Generate(context.Background(), other, s.day)
	s.Require().NoError(err)
	s.Equal(uint64(1), report.ReportNumber)
}

func (s *GeneratorSuite) TestUnreadableTransactionsAreSkipped() {
	s.sale("tx-1", "10.00", "1.00", "9.00", "cash")
	s.registry.brokenIDs = []string{"tx-ghost"}

	report, err := s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().NoError(err)
	s.Equal(1, report.TransactionCount)
	s.Equal(1, report.SkippedTransactions)
	s.True(report.GrossSales.Equal(decimal.RequireFromString("10.00")))
}

func (s *GeneratorSuite) TestQueries() {
	report, err := s.generator.Generate(context.Background(), s.key, s.day)
	s.Require().NoError(err)

	s.Run("by number", func() {
		found, err := s.generator.ByNumber(context.Background(), s.key, report.ReportNumber)
		s.Require().NoError(err)
		s.Equal(report.BusinessDate, found.BusinessDate)

		_, err = s.generator.ByNumber(context.Background(), s.key, 99)
		s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound))
	})

	s.Run("by date range rejects inverted ranges", func() {
		_, err := s.generator.ByDateRange(context.Background(), s.key, s.day, s.day.AddDate(0, 0, -1))
		s.Require().Error(err)
		s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeBadRequest))
	})

	s.Run("by date range finds the report", func() {
		reports, err := s.generator.ByDateRange(context.Background(), s.key, s.day.AddDate(0, 0, -1), s.day.AddDate(0, 0, 1))
		s.Require().NoError(err)
		s.Len(reports, 1)
	})

	s.Run("latest", func() {
		latest, err := s.generator.Latest(context.Background(), s.key)
		s.Require().NoError(err)
		s.Equal(report.ReportNumber, latest.ReportNumber)

		_, err = s.generator.Latest(context.Background(), fiscal.SiteKey{OrgID: "org-2", SiteID: "x"})
		s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound))
	})
}
