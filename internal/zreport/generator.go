package zreport

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/fiscal"
	"fiscalhub/internal/ledger"
	"fiscalhub/internal/platform/metrics"
	"fiscalhub/pkg/fiscalerrors"
)

// Generator aggregates a business date's signed transactions into a report.
// One generator serves all sites; per-site ordering comes from the store's
// number assignment, not from the generator.
type Generator struct {
	registry ledger.Registry
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// Option configures the Generator.
type Option func(*Generator)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) Option {
	return func(g *Generator) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// NewGenerator constructs a Generator.
func NewGenerator(registry ledger.Registry, store Store, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Generator {
	g := &Generator{
		registry: registry,
		store:    store,
		logger:   logger,
		metrics:  m,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds the report for one business date. A date that already has
// a report fails with ALREADY_EXISTS and leaves the collection untouched.
//
// Transactions that fail to load are skipped and logged rather than aborting
// the report: a partial report with a logged gap beats no report, at the
// accepted cost that totals can under-count when lookups fail.
func (g *Generator) Generate(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) (*Report, error) {
	day := businessDate.Truncate(24 * time.Hour)

	exists, err := g.store.Exists(ctx, key, day)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeAlreadyExists,
			"report for %s already exists at site %s", day.Format("2006-01-02"), key)
	}

	ids, err := g.registry.TransactionIDs(ctx, day, day.Add(24*time.Hour), key.String())
	if err != nil {
		return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "query audit registry", err)
	}

	report := &Report{
		Key:                key,
		BusinessDate:       day,
		GeneratedAt:        g.clock().UTC(),
		GrossSales:         decimal.Zero,
		TotalTax:           decimal.Zero,
		VoidTotal:          decimal.Zero,
		SalesByVatRate:     make(map[string]decimal.Decimal),
		TaxByVatRate:       make(map[string]decimal.Decimal),
		SalesByPaymentType: make(map[string]decimal.Decimal),
	}

	for _, id := range ids {
		tx, err := g.registry.Transaction(ctx, id)
		if err != nil {
			report.SkippedTransactions++
			g.logger.Warn("skipping unreadable transaction during aggregation",
				"site", key.String(),
				"transaction_id", id,
				"business_date", day.Format("2006-01-02"),
				"error", err,
			)
			continue
		}
		g.accumulate(report, tx)
	}

	created, err := g.store.CreateNext(ctx, report)
	if err != nil {
		return nil, err
	}
	g.metrics.ReportsGenerated.Inc()
	g.logger.Info("z-report generated",
		"site", key.String(),
		"report_number", created.ReportNumber,
		"business_date", day.Format("2006-01-02"),
		"transactions", created.TransactionCount,
		"skipped", created.SkippedTransactions,
	)
	return created, nil
}

func (g *Generator) accumulate(report *Report, tx *ledger.Transaction) {
	if tx.Type == ledger.TypeVoid {
		report.VoidCount++
		report.VoidTotal = report.VoidTotal.Add(tx.GrossAmount)
		return
	}

	report.TransactionCount++
	report.GrossSales = report.GrossSales.Add(tx.GrossAmount)
	for rate, tax := range tx.TaxAmounts {
		report.TotalTax = report.TotalTax.Add(tax)
		report.TaxByVatRate[rate] = report.TaxByVatRate[rate].Add(tax)
	}
	for rate, net := range tx.NetAmounts {
		report.SalesByVatRate[rate] = report.SalesByVatRate[rate].Add(net)
	}
	for payment, amount := range tx.PaymentTypes {
		report.SalesByPaymentType[payment] = report.SalesByPaymentType[payment].Add(amount)
	}
}

// ByNumber returns a single report.
func (g *Generator) ByNumber(ctx context.Context, key fiscal.SiteKey, number uint64) (*Report, error) {
	return g.store.FindByNumber(ctx, key, number)
}

// ByDateRange lists reports inside a date range.
func (g *Generator) ByDateRange(ctx context.Context, key fiscal.SiteKey, start, end time.Time) ([]*Report, error) {
	if end.Before(start) {
		return nil, fiscalerrors.New(fiscalerrors.CodeBadRequest, "range end before start")
	}
	return g.store.ListByDateRange(ctx, key, start, end)
}

// Latest returns the most recent report.
func (g *Generator) Latest(ctx context.Context, key fiscal.SiteKey) (*Report, error) {
	return g.store.Latest(ctx, key)
}
