// Package zreport generates the sequentially numbered end-of-day report of a
// site's sales, taxes, and voids.
package zreport

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/fiscal"
)

// Report is immutable once created. Numbers are strictly increasing per
// site, never reused, never renumbered; their order matches generation order.
type Report struct {
	Key          fiscal.SiteKey
	ReportNumber uint64
	BusinessDate time.Time
	GeneratedAt  time.Time

	GrossSales       decimal.Decimal
	TotalTax         decimal.Decimal
	TransactionCount int
	VoidCount        int
	VoidTotal        decimal.Decimal

	// SalesByVatRate holds net sales per tax rate label.
	SalesByVatRate map[string]decimal.Decimal
	// TaxByVatRate holds the tax portion per tax rate label.
	TaxByVatRate map[string]decimal.Decimal
	// SalesByPaymentType holds gross sales per payment type.
	SalesByPaymentType map[string]decimal.Decimal

	// SkippedTransactions counts records that could not be loaded during
	// aggregation; their amounts are missing from the totals.
	SkippedTransactions int

	Signature    string
	DeviceSerial string
}
