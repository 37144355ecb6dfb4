// Package ledger is the boundary to the external per-transaction audit
// registry. The registry itself lives outside this service; we only consume
// its query surface during end-of-day aggregation.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType distinguishes sales from voids in aggregation.
type TransactionType string

const (
	TypeSale TransactionType = "sale"
	TypeVoid TransactionType = "void"
)

// Transaction is the registry's view of one signed sale, shaped for
// aggregation: gross amount plus breakdowns by tax rate and payment type.
type Transaction struct {
	ID           string
	Site         string // "org/site" form
	Type         TransactionType
	GrossAmount  decimal.Decimal
	TaxAmounts   map[string]decimal.Decimal // tax rate label -> tax portion
	NetAmounts   map[string]decimal.Decimal // tax rate label -> net portion
	PaymentTypes map[string]decimal.Decimal // payment type -> amount
	RecordedAt   time.Time
}

// Registry is the read contract against the external audit registry.
type Registry interface {
	// TransactionIDs lists the transactions recorded inside the range.
	// filter restricts by site (the "org/site" form); empty means all.
	TransactionIDs(ctx context.Context, start, end time.Time, filter string) ([]string, error)

	// Transaction loads a single record by ID.
	Transaction(ctx context.Context, id string) (*Transaction, error)
}
