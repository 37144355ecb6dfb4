package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/pkg/fiscalerrors"
)

// PostgresRegistry reads the shared audit registry tables directly. The
// registry is written by the order pipeline; this side only queries it.
//
// Expected schema:
//
//	CREATE TABLE ledger_transactions (
//	    id            TEXT PRIMARY KEY,
//	    site          TEXT NOT NULL,
//	    tx_type       TEXT NOT NULL,
//	    gross_amount  NUMERIC(14,2) NOT NULL,
//	    tax_amounts   JSONB NOT NULL DEFAULT '{}',
//	    net_amounts   JSONB NOT NULL DEFAULT '{}',
//	    payment_types JSONB NOT NULL DEFAULT '{}',
//	    recorded_at   TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX ledger_transactions_site_recorded_idx
//	    ON ledger_transactions (site, recorded_at);
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry constructs a registry over an existing connection pool.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (r *PostgresRegistry) TransactionIDs(ctx context.Context, start, end time.Time, filter string) ([]string, error) {
	query := `SELECT id FROM ledger_transactions
	          WHERE recorded_at >= $1 AND recorded_at < $2`
	args := []any{start, end}
	if filter != "" {
		query += ` AND site = $3`
		args = append(args, filter)
	}
	query += ` ORDER BY recorded_at`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "query ledger transactions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "scan ledger transaction id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostgresRegistry) Transaction(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, site, tx_type, gross_amount, tax_amounts, net_amounts, payment_types, recorded_at
		FROM ledger_transactions WHERE id = $1`, id)

	var (
		tx       Transaction
		gross    string
		taxes    []byte
		nets     []byte
		payments []byte
	)
	err := row.Scan(&tx.ID, &tx.Site, &tx.Type, &gross, &taxes, &nets, &payments, &tx.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "transaction %s", id)
	}
	if err != nil {
		return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "scan ledger transaction", err)
	}

	if tx.GrossAmount, err = decimal.NewFromString(gross); err != nil {
		return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "parse gross amount", err)
	}
	for _, col := range []struct {
		raw  []byte
		dest *map[string]decimal.Decimal
	}{
		{taxes, &tx.TaxAmounts},
		{nets, &tx.NetAmounts},
		{payments, &tx.PaymentTypes},
	} {
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fiscalerrors.Wrap(fiscalerrors.CodeInternal, "decode amount breakdown", err)
		}
	}
	return &tx, nil
}

var _ Registry = (*PostgresRegistry)(nil)
