package zreport

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fiscalhub/internal/fiscal"
	"fiscalhub/pkg/fiscalerrors"
)

// PostgresStore persists reports in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE z_reports (
//	    org_id        TEXT NOT NULL,
//	    site_id       TEXT NOT NULL,
//	    report_number BIGINT NOT NULL,
//	    business_date DATE NOT NULL,
//	    generated_at  TIMESTAMPTZ NOT NULL,
//	    body          JSONB NOT NULL,
//	    PRIMARY KEY (org_id, site_id, report_number),
//	    UNIQUE (org_id, site_id, business_date)
//	);
//
// The unique constraint on the business date is the hard duplicate guard;
// number assignment happens inside the same transaction as the insert.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore constructs a postgres-backed report store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateNext(ctx context.Context, report *Report) (*Report, error) {
	body, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Serialize number assignment per site for the rest of the transaction.
	// An aggregate cannot carry a row-locking clause, and MAX+1 without a
	// lock would hand two writers the same number.
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
		report.Key.OrgID, report.Key.SiteID); err != nil {
		return nil, fmt.Errorf("lock report sequence: %w", err)
	}

	var number uint64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(report_number), 0) + 1
		FROM z_reports
		WHERE org_id = $1 AND site_id = $2
	`, report.Key.OrgID, report.Key.SiteID).Scan(&number)
	if err != nil {
		return nil, fmt.Errorf("next report number: %w", err)
	}

	cp := *report
	cp.ReportNumber = number
	if body, err = json.Marshal(&cp); err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO z_reports (org_id, site_id, report_number, business_date, generated_at, body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cp.Key.OrgID, cp.Key.SiteID, cp.ReportNumber, cp.BusinessDate, cp.GeneratedAt, body)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fiscalerrors.Newf(fiscalerrors.CodeAlreadyExists,
				"report for %s already exists at site %s", dateKey(cp.BusinessDate), cp.Key)
		}
		return nil, fmt.Errorf("insert report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &cp, nil
}

func (s *PostgresStore) Exists(ctx context.Context, key fiscal.SiteKey, businessDate time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM z_reports
			WHERE org_id = $1 AND site_id = $2 AND business_date = $3
		)
	`, key.OrgID, key.SiteID, businessDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("report exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) FindByNumber(ctx context.Context, key fiscal.SiteKey, number uint64) (*Report, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM z_reports
		WHERE org_id = $1 AND site_id = $2 AND report_number = $3
	`, key.OrgID, key.SiteID, number).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "report %d at site %s", number, key)
	}
	if err != nil {
		return nil, fmt.Errorf("find report: %w", err)
	}
	return unmarshalReport(body)
}

func (s *PostgresStore) ListByDateRange(ctx context.Context, key fiscal.SiteKey, start, end time.Time) ([]*Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM z_reports
		WHERE org_id = $1 AND site_id = $2 AND business_date BETWEEN $3 AND $4
		ORDER BY report_number
	`, key.OrgID, key.SiteID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		r, err := unmarshalReport(body)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Latest(ctx context.Context, key fiscal.SiteKey) (*Report, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM z_reports
		WHERE org_id = $1 AND site_id = $2
		ORDER BY report_number DESC
		LIMIT 1
	`, key.OrgID, key.SiteID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "no reports at site %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	return unmarshalReport(body)
}

func unmarshalReport(body []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, nil
}

var _ Store = (*PostgresStore)(nil)
