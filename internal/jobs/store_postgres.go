package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fiscalhub/internal/fiscal"
	"fiscalhub/pkg/fiscalerrors"
)

// PostgresConfigStore persists per-site job schedules.
//
// Schema:
//
//	CREATE TABLE site_job_configs (
//	    org_id  TEXT NOT NULL,
//	    site_id TEXT NOT NULL,
//	    body    JSONB NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (org_id, site_id)
//	);
type PostgresConfigStore struct {
	db *sql.DB
}

func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

func (s *PostgresConfigStore) Save(ctx context.Context, cfg *SiteJobConfig) error {
	cp := *cfg
	cp.UpdatedAt = time.Now().UTC()
	body, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO site_job_configs (org_id, site_id, body, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, site_id) DO UPDATE SET
			body = EXCLUDED.body,
			updated_at = EXCLUDED.updated_at
	`, cfg.Key.OrgID, cfg.Key.SiteID, body, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save job config: %w", err)
	}
	return nil
}

func (s *PostgresConfigStore) Find(ctx context.Context, key fiscal.SiteKey) (*SiteJobConfig, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM site_job_configs WHERE org_id = $1 AND site_id = $2
	`, key.OrgID, key.SiteID).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "no job config for site %s", key)
	}
	if err != nil {
		return nil, fmt.Errorf("find job config: %w", err)
	}
	var cfg SiteJobConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal job config: %w", err)
	}
	return &cfg, nil
}

func (s *PostgresConfigStore) ListByOrg(ctx context.Context, orgID string) ([]*SiteJobConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM site_job_configs WHERE org_id = $1 ORDER BY site_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list job configs: %w", err)
	}
	defer rows.Close()

	var out []*SiteJobConfig
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan job config: %w", err)
		}
		var cfg SiteJobConfig
		if err := json.Unmarshal(body, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal job config: %w", err)
		}
		out = append(out, &cfg)
	}
	return out, rows.Err()
}

// PostgresHistoryStore persists bounded job history.
//
// Schema:
//
//	CREATE TABLE job_history (
//	    id         TEXT PRIMARY KEY,
//	    org_id     TEXT NOT NULL,
//	    started_at TIMESTAMPTZ NOT NULL,
//	    body       JSONB NOT NULL
//	);
//	CREATE INDEX job_history_org_started ON job_history (org_id, started_at);
type PostgresHistoryStore struct {
	db *sql.DB
}

func NewPostgresHistoryStore(db *sql.DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (s *PostgresHistoryStore) Append(ctx context.Context, orgID string, entry *HistoryEntry, limit int) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO job_history (id, org_id, started_at, body) VALUES ($1, $2, $3, $4)
	`, entry.ID, orgID, entry.StartedAt, body); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}

	if limit > 0 {
		// Evict oldest entries beyond the cap inside the same transaction.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM job_history
			WHERE org_id = $1 AND id NOT IN (
				SELECT id FROM job_history
				WHERE org_id = $1
				ORDER BY started_at DESC
				LIMIT $2
			)
		`, orgID, limit); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}
	return tx.Commit()
}

func (s *PostgresHistoryStore) List(ctx context.Context, orgID string, max int) ([]*HistoryEntry, error) {
	if max <= 0 {
		max = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT body FROM job_history
		WHERE org_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, orgID, max)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var out []*HistoryEntry
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		var entry HistoryEntry
		if err := json.Unmarshal(body, &entry); err != nil {
			return nil, fmt.Errorf("unmarshal history entry: %w", err)
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

var (
	_ ConfigStore  = (*PostgresConfigStore)(nil)
	_ HistoryStore = (*PostgresHistoryStore)(nil)
)
