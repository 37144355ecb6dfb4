package fiscal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"fiscalhub/internal/device"
	"fiscalhub/pkg/fiscalerrors"
)

// PostgresConfigStore persists site configuration in PostgreSQL.
//
// Schema:
//
//	CREATE TABLE site_fiscal_configs (
//	    org_id             TEXT NOT NULL,
//	    site_id            TEXT NOT NULL,
//	    country_code       TEXT NOT NULL,
//	    enabled            BOOLEAN NOT NULL,
//	    device_type        TEXT NOT NULL,
//	    settings           JSONB NOT NULL DEFAULT '{}',
//	    transaction_count  BIGINT NOT NULL DEFAULT 0,
//	    last_transaction_at TIMESTAMPTZ,
//	    last_error         TEXT NOT NULL DEFAULT '',
//	    updated_at         TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (org_id, site_id)
//	);
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore constructs a postgres-backed config store.
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

func (s *PostgresConfigStore) Save(ctx context.Context, cfg *SiteConfig) error {
	settings, err := json.Marshal(cfg.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	var lastTx sql.NullTime
	if !cfg.LastTransactionAt.IsZero() {
		lastTx = sql.NullTime{Time: cfg.LastTransactionAt, Valid: true}
	}
	query := `
		INSERT INTO site_fiscal_configs
			(org_id, site_id, country_code, enabled, device_type, settings,
			 transaction_count, last_transaction_at, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (org_id, site_id) DO UPDATE SET
			country_code = EXCLUDED.country_code,
			enabled = EXCLUDED.enabled,
			device_type = EXCLUDED.device_type,
			settings = EXCLUDED.settings,
			transaction_count = EXCLUDED.transaction_count,
			last_transaction_at = EXCLUDED.last_transaction_at,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		cfg.Key.OrgID, cfg.Key.SiteID, cfg.CountryCode, cfg.Enabled, string(cfg.DeviceType),
		settings, cfg.TransactionCount, lastTx, cfg.LastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save site config: %w", err)
	}
	return nil
}

func (s *PostgresConfigStore) Find(ctx context.Context, key SiteKey) (*SiteConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT country_code, enabled, device_type, settings,
		       transaction_count, last_transaction_at, last_error, updated_at
		FROM site_fiscal_configs
		WHERE org_id = $1 AND site_id = $2
	`, key.OrgID, key.SiteID)
	return scanConfig(row, key)
}

func (s *PostgresConfigStore) ListByOrg(ctx context.Context, orgID string) ([]*SiteConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, country_code, enabled, device_type, settings,
		       transaction_count, last_transaction_at, last_error, updated_at
		FROM site_fiscal_configs
		WHERE org_id = $1
		ORDER BY site_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list site configs: %w", err)
	}
	defer rows.Close()

	var out []*SiteConfig
	for rows.Next() {
		cfg := &SiteConfig{Key: SiteKey{OrgID: orgID}}
		var (
			deviceType string
			settings   []byte
			lastTx     sql.NullTime
		)
		if err := rows.Scan(&cfg.Key.SiteID, &cfg.CountryCode, &cfg.Enabled, &deviceType,
			&settings, &cfg.TransactionCount, &lastTx, &cfg.LastError, &cfg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan site config: %w", err)
		}
		cfg.DeviceType = device.Type(deviceType)
		if lastTx.Valid {
			cfg.LastTransactionAt = lastTx.Time
		}
		if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func scanConfig(row *sql.Row, key SiteKey) (*SiteConfig, error) {
	cfg := &SiteConfig{Key: key}
	var (
		deviceType string
		settings   []byte
		lastTx     sql.NullTime
	)
	err := row.Scan(&cfg.CountryCode, &cfg.Enabled, &deviceType, &settings,
		&cfg.TransactionCount, &lastTx, &cfg.LastError, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fiscalerrors.Newf(fiscalerrors.CodeNotFound, "site %s not configured", key)
	}
	if err != nil {
		return nil, fmt.Errorf("find site config: %w", err)
	}
	cfg.DeviceType = device.Type(deviceType)
	if lastTx.Valid {
		cfg.LastTransactionAt = lastTx.Time
	}
	if err := json.Unmarshal(settings, &cfg.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	return cfg, nil
}

var _ ConfigStore = (*PostgresConfigStore)(nil)
