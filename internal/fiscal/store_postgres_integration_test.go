//go:build integration

package fiscal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fiscalhub/internal/device"
	"fiscalhub/internal/fiscal"
	"fiscalhub/pkg/fiscalerrors"
	"fiscalhub/pkg/testutil/containers"
)

type PostgresConfigStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *fiscal.PostgresConfigStore
}

func TestPostgresConfigStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresConfigStoreSuite))
}

func (s *PostgresConfigStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.postgres.Exec(s.T(), `
		CREATE TABLE IF NOT EXISTS site_fiscal_configs (
			org_id              TEXT NOT NULL,
			site_id             TEXT NOT NULL,
			country_code        TEXT NOT NULL,
			enabled             BOOLEAN NOT NULL,
			device_type         TEXT NOT NULL,
			settings            JSONB NOT NULL DEFAULT '{}',
			transaction_count   BIGINT NOT NULL DEFAULT 0,
			last_transaction_at TIMESTAMPTZ,
			last_error          TEXT NOT NULL DEFAULT '',
			updated_at          TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (org_id, site_id)
		)`)
	s.store = fiscal.NewPostgresConfigStore(s.postgres.DB)
}

func (s *PostgresConfigStoreSuite) SetupTest() {
	s.postgres.Exec(s.T(), "TRUNCATE site_fiscal_configs")
}

func testConfig(org, site string) *fiscal.SiteConfig {
	return &fiscal.SiteConfig{
		Key:         fiscal.SiteKey{OrgID: org, SiteID: site},
		CountryCode: "DE",
		Enabled:     true,
		DeviceType:  device.TypeCloudTSE,
		Settings: map[string]string{
			"api_url": "https://tss.example.com",
			"tss_id":  "tss-1",
		},
	}
}

func (s *PostgresConfigStoreSuite) TestSaveAndFind() {
	ctx := context.Background()
	cfg := testConfig("org-1", "site-1")
	cfg.TransactionCount = 42
	cfg.LastTransactionAt = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)
	cfg.LastError = "tss unreachable"
	s.Require().NoError(s.store.Save(ctx, cfg))

	found, err := s.store.Find(ctx, cfg.Key)
	s.Require().NoError(err)
	s.Equal("DE", found.CountryCode)
	s.True(found.Enabled)
	s.Equal(device.TypeCloudTSE, found.DeviceType)
	s.Equal(cfg.Settings, found.Settings)
	s.Equal(uint64(42), found.TransactionCount)
	s.Equal(cfg.LastTransactionAt, found.LastTransactionAt.UTC())
	s.Equal("tss unreachable", found.LastError)
	s.False(found.UpdatedAt.IsZero())
}

func (s *PostgresConfigStoreSuite) TestSaveUpserts() {
	ctx := context.Background()
	cfg := testConfig("org-1", "site-1")
	s.Require().NoError(s.store.Save(ctx, cfg))

	cfg.Enabled = false
	cfg.LastError = "disabled by operator"
	s.Require().NoError(s.store.Save(ctx, cfg))

	found, err := s.store.Find(ctx, cfg.Key)
	s.Require().NoError(err)
	s.False(found.Enabled)
	s.Equal("disabled by operator", found.LastError)
}

func (s *PostgresConfigStoreSuite) TestFindMissing() {
	_, err := s.store.Find(context.Background(), fiscal.SiteKey{OrgID: "org-1", SiteID: "ghost"})
	s.Require().Error(err)
	s.True(fiscalerrors.HasCode(err, fiscalerrors.CodeNotFound))
}

func (s *PostgresConfigStoreSuite) TestListByOrg() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, testConfig("org-1", "site-b")))
	s.Require().NoError(s.store.Save(ctx, testConfig("org-1", "site-a")))
	s.Require().NoError(s.store.Save(ctx, testConfig("org-2", "site-a")))

	configs, err := s.store.ListByOrg(ctx, "org-1")
	s.Require().NoError(err)
	s.Require().Len(configs, 2)
	s.Equal("site-a", configs[0].Key.SiteID)
	s.Equal("site-b", configs[1].Key.SiteID)
}
