package funds

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore persists fund risk configuration in PostgreSQL. Vault
// snapshots are live reads from the vault subsystem and are not persisted
// here.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL fund config store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetConfig(ctx context.Context, fundID string) (*Config, error) {
	cfg := &Config{FundID: fundID}
	var assets pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT manager, allowed_assets, reference_asset, max_position_bps, max_concentration_bps,
			max_exposure_bps, max_volatility_bps, max_drawdown_bps,
			price_checks_enabled, created_at, updated_at
		FROM fund_configs WHERE fund_id = $1`, fundID,
	).Scan(
		&cfg.Manager, &assets, &cfg.ReferenceAsset, &cfg.Limits.MaxPositionBPS, &cfg.Limits.MaxConcentrationBPS,
		&cfg.Limits.MaxExposureBPS, &cfg.Limits.MaxVolatilityBPS, &cfg.Limits.MaxDrawdownBPS,
		&cfg.Limits.PriceChecksEnabled, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrFundNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg.AllowedAssets = []string(assets)
	return cfg, nil
}

func (s *PostgresStore) PutConfig(ctx context.Context, cfg *Config) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fund_configs (fund_id, manager, allowed_assets, reference_asset,
			max_position_bps, max_concentration_bps, max_exposure_bps, max_volatility_bps,
			max_drawdown_bps, price_checks_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		ON CONFLICT (fund_id) DO UPDATE SET
			manager = EXCLUDED.manager,
			allowed_assets = EXCLUDED.allowed_assets,
			reference_asset = EXCLUDED.reference_asset,
			max_position_bps = EXCLUDED.max_position_bps,
			max_concentration_bps = EXCLUDED.max_concentration_bps,
			max_exposure_bps = EXCLUDED.max_exposure_bps,
			max_volatility_bps = EXCLUDED.max_volatility_bps,
			max_drawdown_bps = EXCLUDED.max_drawdown_bps,
			price_checks_enabled = EXCLUDED.price_checks_enabled,
			updated_at = NOW()`,
		cfg.FundID, cfg.Manager, pq.StringArray(cfg.AllowedAssets), cfg.ReferenceAsset,
		cfg.Limits.MaxPositionBPS, cfg.Limits.MaxConcentrationBPS, cfg.Limits.MaxExposureBPS,
		cfg.Limits.MaxVolatilityBPS, cfg.Limits.MaxDrawdownBPS, cfg.Limits.PriceChecksEnabled,
	)
	return err
}

func (s *PostgresStore) ListFunds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fund_id FROM fund_configs ORDER BY fund_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
