package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardapiopro/cardapio-api/internal/domain/settings"
)

const (
	settingsColumns = `id, store_name, description, whatsapp, address, logo_url, is_open,
		delivery_enabled, pickup_enabled, delivery_fee, min_order_value, delivery_time_min,
		delivery_time_max, free_delivery_threshold, pix_key, pix_discount_percent, updated_at`

	getSettingsSQL = `SELECT ` + settingsColumns + ` FROM store_settings ORDER BY updated_at LIMIT 1`

	upsertSettingsSQL = `INSERT INTO store_settings (` + settingsColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET
			store_name = EXCLUDED.store_name,
			description = EXCLUDED.description,
			whatsapp = EXCLUDED.whatsapp,
			address = EXCLUDED.address,
			logo_url = EXCLUDED.logo_url,
			is_open = EXCLUDED.is_open,
			delivery_enabled = EXCLUDED.delivery_enabled,
			pickup_enabled = EXCLUDED.pickup_enabled,
			delivery_fee = EXCLUDED.delivery_fee,
			min_order_value = EXCLUDED.min_order_value,
			delivery_time_min = EXCLUDED.delivery_time_min,
			delivery_time_max = EXCLUDED.delivery_time_max,
			free_delivery_threshold = EXCLUDED.free_delivery_threshold,
			pix_key = EXCLUDED.pix_key,
			pix_discount_percent = EXCLUDED.pix_discount_percent,
			updated_at = EXCLUDED.updated_at`
)

var _ settings.Repository = (*SettingsRepository)(nil)

// SettingsRepository stores the single store_settings row.
type SettingsRepository struct {
	pool *pgxpool.Pool
}

// NewSettingsRepository returns a SettingsRepository that uses the given pool.
func NewSettingsRepository(pool *pgxpool.Pool) *SettingsRepository {
	return &SettingsRepository{pool: pool}
}

func (r *SettingsRepository) Get(ctx context.Context) (*settings.Store, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, getSettingsSQL)
	if err != nil {
		return nil, fmt.Errorf("getting store settings: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSettings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, settings.ErrNotFound
		}
		return nil, fmt.Errorf("getting store settings: %w", err)
	}
	return &s, nil
}

func (r *SettingsRepository) Save(ctx context.Context, s *settings.Store) error {
	_, err := conn(ctx, r.pool).Exec(ctx, upsertSettingsSQL,
		s.ID, s.StoreName, s.Description, s.Whatsapp, s.Address, s.LogoURL, s.IsOpen,
		s.DeliveryEnabled, s.PickupEnabled, s.DeliveryFee, s.MinOrderValue, s.DeliveryTimeMin,
		s.DeliveryTimeMax, s.FreeDeliveryThreshold, s.PixKey, s.PixDiscountPercent, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving store settings: %w", err)
	}
	return nil
}

func scanSettings(row pgx.CollectableRow) (settings.Store, error) {
	var (
		s                settings.Store
		minTime, maxTime int32
	)
	err := row.Scan(
		&s.ID, &s.StoreName, &s.Description, &s.Whatsapp, &s.Address, &s.LogoURL, &s.IsOpen,
		&s.DeliveryEnabled, &s.PickupEnabled, &s.DeliveryFee, &s.MinOrderValue, &minTime,
		&maxTime, &s.FreeDeliveryThreshold, &s.PixKey, &s.PixDiscountPercent, &s.UpdatedAt,
	)
	s.DeliveryTimeMin = int(minTime)
	s.DeliveryTimeMax = int(maxTime)
	return s, err
}
