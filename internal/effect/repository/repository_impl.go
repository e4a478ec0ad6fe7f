package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/effect/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEffect(ctx context.Context, db *gorm.DB, effect *domain.TransactionEffect) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO transaction_effects (
			id, source_event_id, entry_type, partner_earning_id,
			platform_revenue_id, amount, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_event_id, entry_type) DO NOTHING`,
		effect.ID,
		effect.SourceEventID,
		effect.EntryType,
		effect.PartnerEarningID,
		effect.PlatformRevenueID,
		effect.Amount,
		effect.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindEffect(ctx context.Context, db *gorm.DB, sourceEventID snowflake.ID, entryType domain.EntryType) (*domain.TransactionEffect, error) {
	var item domain.TransactionEffect
	err := db.WithContext(ctx).Raw(
		`SELECT id, source_event_id, entry_type, partner_earning_id,
			platform_revenue_id, amount, created_at
		 FROM transaction_effects
		 WHERE source_event_id = ? AND entry_type = ?
		 LIMIT 1`,
		sourceEventID,
		entryType,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEarning(ctx context.Context, db *gorm.DB, earning *domain.PartnerEarning) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO partner_earnings (
			id, partner_id, tenant_id, provider, provider_payment_id,
			source_event_id, gross_amount, commission_amount, net_amount,
			status, original_earning_id, risk_flagged, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		earning.ID,
		earning.PartnerID,
		earning.TenantID,
		earning.Provider,
		earning.ProviderPaymentID,
		earning.SourceEventID,
		earning.GrossAmount,
		earning.CommissionAmount,
		earning.NetAmount,
		earning.Status,
		earning.OriginalEarningID,
		earning.RiskFlagged,
		earning.OccurredAt,
		earning.CreatedAt,
	).Error
}

func (r *repo) InsertRevenue(ctx context.Context, db *gorm.DB, revenue *domain.PlatformRevenue) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO platform_revenues (
			id, source_event_id, tenant_id, partner_id, provider,
			provider_payment_id, amount, revenue_type, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		revenue.ID,
		revenue.SourceEventID,
		revenue.TenantID,
		revenue.PartnerID,
		revenue.Provider,
		revenue.ProviderPaymentID,
		revenue.Amount,
		revenue.RevenueType,
		revenue.CreatedAt,
	).Error
}

// FindOriginalEarning returns the earliest non-reversal earning for the
// payment. Reversal rows are excluded so refund-after-refund cannot chain.
func (r *repo) FindOriginalEarning(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.PartnerEarning, error) {
	var item domain.PartnerEarning
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, tenant_id, provider, provider_payment_id,
			source_event_id, gross_amount, commission_amount, net_amount,
			status, original_earning_id, risk_flagged, occurred_at, created_at
		 FROM partner_earnings
		 WHERE provider = ? AND provider_payment_id = ?
		   AND original_earning_id IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		provider,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindOpenCancellationReversal returns the latest reversal produced by a
// CANCELED event for the payment that no later row has compensated. A
// re-credit row points at the reversal through original_earning_id, which is
// what the NOT EXISTS clause filters on.
func (r *repo) FindOpenCancellationReversal(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.PartnerEarning, error) {
	var item domain.PartnerEarning
	err := db.WithContext(ctx).Raw(
		`SELECT pe.id, pe.partner_id, pe.tenant_id, pe.provider, pe.provider_payment_id,
			pe.source_event_id, pe.gross_amount, pe.commission_amount, pe.net_amount,
			pe.status, pe.original_earning_id, pe.risk_flagged, pe.occurred_at, pe.created_at
		 FROM partner_earnings pe
		 JOIN payment_events ev ON ev.id = pe.source_event_id
		 WHERE pe.provider = ? AND pe.provider_payment_id = ?
		   AND pe.original_earning_id IS NOT NULL
		   AND ev.event_type = 'CANCELED'
		   AND NOT EXISTS (
			SELECT 1 FROM partner_earnings rc WHERE rc.original_earning_id = pe.id
		   )
		 ORDER BY pe.created_at DESC, pe.id DESC
		 LIMIT 1`,
		provider,
		providerPaymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindEarningByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PartnerEarning, error) {
	var item domain.PartnerEarning
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, tenant_id, provider, provider_payment_id,
			source_event_id, gross_amount, commission_amount, net_amount,
			status, original_earning_id, risk_flagged, occurred_at, created_at
		 FROM partner_earnings
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// GetFeeConfig prefers an active partner-specific row, falling back to the
// platform default (partner_id IS NULL).
func (r *repo) GetFeeConfig(ctx context.Context, db *gorm.DB, partnerID *snowflake.ID) (*domain.FeeConfig, error) {
	if partnerID != nil {
		var item domain.FeeConfig
		err := db.WithContext(ctx).Raw(
			`SELECT id, partner_id, commission_bps, markup_bps, gateway_bps,
				gateway_fixed, active, created_at, updated_at
			 FROM fee_configs
			 WHERE partner_id = ? AND active
			 ORDER BY updated_at DESC
			 LIMIT 1`,
			*partnerID,
		).Scan(&item).Error
		if err != nil {
			return nil, err
		}
		if item.ID != 0 {
			return &item, nil
		}
	}
	var item domain.FeeConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, commission_bps, markup_bps, gateway_bps,
			gateway_fixed, active, created_at, updated_at
		 FROM fee_configs
		 WHERE partner_id IS NULL AND active
		 ORDER BY updated_at DESC
		 LIMIT 1`,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) UpdateInvoiceStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE partner_invoices SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) UpdateModulePurchaseStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE module_purchases SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status,
		id,
	).Error
}
