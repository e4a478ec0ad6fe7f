package repository

import (
	"context"

	"github.com/comandahub/paycore/internal/paymentcontext/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCorrelation(ctx context.Context, db *gorm.DB, row *domain.PaymentCorrelation) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_correlations (
			id, provider, provider_payment_id, source, source_id,
			tenant_id, partner_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_payment_id) DO NOTHING`,
		row.ID,
		row.Provider,
		row.ProviderPaymentID,
		row.Source,
		row.SourceID,
		row.TenantID,
		row.PartnerID,
		row.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindCorrelation(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.PaymentCorrelation, error) {
	var item domain.PaymentCorrelation
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_payment_id, source, source_id,
			tenant_id, partner_id, created_at
		 FROM payment_correlations
		 WHERE provider = ? AND provider_payment_id = ?
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

func (r *repo) FindOpenInvoiceByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.PartnerInvoice, error) {
	var item domain.PartnerInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, tenant_id, provider, provider_payment_id,
			amount, status, due_date, created_at, updated_at
		 FROM partner_invoices
		 WHERE provider_payment_id = ? AND status IN (?, ?)
		 ORDER BY created_at ASC
		 LIMIT 1`,
		providerPaymentID,
		domain.InvoiceStatusOpen,
		domain.InvoiceStatusOverdue,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindModulePurchaseByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.ModulePurchase, error) {
	var item domain.ModulePurchase
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, partner_id, module_key, provider,
			provider_payment_id, amount, status, created_at, updated_at
		 FROM module_purchases
		 WHERE provider_payment_id = ?
		 ORDER BY created_at ASC
		 LIMIT 1`,
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

func (r *repo) FindSubscriptionByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, partner_id, provider, provider_payment_id,
			plan_key, status, trial_ends_at, created_at, updated_at
		 FROM subscriptions
		 WHERE provider_payment_id = ?
		 ORDER BY created_at ASC
		 LIMIT 1`,
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
