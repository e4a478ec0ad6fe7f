package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.PaymentEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, provider_payment_id, event_type,
			tenant_id, partner_id, amount_gross, payment_method, occurred_at,
			payload, received_at, applied_at, apply_details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.ProviderPaymentID,
		event.EventType,
		event.TenantID,
		event.PartnerID,
		event.AmountGross,
		event.PaymentMethod,
		event.OccurredAt,
		event.Payload,
		event.ReceivedAt,
		event.AppliedAt,
		event.ApplyDetails,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentEvent, error) {
	var item domain.PaymentEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, provider_payment_id, event_type,
			tenant_id, partner_id, amount_gross, payment_method, occurred_at,
			payload, received_at, applied_at, apply_details
		 FROM payment_events
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

func (r *repo) FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.PaymentEvent, error) {
	var item domain.PaymentEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, provider_payment_id, event_type,
			tenant_id, partner_id, amount_gross, payment_method, occurred_at,
			payload, received_at, applied_at, apply_details
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) ListByProviderPaymentID(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) ([]domain.PaymentEvent, error) {
	var items []domain.PaymentEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, provider_payment_id, event_type,
			tenant_id, partner_id, amount_gross, payment_method, occurred_at,
			payload, received_at, applied_at, apply_details
		 FROM payment_events
		 WHERE provider = ? AND provider_payment_id = ?
		 ORDER BY occurred_at ASC, id ASC`,
		provider,
		providerPaymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, appliedAt time.Time, details []byte) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET applied_at = ?, apply_details = ?
		 WHERE id = ? AND applied_at IS NULL`,
		appliedAt,
		details,
		id,
	).Error
}
