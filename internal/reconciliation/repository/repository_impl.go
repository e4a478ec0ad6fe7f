package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/reconciliation/domain"
	"gorm.io/gorm"
)

const recommendationColumns = `id, rec_type, suggested_action, status, dedupe_key,
	provider, provider_payment_id, event_id, details, error_message,
	created_at, updated_at, resolved_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *domain.ReconciliationRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO reconciliation_records (
			id, run_id, provider, provider_payment_id, expected_amount,
			provider_amount, difference, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.RunID,
		record.Provider,
		record.ProviderPaymentID,
		record.ExpectedAmount,
		record.ProviderAmount,
		record.Difference,
		record.Status,
		record.CreatedAt,
	).Error
}

func (r *repo) ListRecordsByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]domain.ReconciliationRecord, error) {
	var items []domain.ReconciliationRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, run_id, provider, provider_payment_id, expected_amount,
			provider_amount, difference, status, created_at
		 FROM reconciliation_records
		 WHERE run_id = ?
		 ORDER BY id ASC`,
		runID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListRecentNonOK(ctx context.Context, db *gorm.DB, since time.Time) ([]domain.ReconciliationRecord, error) {
	var items []domain.ReconciliationRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, run_id, provider, provider_payment_id, expected_amount,
			provider_amount, difference, status, created_at
		 FROM reconciliation_records
		 WHERE status <> 'ok' AND created_at >= ?
		 ORDER BY created_at ASC, id ASC`,
		since,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// InternalState derives the ledger's view of a payment from its earnings:
// a SELECT-only query, reconciliation never writes the ledger.
func (r *repo) InternalState(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*domain.InternalPaymentState, error) {
	row := struct {
		Count          int64
		ConfirmedGross int64
		ConfirmedNet   int64
		ReversalCount  int64
	}{}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COUNT(*) AS count,
			COALESCE(SUM(CASE WHEN original_earning_id IS NULL THEN gross_amount ELSE 0 END), 0) AS confirmed_gross,
			COALESCE(SUM(CASE WHEN original_earning_id IS NULL THEN net_amount ELSE 0 END), 0) AS confirmed_net,
			COALESCE(SUM(CASE WHEN original_earning_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS reversal_count
		 FROM partner_earnings
		 WHERE provider = ? AND provider_payment_id = ?`,
		provider,
		providerPaymentID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &domain.InternalPaymentState{
		Exists:         row.Count > 0,
		ConfirmedGross: row.ConfirmedGross,
		ConfirmedNet:   row.ConfirmedNet,
		Reversed:       row.ReversalCount > 0,
	}, nil
}

func (r *repo) ListEarningPaymentIDs(ctx context.Context, db *gorm.DB, provider string, from time.Time, partnerID, tenantID *snowflake.ID) ([]string, error) {
	query := `SELECT DISTINCT provider_payment_id
		 FROM partner_earnings
		 WHERE provider = ? AND occurred_at >= ?`
	args := []any{provider, from}
	if partnerID != nil {
		query += ` AND partner_id = ?`
		args = append(args, *partnerID)
	}
	if tenantID != nil {
		query += ` AND tenant_id = ?`
		args = append(args, *tenantID)
	}
	var ids []string
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) InsertRecommendation(ctx context.Context, db *gorm.DB, rec *domain.OpsRecommendation) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO ops_recommendations (
			id, rec_type, suggested_action, status, dedupe_key, provider,
			provider_payment_id, event_id, details, error_message,
			created_at, updated_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		rec.ID,
		rec.RecType,
		rec.SuggestedAction,
		rec.Status,
		rec.DedupeKey,
		rec.Provider,
		rec.ProviderPaymentID,
		rec.EventID,
		rec.Details,
		rec.ErrorMessage,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.ResolvedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindRecommendation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.OpsRecommendation, error) {
	var item domain.OpsRecommendation
	err := db.WithContext(ctx).Raw(
		`SELECT `+recommendationColumns+`
		 FROM ops_recommendations
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

func (r *repo) ListOpenRecommendations(ctx context.Context, db *gorm.DB, limit int) ([]domain.OpsRecommendation, error) {
	var items []domain.OpsRecommendation
	err := db.WithContext(ctx).Raw(
		`SELECT `+recommendationColumns+`
		 FROM ops_recommendations
		 WHERE status = 'open'
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ResolveRecommendation finalizes an open recommendation; the status guard
// keeps double applies from flapping the row.
func (r *repo) ResolveRecommendation(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.RecommendationStatus, errorMessage *string, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE ops_recommendations
		 SET status = ?, error_message = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status = 'open'`,
		status,
		errorMessage,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListUnappliedEventIDs(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]domain.UnappliedEvent, error) {
	var items []domain.UnappliedEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_payment_id
		 FROM payment_events
		 WHERE applied_at IS NULL AND received_at < ?
		 ORDER BY received_at ASC, id ASC
		 LIMIT ?`,
		olderThan,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListDeadNotificationIDs(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM notification_outbox
		 WHERE status = 'dead'
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
