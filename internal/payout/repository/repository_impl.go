package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/payout/domain"
	"gorm.io/gorm"
)

const jobColumns = `id, settlement_id, partner_id, provider, method, destination,
	amount, status, attempts, max_attempts, next_attempt_at,
	provider_transfer_id, last_error, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertJob(ctx context.Context, db *gorm.DB, job *domain.PayoutJob) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payout_jobs (
			id, settlement_id, partner_id, provider, method, destination,
			amount, status, attempts, max_attempts, next_attempt_at,
			provider_transfer_id, last_error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (settlement_id) WHERE status <> 'failed' DO NOTHING`,
		job.ID,
		job.SettlementID,
		job.PartnerID,
		job.Provider,
		job.Method,
		job.Destination,
		job.Amount,
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.NextAttemptAt,
		job.ProviderTransferID,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindActiveBySettlement(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) (*domain.PayoutJob, error) {
	var item domain.PayoutJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM payout_jobs
		 WHERE settlement_id = ? AND status <> 'failed'
		 LIMIT 1`,
		settlementID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PayoutJob, error) {
	var item domain.PayoutJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM payout_jobs
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

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.PayoutJob, error) {
	var items []domain.PayoutJob
	err := db.WithContext(ctx).Raw(
		`SELECT `+jobColumns+`
		 FROM payout_jobs
		 WHERE status = 'queued' AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Claim flips a queued job to processing; the status guard in the WHERE
// clause makes concurrent workers claim each job at most once.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payout_jobs
		 SET status = 'processing', updated_at = ?
		 WHERE id = ? AND status = 'queued'`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkDone(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payout_jobs
		 SET status = 'done', provider_transfer_id = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		transferID,
		at,
		id,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payout_jobs
		 SET status = 'queued', attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'processing'`,
		attempts,
		nextAttemptAt,
		lastError,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payout_jobs
		 SET status = 'failed', attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'processing'`,
		attempts,
		lastError,
		at,
		id,
	).Error
}
