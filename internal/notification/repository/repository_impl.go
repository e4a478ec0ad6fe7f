package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/notification/domain"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	"gorm.io/gorm"
)

const outboxColumns = `id, channel, template_key, to_address, payload, dedupe_key,
	status, attempts, max_attempts, next_attempt_at, correlation_id,
	partner_id, last_error, created_at, updated_at, sent_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertOutbox(ctx context.Context, db *gorm.DB, row *domain.NotificationOutbox) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO notification_outbox (
			id, channel, template_key, to_address, payload, dedupe_key,
			status, attempts, max_attempts, next_attempt_at, correlation_id,
			partner_id, last_error, created_at, updated_at, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dedupe_key) WHERE status IN ('queued', 'sending', 'sent') DO NOTHING`,
		row.ID,
		row.Channel,
		row.TemplateKey,
		row.ToAddress,
		row.Payload,
		row.DedupeKey,
		row.Status,
		row.Attempts,
		row.MaxAttempts,
		row.NextAttemptAt,
		row.CorrelationID,
		row.PartnerID,
		row.LastError,
		row.CreatedAt,
		row.UpdatedAt,
		row.SentAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindActiveByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*domain.NotificationOutbox, error) {
	var item domain.NotificationOutbox
	err := db.WithContext(ctx).Raw(
		`SELECT `+outboxColumns+`
		 FROM notification_outbox
		 WHERE dedupe_key = ? AND status IN ('queued', 'sending', 'sent')
		 LIMIT 1`,
		dedupeKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.NotificationOutbox, error) {
	var item domain.NotificationOutbox
	err := db.WithContext(ctx).Raw(
		`SELECT `+outboxColumns+`
		 FROM notification_outbox
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

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.NotificationOutbox, error) {
	var items []domain.NotificationOutbox
	err := db.WithContext(ctx).Raw(
		`SELECT `+outboxColumns+`
		 FROM notification_outbox
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

func (r *repo) ClaimSending(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_outbox
		 SET status = 'sending', updated_at = ?
		 WHERE id = ? AND status = 'queued'`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox
		 SET status = 'sent', sent_at = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = 'sending'`,
		at,
		at,
		id,
	).Error
}

func (r *repo) MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox
		 SET status = 'queued', attempts = ?, next_attempt_at = ?, last_error = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'sending'`,
		attempts,
		nextAttemptAt,
		lastError,
		id,
	).Error
}

func (r *repo) MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE notification_outbox
		 SET status = 'dead', attempts = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND status = 'sending'`,
		attempts,
		lastError,
		at,
		id,
	).Error
}

func (r *repo) RequeueDead(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE notification_outbox
		 SET status = 'queued', attempts = 0, next_attempt_at = ?, last_error = NULL, updated_at = ?
		 WHERE id = ? AND status = 'dead'`,
		at,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *domain.NotificationDelivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_deliveries (
			id, outbox_id, provider, provider_message_id, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		delivery.ID,
		delivery.OutboxID,
		delivery.Provider,
		delivery.ProviderMessageID,
		delivery.Status,
		delivery.CreatedAt,
	).Error
}

// FindTemplate prefers the partner's override, falling back to the
// platform default row.
func (r *repo) FindTemplate(ctx context.Context, db *gorm.DB, templateKey string, partnerID *snowflake.ID) (*domain.NotificationTemplate, error) {
	if partnerID != nil {
		var item domain.NotificationTemplate
		err := db.WithContext(ctx).Raw(
			`SELECT id, partner_id, template_key, channel, subject, body, active, created_at, updated_at
			 FROM notification_templates
			 WHERE template_key = ? AND partner_id = ? AND active
			 LIMIT 1`,
			templateKey,
			*partnerID,
		).Scan(&item).Error
		if err != nil {
			return nil, err
		}
		if item.ID != 0 {
			return &item, nil
		}
	}
	var item domain.NotificationTemplate
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, template_key, channel, subject, body, active, created_at, updated_at
		 FROM notification_templates
		 WHERE template_key = ? AND partner_id IS NULL AND active
		 LIMIT 1`,
		templateKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpsertTemplate(ctx context.Context, db *gorm.DB, tmpl *domain.NotificationTemplate) error {
	var res *gorm.DB
	if tmpl.PartnerID != nil {
		res = db.WithContext(ctx).Exec(
			`UPDATE notification_templates
			 SET channel = ?, subject = ?, body = ?, active = ?, updated_at = ?
			 WHERE template_key = ? AND partner_id = ?`,
			tmpl.Channel,
			tmpl.Subject,
			tmpl.Body,
			tmpl.Active,
			tmpl.UpdatedAt,
			tmpl.TemplateKey,
			*tmpl.PartnerID,
		)
	} else {
		res = db.WithContext(ctx).Exec(
			`UPDATE notification_templates
			 SET channel = ?, subject = ?, body = ?, active = ?, updated_at = ?
			 WHERE template_key = ? AND partner_id IS NULL`,
			tmpl.Channel,
			tmpl.Subject,
			tmpl.Body,
			tmpl.Active,
			tmpl.UpdatedAt,
			tmpl.TemplateKey,
		)
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO notification_templates (
			id, partner_id, template_key, channel, subject, body, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID,
		tmpl.PartnerID,
		tmpl.TemplateKey,
		tmpl.Channel,
		tmpl.Subject,
		tmpl.Body,
		tmpl.Active,
		tmpl.CreatedAt,
		tmpl.UpdatedAt,
	).Error
}

func (r *repo) ListInvoicesDue(ctx context.Context, db *gorm.DB, from, to time.Time) ([]contextdomain.PartnerInvoice, error) {
	var items []contextdomain.PartnerInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, tenant_id, provider, provider_payment_id,
			amount, status, due_date, created_at, updated_at
		 FROM partner_invoices
		 WHERE status = 'open' AND due_date >= ? AND due_date < ?
		 ORDER BY due_date ASC, id ASC`,
		from,
		to,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListInvoicesOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) ([]contextdomain.PartnerInvoice, error) {
	var items []contextdomain.PartnerInvoice
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, tenant_id, provider, provider_payment_id,
			amount, status, due_date, created_at, updated_at
		 FROM partner_invoices
		 WHERE status IN ('open', 'overdue') AND due_date < ?
		 ORDER BY due_date ASC, id ASC`,
		asOf,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListTrialsEnding(ctx context.Context, db *gorm.DB, from, to time.Time) ([]contextdomain.Subscription, error) {
	var items []contextdomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, partner_id, provider, provider_payment_id,
			plan_key, status, trial_ends_at, created_at, updated_at
		 FROM subscriptions
		 WHERE status = 'trial' AND trial_ends_at IS NOT NULL
		   AND trial_ends_at >= ? AND trial_ends_at < ?
		 ORDER BY trial_ends_at ASC, id ASC`,
		from,
		to,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
