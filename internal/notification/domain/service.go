package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	"gorm.io/gorm"
)

var (
	ErrOutboxNotFound   = errors.New("notification: outbox entry not found")
	ErrNotDead          = errors.New("notification: entry is not dead")
	ErrTemplateNotFound = errors.New("notification: template not found")
	ErrInvalidChannel   = errors.New("notification: unsupported channel")
	ErrInvalidTemplate  = errors.New("notification: template key and body are required")
	ErrInvalidAddress   = errors.New("notification: to_address is required")
	ErrInvalidDedupeKey = errors.New("notification: dedupe_key is required")
)

// EnqueueCommand inserts one notification into the outbox.
type EnqueueCommand struct {
	Channel     Channel
	TemplateKey string
	ToAddress   string
	Payload     json.RawMessage
	DedupeKey   string
	PartnerID   *snowflake.ID
	MaxAttempts int
}

// EnqueueResult names the row serving this dedupe key. Created is false
// when a non-terminal entry already existed.
type EnqueueResult struct {
	ID      snowflake.ID `json:"id"`
	Created bool         `json:"created"`
}

// ProcessResult summarizes one outbox batch.
type ProcessResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Dead    int `json:"dead"`
}

// PreviewCommand renders a template without persisting anything.
type PreviewCommand struct {
	TemplateKey string
	PartnerID   *snowflake.ID
	Payload     json.RawMessage
}

// Rendered is a template instantiated with a payload.
type Rendered struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BillingEmitResult reports one billing trigger scan.
type BillingEmitResult struct {
	Enqueued int `json:"enqueued"`
	Skipped  int `json:"skipped"`
}

// MarkDeliveryCommand records a provider delivery callback.
type MarkDeliveryCommand struct {
	OutboxID          snowflake.ID
	Provider          string
	ProviderMessageID string
	Status            string
}

// Service is the retrying notification outbox.
type Service interface {
	Enqueue(ctx context.Context, cmd EnqueueCommand) (*EnqueueResult, error)
	// ProcessOutbox delivers due queued entries. Sends are time-bounded
	// and never run inside a database transaction.
	ProcessOutbox(ctx context.Context, batchSize int) (*ProcessResult, error)
	RequeueDead(ctx context.Context, id snowflake.ID) error
	Preview(ctx context.Context, cmd PreviewCommand) (*Rendered, error)
	MarkDelivery(ctx context.Context, cmd MarkDeliveryCommand) (*NotificationDelivery, error)
	ResolveTemplate(ctx context.Context, templateKey string, partnerID *snowflake.ID) (*NotificationTemplate, error)
	UpsertTemplate(ctx context.Context, tmpl NotificationTemplate) (*NotificationTemplate, error)
	EmitBillingNotifications(ctx context.Context, from, to time.Time) (*BillingEmitResult, error)
	Get(ctx context.Context, id snowflake.ID) (*NotificationOutbox, error)
}

type Repository interface {
	InsertOutbox(ctx context.Context, db *gorm.DB, row *NotificationOutbox) (bool, error)
	FindActiveByDedupeKey(ctx context.Context, db *gorm.DB, dedupeKey string) (*NotificationOutbox, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*NotificationOutbox, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]NotificationOutbox, error)
	ClaimSending(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkSent(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkDead(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, at time.Time) error
	RequeueDead(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *NotificationDelivery) error
	FindTemplate(ctx context.Context, db *gorm.DB, templateKey string, partnerID *snowflake.ID) (*NotificationTemplate, error)
	UpsertTemplate(ctx context.Context, db *gorm.DB, tmpl *NotificationTemplate) error
	ListInvoicesDue(ctx context.Context, db *gorm.DB, from, to time.Time) ([]contextdomain.PartnerInvoice, error)
	ListInvoicesOverdue(ctx context.Context, db *gorm.DB, asOf time.Time) ([]contextdomain.PartnerInvoice, error)
	ListTrialsEnding(ctx context.Context, db *gorm.DB, from, to time.Time) ([]contextdomain.Subscription, error)
}
