package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Channel is the delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSlack Channel = "slack"
)

// Status is the outbox entry lifecycle. dead is the DLQ: the retry budget
// is spent and only an operator requeue revives the entry.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusDead    Status = "dead"
)

// NotificationOutbox is one pending or delivered message. dedupe_key is
// unique while the entry is non-terminal (queued, sending, sent), so
// repeated enqueues of the same logical notification collapse onto one row.
type NotificationOutbox struct {
	ID            snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	Channel       Channel        `gorm:"column:channel" json:"channel"`
	TemplateKey   string         `gorm:"column:template_key" json:"template_key"`
	ToAddress     string         `gorm:"column:to_address" json:"to_address"`
	Payload       datatypes.JSON `gorm:"column:payload" json:"payload"`
	DedupeKey     string         `gorm:"column:dedupe_key" json:"dedupe_key"`
	Status        Status         `gorm:"column:status" json:"status"`
	Attempts      int            `gorm:"column:attempts" json:"attempts"`
	MaxAttempts   int            `gorm:"column:max_attempts" json:"max_attempts"`
	NextAttemptAt time.Time      `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	CorrelationID string         `gorm:"column:correlation_id" json:"correlation_id"`
	PartnerID     *snowflake.ID  `gorm:"column:partner_id" json:"partner_id,omitempty"`
	LastError     *string        `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
	SentAt        *time.Time     `gorm:"column:sent_at" json:"sent_at,omitempty"`
}

func (NotificationOutbox) TableName() string {
	return "notification_outbox"
}

// NotificationDelivery records a provider delivery callback for one sent
// outbox entry.
type NotificationDelivery struct {
	ID                snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	OutboxID          snowflake.ID `gorm:"column:outbox_id;index" json:"outbox_id"`
	Provider          string       `gorm:"column:provider" json:"provider"`
	ProviderMessageID string       `gorm:"column:provider_message_id" json:"provider_message_id"`
	Status            string       `gorm:"column:status" json:"status"`
	CreatedAt         time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (NotificationDelivery) TableName() string {
	return "notification_deliveries"
}

// NotificationTemplate renders subject and body with text/template. A row
// with a partner_id overrides the platform default for that partner.
type NotificationTemplate struct {
	ID          snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	PartnerID   *snowflake.ID `gorm:"column:partner_id" json:"partner_id,omitempty"`
	TemplateKey string        `gorm:"column:template_key" json:"template_key"`
	Channel     Channel       `gorm:"column:channel" json:"channel"`
	Subject     string        `gorm:"column:subject" json:"subject"`
	Body        string        `gorm:"column:body" json:"body"`
	Active      bool          `gorm:"column:active" json:"active"`
	CreatedAt   time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (NotificationTemplate) TableName() string {
	return "notification_templates"
}

// Template keys emitted by the billing scan.
const (
	TemplateInvoiceDue     = "invoice_due"
	TemplateInvoiceOverdue = "invoice_overdue"
	TemplateTrialEnding    = "trial_ending"
)
