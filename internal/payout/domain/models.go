package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the payout job lifecycle. done and failed are terminal; only a
// failed job frees the settlement for a new payout attempt.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// PayoutJob executes one provider transfer for one settlement. The partial
// unique index on settlement_id while status <> failed makes Execute
// idempotent.
type PayoutJob struct {
	ID                 snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	SettlementID       snowflake.ID `gorm:"column:settlement_id" json:"settlement_id"`
	PartnerID          snowflake.ID `gorm:"column:partner_id" json:"partner_id"`
	Provider           string       `gorm:"column:provider" json:"provider"`
	Method             string       `gorm:"column:method" json:"method"`
	Destination        string       `gorm:"column:destination" json:"destination"`
	Amount             int64        `gorm:"column:amount" json:"amount"`
	Status             Status       `gorm:"column:status" json:"status"`
	Attempts           int          `gorm:"column:attempts" json:"attempts"`
	MaxAttempts        int          `gorm:"column:max_attempts" json:"max_attempts"`
	NextAttemptAt      time.Time    `gorm:"column:next_attempt_at" json:"next_attempt_at"`
	ProviderTransferID *string      `gorm:"column:provider_transfer_id" json:"provider_transfer_id,omitempty"`
	LastError          *string      `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt          time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"column:updated_at" json:"updated_at"`
}

func (PayoutJob) TableName() string {
	return "payout_jobs"
}

// Terminal reports whether the job will never run again.
func (j PayoutJob) Terminal() bool {
	return j.Status == StatusDone || j.Status == StatusFailed
}
