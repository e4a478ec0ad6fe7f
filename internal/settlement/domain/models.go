package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the forward-only settlement lifecycle. A paid settlement is
// immutable; corrections arrive as new earnings settled in a later period.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusApproved  Status = "approved"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Settlement groups a partner's unsettled earnings for one period. The
// partial unique index on (partner_id, period_start, period_end) while
// status <> cancelled is the only concurrency guard for generation.
type Settlement struct {
	ID               snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	PartnerID        snowflake.ID `gorm:"column:partner_id" json:"partner_id"`
	PeriodStart      time.Time    `gorm:"column:period_start" json:"period_start"`
	PeriodEnd        time.Time    `gorm:"column:period_end" json:"period_end"`
	Status           Status       `gorm:"column:status" json:"status"`
	GrossTotal       int64        `gorm:"column:gross_total" json:"gross_total"`
	PlatformFeeTotal int64        `gorm:"column:platform_fee_total" json:"platform_fee_total"`
	PartnerNetTotal  int64        `gorm:"column:partner_net_total" json:"partner_net_total"`
	TransactionCount int64        `gorm:"column:transaction_count" json:"transaction_count"`
	CreatedAt        time.Time    `gorm:"column:created_at" json:"created_at"`
	UpdatedAt        time.Time    `gorm:"column:updated_at" json:"updated_at"`
	ApprovedAt       *time.Time   `gorm:"column:approved_at" json:"approved_at,omitempty"`
	PaidAt           *time.Time   `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func (Settlement) TableName() string {
	return "settlements"
}

// Payable reports whether the settlement can still be paid out.
func (s Settlement) Payable() bool {
	return s.Status == StatusDraft || s.Status == StatusApproved
}

// SettlementItem links one earning into a settlement. earning_id is unique;
// cancelling a settlement deletes its items so the earnings become
// available again.
type SettlementItem struct {
	ID           snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	SettlementID snowflake.ID `gorm:"column:settlement_id;index" json:"settlement_id"`
	EarningID    snowflake.ID `gorm:"column:earning_id;uniqueIndex:ux_settlement_items_earning" json:"earning_id"`
	NetAmount    int64        `gorm:"column:net_amount" json:"net_amount"`
	CreatedAt    time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (SettlementItem) TableName() string {
	return "settlement_items"
}

// PartnerFinancialSummary is the ops view of a partner's money position,
// all values in minor units.
type PartnerFinancialSummary struct {
	PartnerID      snowflake.ID `json:"partner_id"`
	TotalEarnedNet int64        `json:"total_earned_net"`
	TotalReversed  int64        `json:"total_reversed"`
	PendingNet     int64        `json:"pending_net"`
	SettledNet     int64        `json:"settled_net"`
	PaidOutNet     int64        `json:"paid_out_net"`
	EarningCount   int64        `json:"earning_count"`
	ReversalCount  int64        `json:"reversal_count"`
	OpenSettlement *Settlement  `json:"open_settlement,omitempty"`
}
