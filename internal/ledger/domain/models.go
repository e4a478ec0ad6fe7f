// Package domain contains the append-only payment event ledger models.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventType is the canonical vocabulary every provider code is mapped into.
type EventType string

const (
	EventTypeCreated    EventType = "CREATED"
	EventTypeConfirmed  EventType = "CONFIRMED"
	EventTypeOverdue    EventType = "OVERDUE"
	EventTypeCanceled   EventType = "CANCELED"
	EventTypeRefunded   EventType = "REFUNDED"
	EventTypeChargeback EventType = "CHARGEBACK"
	EventTypeRestored   EventType = "RESTORED"
)

// Valid reports whether the event type belongs to the canonical vocabulary.
func (t EventType) Valid() bool {
	switch t {
	case EventTypeCreated, EventTypeConfirmed, EventTypeOverdue,
		EventTypeCanceled, EventTypeRefunded, EventTypeChargeback, EventTypeRestored:
		return true
	default:
		return false
	}
}

// PaymentEvent is one canonical ledger row. Rows are immutable once
// inserted; applied_at and apply_details are the only columns ever written
// after insert, exactly once, by the effect engine.
type PaymentEvent struct {
	ID                snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider          string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID   string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	ProviderPaymentID string         `json:"provider_payment_id" gorm:"type:text;not null;index"`
	EventType         EventType      `json:"event_type" gorm:"type:text;not null"`
	TenantID          *snowflake.ID  `json:"tenant_id" gorm:"index"`
	PartnerID         *snowflake.ID  `json:"partner_id" gorm:"index"`
	AmountGross       int64          `json:"amount_gross" gorm:"not null"`
	PaymentMethod     string         `json:"payment_method" gorm:"type:text"`
	OccurredAt        time.Time      `json:"occurred_at" gorm:"not null"`
	Payload           datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt        time.Time      `json:"received_at" gorm:"not null"`
	AppliedAt         *time.Time     `json:"applied_at"`
	ApplyDetails      datatypes.JSON `json:"apply_details"`
}

func (PaymentEvent) TableName() string { return "payment_events" }
