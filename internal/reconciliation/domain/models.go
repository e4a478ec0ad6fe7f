package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RecordStatus classifies one provider payment against the ledger.
type RecordStatus string

const (
	RecordOK              RecordStatus = "ok"
	RecordMismatch        RecordStatus = "mismatch"
	RecordMissingInternal RecordStatus = "missing_internal"
	RecordOrphan          RecordStatus = "orphan"
)

// ReconciliationRecord is one classified row from a reconciliation run.
// The run only reads payment_events and partner_earnings; the ledger is
// never updated or deleted by reconciliation.
type ReconciliationRecord struct {
	ID                snowflake.ID `gorm:"column:id;primaryKey" json:"id"`
	RunID             snowflake.ID `gorm:"column:run_id;index" json:"run_id"`
	Provider          string       `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string       `gorm:"column:provider_payment_id" json:"provider_payment_id"`
	ExpectedAmount    int64        `gorm:"column:expected_amount" json:"expected_amount"`
	ProviderAmount    int64        `gorm:"column:provider_amount" json:"provider_amount"`
	Difference        int64        `gorm:"column:difference" json:"difference"`
	Status            RecordStatus `gorm:"column:status" json:"status"`
	CreatedAt         time.Time    `gorm:"column:created_at" json:"created_at"`
}

func (ReconciliationRecord) TableName() string {
	return "reconciliation_records"
}

// RecommendationType names the anomaly class behind a suggestion.
type RecommendationType string

const (
	RecTypeMismatch         RecommendationType = "amount_mismatch"
	RecTypeMissingInternal  RecommendationType = "missing_internal"
	RecTypeOrphan           RecommendationType = "orphan_earning"
	RecTypeUnappliedEvent   RecommendationType = "unapplied_event"
	RecTypeDeadNotification RecommendationType = "dead_notification"
)

// SuggestedAction is the correction the system proposes.
type SuggestedAction string

const (
	ActionReprocess      SuggestedAction = "reprocess"
	ActionSyntheticEvent SuggestedAction = "insert_synthetic_event"
	ActionManualReview   SuggestedAction = "manual_review"
)

// RecommendationStatus is the review lifecycle of a suggestion.
type RecommendationStatus string

const (
	RecStatusOpen      RecommendationStatus = "open"
	RecStatusApplied   RecommendationStatus = "applied"
	RecStatusDismissed RecommendationStatus = "dismissed"
	RecStatusFailed    RecommendationStatus = "failed"
)

// OpsRecommendation is a reviewable correction proposal. dedupe_key is
// unique so repeated scans never re-suggest the same fix.
type OpsRecommendation struct {
	ID                snowflake.ID         `gorm:"column:id;primaryKey" json:"id"`
	RecType           RecommendationType   `gorm:"column:rec_type" json:"rec_type"`
	SuggestedAction   SuggestedAction      `gorm:"column:suggested_action" json:"suggested_action"`
	Status            RecommendationStatus `gorm:"column:status" json:"status"`
	DedupeKey         string               `gorm:"column:dedupe_key;uniqueIndex:ux_ops_recommendations_dedupe" json:"dedupe_key"`
	Provider          string               `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string               `gorm:"column:provider_payment_id" json:"provider_payment_id"`
	EventID           *snowflake.ID        `gorm:"column:event_id" json:"event_id,omitempty"`
	Details           datatypes.JSON       `gorm:"column:details" json:"details,omitempty"`
	ErrorMessage      *string              `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time            `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"column:updated_at" json:"updated_at"`
	ResolvedAt        *time.Time           `gorm:"column:resolved_at" json:"resolved_at,omitempty"`
}

func (OpsRecommendation) TableName() string {
	return "ops_recommendations"
}
