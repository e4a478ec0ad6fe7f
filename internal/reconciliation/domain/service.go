package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrRecommendationNotFound = errors.New("reconciliation: recommendation not found")
	ErrRecommendationClosed   = errors.New("reconciliation: recommendation is not open")
	ErrMissingEventReference  = errors.New("reconciliation: recommendation has no event reference")
)

// ReconcileFilter scopes one reconciliation run.
type ReconcileFilter struct {
	Provider  string
	From      time.Time
	PartnerID *snowflake.ID
	TenantID  *snowflake.ID
}

// ReconcileResult summarizes one run. IsClean holds iff every record is ok.
type ReconcileResult struct {
	RunID           snowflake.ID `json:"run_id"`
	OK              int          `json:"ok"`
	Mismatch        int          `json:"mismatch"`
	MissingInternal int          `json:"missing_internal"`
	Orphan          int          `json:"orphan"`
	IsClean         bool         `json:"is_clean"`
}

// GenerateResult reports how many suggestions a scan produced.
type GenerateResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// InternalPaymentState is the ledger-derived view of one provider payment.
type InternalPaymentState struct {
	Exists         bool
	ConfirmedNet   int64
	ConfirmedGross int64
	Reversed       bool
}

// Service diffs provider truth against the ledger and manages correction
// proposals.
type Service interface {
	ReconcileProviderPayments(ctx context.Context, filter ReconcileFilter) (*ReconcileResult, error)
	GenerateRecommendations(ctx context.Context) (*GenerateResult, error)
	// Apply executes the suggested action through idempotent primitives;
	// applying twice is safe.
	Apply(ctx context.Context, id snowflake.ID) (*OpsRecommendation, error)
	Dismiss(ctx context.Context, id snowflake.ID) (*OpsRecommendation, error)
	ListOpen(ctx context.Context, limit int) ([]OpsRecommendation, error)
}

type Repository interface {
	InsertRecord(ctx context.Context, db *gorm.DB, record *ReconciliationRecord) error
	ListRecordsByRun(ctx context.Context, db *gorm.DB, runID snowflake.ID) ([]ReconciliationRecord, error)
	ListRecentNonOK(ctx context.Context, db *gorm.DB, since time.Time) ([]ReconciliationRecord, error)
	InternalState(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*InternalPaymentState, error)
	ListEarningPaymentIDs(ctx context.Context, db *gorm.DB, provider string, from time.Time, partnerID, tenantID *snowflake.ID) ([]string, error)
	InsertRecommendation(ctx context.Context, db *gorm.DB, rec *OpsRecommendation) (bool, error)
	FindRecommendation(ctx context.Context, db *gorm.DB, id snowflake.ID) (*OpsRecommendation, error)
	ListOpenRecommendations(ctx context.Context, db *gorm.DB, limit int) ([]OpsRecommendation, error)
	ResolveRecommendation(ctx context.Context, db *gorm.DB, id snowflake.ID, status RecommendationStatus, errorMessage *string, at time.Time) (bool, error)
	ListUnappliedEventIDs(ctx context.Context, db *gorm.DB, olderThan time.Time, limit int) ([]UnappliedEvent, error)
	ListDeadNotificationIDs(ctx context.Context, db *gorm.DB, limit int) ([]snowflake.ID, error)
}

// UnappliedEvent references a ledger row still waiting for application.
type UnappliedEvent struct {
	ID                snowflake.ID
	Provider          string
	ProviderPaymentID string
}
