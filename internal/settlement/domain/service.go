package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	"gorm.io/gorm"
)

var (
	ErrInvalidPeriod       = errors.New("settlement: period end must follow period start")
	ErrSettlementNotFound  = errors.New("settlement: not found")
	ErrInvalidStatusChange = errors.New("settlement: status transition not allowed")
	ErrSettlementImmutable = errors.New("settlement: paid settlements cannot change")
)

// Generation outcome codes surfaced to callers.
const (
	GenerateErrExists         = "settlement_exists"
	GenerateErrNoTransactions = "no_transactions"
)

// GenerateResult reports one settlement generation attempt. Exactly one of
// Settlement or ErrorCode is set; ExistingID accompanies settlement_exists.
type GenerateResult struct {
	Success    bool          `json:"success"`
	ErrorCode  string        `json:"error,omitempty"`
	ExistingID *snowflake.ID `json:"existing_id,omitempty"`
	Settlement *Settlement   `json:"settlement,omitempty"`
}

// Service batches partner earnings into immutable settlements.
type Service interface {
	Generate(ctx context.Context, partnerID snowflake.ID, periodStart, periodEnd time.Time) (*GenerateResult, error)
	Approve(ctx context.Context, id snowflake.ID) (*Settlement, error)
	Cancel(ctx context.Context, id snowflake.ID) (*Settlement, error)
	Get(ctx context.Context, id snowflake.ID) (*Settlement, error)
	MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) error
	PartnerFinancialSummary(ctx context.Context, partnerID snowflake.ID) (*PartnerFinancialSummary, error)
}

type Repository interface {
	InsertSettlement(ctx context.Context, db *gorm.DB, s *Settlement) (bool, error)
	FindActiveByPeriod(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, periodStart, periodEnd time.Time) (*Settlement, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Settlement, error)
	ListUnsettledEarnings(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, periodStart, periodEnd time.Time) ([]effectdomain.PartnerEarning, error)
	InsertItem(ctx context.Context, db *gorm.DB, item *SettlementItem) (bool, error)
	UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, gross, platformFee, partnerNet, count int64) error
	MarkEarningsSettled(ctx context.Context, db *gorm.DB, earningIDs []snowflake.ID) error
	ReleaseEarnings(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) error
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
	Summarize(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (*PartnerFinancialSummary, error)
}
