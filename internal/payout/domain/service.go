package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrJobNotFound = errors.New("payout: job not found")

// Execution outcome codes surfaced to callers.
const (
	ExecuteErrInvalidStatus = "invalid_settlement_status"
	ExecuteErrPayoutExists  = "payout_exists"
)

// ExecuteCommand requests a payout for a settlement.
type ExecuteCommand struct {
	SettlementID snowflake.ID
	Provider     string
	Method       string
	Destination  string
}

// ExecuteResult reports one payout execution attempt.
type ExecuteResult struct {
	Success    bool          `json:"success"`
	ErrorCode  string        `json:"error,omitempty"`
	ExistingID *snowflake.ID `json:"existing_id,omitempty"`
	Job        *PayoutJob    `json:"job,omitempty"`
}

// ProcessResult summarizes one worker batch.
type ProcessResult struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Dead      int `json:"dead"`
}

// Service queues and executes partner payouts.
type Service interface {
	Execute(ctx context.Context, cmd ExecuteCommand) (*ExecuteResult, error)
	// ProcessQueue claims due jobs and runs provider transfers. No lock or
	// transaction is held across the provider call; state is persisted
	// strictly before and after.
	ProcessQueue(ctx context.Context, batchSize int) (*ProcessResult, error)
	Get(ctx context.Context, id snowflake.ID) (*PayoutJob, error)
}

type Repository interface {
	InsertJob(ctx context.Context, db *gorm.DB, job *PayoutJob) (bool, error)
	FindActiveBySettlement(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) (*PayoutJob, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PayoutJob, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]PayoutJob, error)
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)
	MarkDone(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, at time.Time) error
	MarkRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, nextAttemptAt time.Time, lastError string) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, attempts int, lastError string, at time.Time) error
}
