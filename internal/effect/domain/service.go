package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrEventNotFound          = errors.New("effect: payment event not found")
	ErrMissingFeeConfig       = errors.New("effect: no fee configuration for partner")
	ErrOriginalEarningMissing = errors.New("effect: original earning not found for reversal")
	ErrContextUnresolved      = errors.New("effect: payment context unresolved")
)

// Service derives financial effects from ledger events exactly once.
type Service interface {
	// Apply derives the event's effects. Calling it again, concurrently or
	// later, returns the first call's details without touching storage.
	Apply(ctx context.Context, eventID snowflake.ID) (*ApplyResult, error)
	// Reprocess re-runs Apply; safe to call arbitrarily many times.
	Reprocess(ctx context.Context, eventID snowflake.ID) (*ApplyResult, error)
}

// Repository is the storage surface for the effect engine. Write methods
// take the transaction handle so effect rows and the ledger applied_at mark
// commit atomically.
type Repository interface {
	InsertEffect(ctx context.Context, db *gorm.DB, effect *TransactionEffect) (bool, error)
	FindEffect(ctx context.Context, db *gorm.DB, sourceEventID snowflake.ID, entryType EntryType) (*TransactionEffect, error)
	InsertEarning(ctx context.Context, db *gorm.DB, earning *PartnerEarning) error
	InsertRevenue(ctx context.Context, db *gorm.DB, revenue *PlatformRevenue) error
	FindOriginalEarning(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*PartnerEarning, error)
	FindOpenCancellationReversal(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*PartnerEarning, error)
	FindEarningByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PartnerEarning, error)
	GetFeeConfig(ctx context.Context, db *gorm.DB, partnerID *snowflake.ID) (*FeeConfig, error)
	UpdateSubscriptionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
	UpdateInvoiceStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
	UpdateModulePurchaseStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status string) error
}
