package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrInvalidProvider  = errors.New("paymentcontext: provider is required")
	ErrInvalidPaymentID = errors.New("paymentcontext: provider payment id is required")
	ErrInvalidSource    = errors.New("paymentcontext: unknown correlation source")
)

// Context is the resolved ownership of a provider payment.
type Context struct {
	Source    Source        `json:"source"`
	SourceID  *snowflake.ID `json:"source_id,omitempty"`
	TenantID  *snowflake.ID `json:"tenant_id,omitempty"`
	PartnerID *snowflake.ID `json:"partner_id,omitempty"`
}

// Unknown reports whether the payment could not be attributed.
func (c Context) Unknown() bool {
	return c.Source == SourceUnknown || c.Source == ""
}

// RecordCommand registers a correlation at payment-creation time.
type RecordCommand struct {
	Provider          string
	ProviderPaymentID string
	Source            Source
	SourceID          *snowflake.ID
	TenantID          *snowflake.ID
	PartnerID         *snowflake.ID
}

// Service resolves provider payment ids to their owning tenant and partner.
type Service interface {
	// RecordCorrelation stores the mapping; repeated calls for the same
	// payment keep the first row.
	RecordCorrelation(ctx context.Context, cmd RecordCommand) (*PaymentCorrelation, error)
	// Resolve returns the payment's context, or Source "unknown" when no
	// correlation, invoice, purchase or subscription references it.
	Resolve(ctx context.Context, provider, providerPaymentID string) (Context, error)
}

// Repository is the storage surface for the resolver.
type Repository interface {
	InsertCorrelation(ctx context.Context, db *gorm.DB, row *PaymentCorrelation) (bool, error)
	FindCorrelation(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) (*PaymentCorrelation, error)
	FindOpenInvoiceByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*PartnerInvoice, error)
	FindModulePurchaseByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*ModulePurchase, error)
	FindSubscriptionByPaymentID(ctx context.Context, db *gorm.DB, providerPaymentID string) (*Subscription, error)
}
