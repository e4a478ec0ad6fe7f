package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// InsertCommand carries one normalized webhook delivery into the ledger.
type InsertCommand struct {
	Provider          string
	ProviderEventID   string
	ProviderPaymentID string
	EventType         EventType
	TenantID          *snowflake.ID
	PartnerID         *snowflake.ID
	AmountGross       int64
	PaymentMethod     string
	OccurredAt        time.Time
	Payload           []byte
}

// InsertResult reports the stored row and whether this call created it.
type InsertResult struct {
	Event *PaymentEvent
	IsNew bool
}

type Service interface {
	Insert(ctx context.Context, cmd InsertCommand) (*InsertResult, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentEvent, error)
	ListByPayment(ctx context.Context, provider, providerPaymentID string) ([]PaymentEvent, error)
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *PaymentEvent) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentEvent, error)
	FindByProviderEventID(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*PaymentEvent, error)
	ListByProviderPaymentID(ctx context.Context, db *gorm.DB, provider, providerPaymentID string) ([]PaymentEvent, error)
	MarkApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, appliedAt time.Time, details []byte) error
}
