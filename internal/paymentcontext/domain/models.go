package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Source identifies where a provider payment originated.
type Source string

const (
	SourcePartnerInvoice Source = "partner_invoice"
	SourceModulePurchase Source = "module_purchase"
	SourceSubscription   Source = "subscription"
	SourceUnknown        Source = "unknown"
)

// PaymentCorrelation links a provider payment id to its owning tenant and
// partner. Rows are written when the payment is created so webhook handlers
// never have to parse external_reference strings.
type PaymentCorrelation struct {
	ID                snowflake.ID   `gorm:"column:id;primaryKey" json:"id"`
	Provider          string         `gorm:"column:provider;uniqueIndex:ux_payment_correlations_payment" json:"provider"`
	ProviderPaymentID string         `gorm:"column:provider_payment_id;uniqueIndex:ux_payment_correlations_payment" json:"provider_payment_id"`
	Source            Source         `gorm:"column:source" json:"source"`
	SourceID          *snowflake.ID  `gorm:"column:source_id" json:"source_id,omitempty"`
	TenantID          *snowflake.ID  `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	PartnerID         *snowflake.ID  `gorm:"column:partner_id" json:"partner_id,omitempty"`
	CreatedAt         time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (PaymentCorrelation) TableName() string {
	return "payment_correlations"
}

// PartnerInvoice is a billing invoice issued to a partner. The resolver
// consults open invoices first.
type PartnerInvoice struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	PartnerID         snowflake.ID  `gorm:"column:partner_id" json:"partner_id"`
	TenantID          *snowflake.ID `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	Provider          string        `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string        `gorm:"column:provider_payment_id;index" json:"provider_payment_id"`
	Amount            int64         `gorm:"column:amount" json:"amount"`
	Status            string        `gorm:"column:status" json:"status"`
	DueDate           time.Time     `gorm:"column:due_date" json:"due_date"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (PartnerInvoice) TableName() string {
	return "partner_invoices"
}

const (
	InvoiceStatusOpen      = "open"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusOverdue   = "overdue"
	InvoiceStatusCancelled = "cancelled"
)

// ModulePurchase records a tenant buying a marketplace module.
type ModulePurchase struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	TenantID          snowflake.ID  `gorm:"column:tenant_id" json:"tenant_id"`
	PartnerID         *snowflake.ID `gorm:"column:partner_id" json:"partner_id,omitempty"`
	ModuleKey         string        `gorm:"column:module_key" json:"module_key"`
	Provider          string        `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string        `gorm:"column:provider_payment_id;index" json:"provider_payment_id"`
	Amount            int64         `gorm:"column:amount" json:"amount"`
	Status            string        `gorm:"column:status" json:"status"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (ModulePurchase) TableName() string {
	return "module_purchases"
}

// Subscription is a tenant's recurring plan. The effect engine moves it to
// past_due on chargebacks and overdue events.
type Subscription struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	TenantID          snowflake.ID  `gorm:"column:tenant_id" json:"tenant_id"`
	PartnerID         *snowflake.ID `gorm:"column:partner_id" json:"partner_id,omitempty"`
	Provider          string        `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string        `gorm:"column:provider_payment_id;index" json:"provider_payment_id"`
	PlanKey           string        `gorm:"column:plan_key" json:"plan_key"`
	Status            string        `gorm:"column:status" json:"status"`
	TrialEndsAt       *time.Time    `gorm:"column:trial_ends_at" json:"trial_ends_at,omitempty"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

const (
	SubscriptionStatusTrial    = "trial"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)
