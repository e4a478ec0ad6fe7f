package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EntryType is the accounting direction of a transaction effect.
type EntryType string

const (
	EntryTypeCredit EntryType = "credit"
	EntryTypeDebit  EntryType = "debit"
)

// TransactionEffect is the idempotency witness for applying one ledger
// event. The unique (source_event_id, entry_type) index guarantees at most
// one financial effect per event regardless of concurrent apply calls.
type TransactionEffect struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	SourceEventID     snowflake.ID  `gorm:"column:source_event_id;uniqueIndex:ux_transaction_effects_event_entry" json:"source_event_id"`
	EntryType         EntryType     `gorm:"column:entry_type;uniqueIndex:ux_transaction_effects_event_entry" json:"entry_type"`
	PartnerEarningID  *snowflake.ID `gorm:"column:partner_earning_id" json:"partner_earning_id,omitempty"`
	PlatformRevenueID *snowflake.ID `gorm:"column:platform_revenue_id" json:"platform_revenue_id,omitempty"`
	Amount            int64         `gorm:"column:amount" json:"amount"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (TransactionEffect) TableName() string {
	return "transaction_effects"
}

// EarningStatus tracks whether an earning has been consumed by a settlement.
type EarningStatus string

const (
	EarningStatusPending EarningStatus = "pending"
	EarningStatusSettled EarningStatus = "settled"
)

// PartnerEarning is money owed to (or clawed back from) a partner. Reversal
// rows carry negated amounts and point at the original through
// original_earning_id; the original row is never mutated.
type PartnerEarning struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	PartnerID         snowflake.ID  `gorm:"column:partner_id;index" json:"partner_id"`
	TenantID          *snowflake.ID `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	Provider          string        `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string        `gorm:"column:provider_payment_id;index" json:"provider_payment_id"`
	SourceEventID     snowflake.ID  `gorm:"column:source_event_id" json:"source_event_id"`
	GrossAmount       int64         `gorm:"column:gross_amount" json:"gross_amount"`
	CommissionAmount  int64         `gorm:"column:commission_amount" json:"commission_amount"`
	NetAmount         int64         `gorm:"column:net_amount" json:"net_amount"`
	Status            EarningStatus `gorm:"column:status" json:"status"`
	OriginalEarningID *snowflake.ID `gorm:"column:original_earning_id" json:"original_earning_id,omitempty"`
	RiskFlagged       bool          `gorm:"column:risk_flagged" json:"risk_flagged"`
	OccurredAt        time.Time     `gorm:"column:occurred_at" json:"occurred_at"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (PartnerEarning) TableName() string {
	return "partner_earnings"
}

// Reversal reports whether the row claws back a prior earning.
func (e PartnerEarning) Reversal() bool {
	return e.OriginalEarningID != nil
}

// PlatformRevenue is the platform's share of one payment.
type PlatformRevenue struct {
	ID                snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	SourceEventID     snowflake.ID  `gorm:"column:source_event_id;index" json:"source_event_id"`
	TenantID          *snowflake.ID `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	PartnerID         *snowflake.ID `gorm:"column:partner_id" json:"partner_id,omitempty"`
	Provider          string        `gorm:"column:provider" json:"provider"`
	ProviderPaymentID string        `gorm:"column:provider_payment_id" json:"provider_payment_id"`
	Amount            int64         `gorm:"column:amount" json:"amount"`
	RevenueType       string        `gorm:"column:revenue_type" json:"revenue_type"`
	CreatedAt         time.Time     `gorm:"column:created_at" json:"created_at"`
}

func (PlatformRevenue) TableName() string {
	return "platform_revenues"
}

const (
	RevenueTypePlatformShare = "platform_share"
	RevenueTypeReversal      = "reversal"
	RevenueTypeReinstatement = "reinstatement"
)

// FeeConfig holds commission rates in basis points. A row with a NULL
// partner_id is the platform default.
type FeeConfig struct {
	ID            snowflake.ID  `gorm:"column:id;primaryKey" json:"id"`
	PartnerID     *snowflake.ID `gorm:"column:partner_id" json:"partner_id,omitempty"`
	CommissionBps int64         `gorm:"column:commission_bps" json:"commission_bps"`
	MarkupBps     int64         `gorm:"column:markup_bps" json:"markup_bps"`
	GatewayBps    int64         `gorm:"column:gateway_bps" json:"gateway_bps"`
	GatewayFixed  int64         `gorm:"column:gateway_fixed" json:"gateway_fixed"`
	Active        bool          `gorm:"column:active" json:"active"`
	CreatedAt     time.Time     `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"column:updated_at" json:"updated_at"`
}

func (FeeConfig) TableName() string {
	return "fee_configs"
}

// FeeBreakdown is the split of one confirmed payment in minor units.
type FeeBreakdown struct {
	Gross         int64 `json:"gross"`
	GatewayFee    int64 `json:"gateway_fee"`
	PartnerMarkup int64 `json:"partner_markup"`
	PlatformShare int64 `json:"platform_share"`
	PartnerNet    int64 `json:"partner_net"`
	MerchantNet   int64 `json:"merchant_net"`
}

// ComputeBreakdown splits a gross amount using basis-point rates. Rounding
// is integer floor per component; partner_net absorbs no remainder because
// it is derived by subtraction from gross.
func ComputeBreakdown(gross int64, cfg FeeConfig) FeeBreakdown {
	gatewayFee := gross*cfg.GatewayBps/10000 + cfg.GatewayFixed
	commission := gross * cfg.CommissionBps / 10000
	markup := gross * cfg.MarkupBps / 10000
	return FeeBreakdown{
		Gross:         gross,
		GatewayFee:    gatewayFee,
		PartnerMarkup: markup,
		PlatformShare: commission - gatewayFee,
		PartnerNet:    gross - commission,
		MerchantNet:   gross - commission - markup,
	}
}

// Commission is the total amount withheld from the partner.
func (b FeeBreakdown) Commission() int64 {
	return b.Gross - b.PartnerNet
}

// StatusChange records a side transition performed while applying an event.
type StatusChange struct {
	Entity string       `json:"entity"`
	ID     snowflake.ID `json:"id"`
	Status string       `json:"status"`
}

// ApplyDetails is the structured record of what applying one event created.
// It is persisted on the ledger row and returned verbatim on reprocess.
type ApplyDetails struct {
	EventID           snowflake.ID   `json:"event_id"`
	EventType         string         `json:"event_type"`
	AppliedFinancial  bool           `json:"applied_financial"`
	EarningID         *snowflake.ID  `json:"earning_id,omitempty"`
	OriginalEarningID *snowflake.ID  `json:"original_earning_id,omitempty"`
	RevenueID         *snowflake.ID  `json:"revenue_id,omitempty"`
	Breakdown         *FeeBreakdown  `json:"breakdown,omitempty"`
	StatusChanges     []StatusChange `json:"status_changes,omitempty"`
}

// ApplyResult wraps the details with whether this call did the work or
// returned the cached prior outcome.
type ApplyResult struct {
	Details ApplyDetails `json:"details"`
	Cached  bool         `json:"cached"`
}
