package domain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

var (
	ErrUnknownProvider  = errors.New("paymentprovider: unknown provider")
	ErrInvalidSignature = errors.New("paymentprovider: webhook signature verification failed")
	ErrMalformedEvent   = errors.New("paymentprovider: malformed webhook event")
	ErrInvalidConfig    = errors.New("paymentprovider: provider not configured")
	ErrTransferFailed   = errors.New("paymentprovider: transfer rejected")
)

// WebhookEvent is a provider webhook normalized just enough for ingestion.
// ProviderCode stays in the provider's native vocabulary; the ledger's
// lookup tables translate it to the canonical event type.
type WebhookEvent struct {
	ProviderEventID   string          `json:"provider_event_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	ProviderCode      string          `json:"provider_code"`
	Amount            int64           `json:"amount"`
	PaymentMethod     string          `json:"payment_method"`
	OccurredAt        time.Time       `json:"occurred_at"`
	Raw               json.RawMessage `json:"raw"`
}

// PaymentStatus is the canonical view of a provider-side payment used by
// reconciliation.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCanceled  PaymentStatus = "canceled"
)

// ProviderPayment is one payment as the provider reports it.
type ProviderPayment struct {
	ProviderPaymentID string        `json:"provider_payment_id"`
	Status            PaymentStatus `json:"status"`
	Amount            int64         `json:"amount"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
}

// TransferRequest asks the provider to move settled funds to a partner's
// external account.
type TransferRequest struct {
	Amount      int64  `json:"amount"`
	Destination string `json:"destination"`
	Reference   string `json:"reference"`
}

// TransferResult carries the provider's transfer identifier.
type TransferResult struct {
	TransferID string `json:"transfer_id"`
}

// Adapter is the narrow per-gateway contract the core depends on. All
// outbound calls honor the context deadline; adapters hold no state across
// calls.
type Adapter interface {
	Name() string
	Verify(r *http.Request, body []byte) error
	Parse(body []byte) (*WebhookEvent, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
	FetchPayment(ctx context.Context, providerPaymentID string) (*ProviderPayment, error)
	ListPayments(ctx context.Context, from time.Time) ([]ProviderPayment, error)
}

// Registry resolves adapters by provider name.
type Registry interface {
	Get(name string) (Adapter, error)
	Names() []string
}
