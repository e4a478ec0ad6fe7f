package payment

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/comandahub/paycore/internal/providers/payment/domain"
)

// AsaasConfig configures the Asaas gateway adapter.
type AsaasConfig struct {
	BaseURL      string
	APIKey       string
	WebhookToken string
}

type asaasAdapter struct {
	cfg    AsaasConfig
	client *http.Client
}

func NewAsaas(cfg AsaasConfig) domain.Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.asaas.com"
	}
	return &asaasAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

func (a *asaasAdapter) Name() string { return "asaas" }

// Verify checks the asaas-access-token header against the configured
// webhook token.
func (a *asaasAdapter) Verify(r *http.Request, _ []byte) error {
	if a.cfg.WebhookToken == "" {
		return domain.ErrInvalidConfig
	}
	token := r.Header.Get("asaas-access-token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.cfg.WebhookToken)) != 1 {
		return domain.ErrInvalidSignature
	}
	return nil
}

type asaasWebhookBody struct {
	ID      string `json:"id"`
	Event   string `json:"event"`
	Payment struct {
		ID          string  `json:"id"`
		Value       float64 `json:"value"`
		BillingType string  `json:"billingType"`
		PaymentDate string  `json:"paymentDate"`
		DateCreated string  `json:"dateCreated"`
	} `json:"payment"`
}

func (a *asaasAdapter) Parse(body []byte) (*domain.WebhookEvent, error) {
	var payload asaasWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.ErrMalformedEvent
	}
	if payload.Event == "" || payload.Payment.ID == "" {
		return nil, domain.ErrMalformedEvent
	}
	occurredAt := asaasDate(payload.Payment.PaymentDate)
	if occurredAt.IsZero() {
		occurredAt = asaasDate(payload.Payment.DateCreated)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return &domain.WebhookEvent{
		ProviderEventID:   payload.ID,
		ProviderPaymentID: payload.Payment.ID,
		ProviderCode:      payload.Event,
		Amount:            toCents(payload.Payment.Value),
		PaymentMethod:     strings.ToLower(payload.Payment.BillingType),
		OccurredAt:        occurredAt,
		Raw:               json.RawMessage(body),
	}, nil
}

func (a *asaasAdapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	payload := map[string]any{
		"value":         float64(req.Amount) / 100,
		"pixAddressKey": req.Destination,
		"description":   req.Reference,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v3/transfers", payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, domain.ErrTransferFailed
	}
	return &domain.TransferResult{TransferID: out.ID}, nil
}

type asaasPayment struct {
	ID          string  `json:"id"`
	Value       float64 `json:"value"`
	Status      string  `json:"status"`
	PaymentDate string  `json:"paymentDate"`
}

func (a *asaasAdapter) FetchPayment(ctx context.Context, providerPaymentID string) (*domain.ProviderPayment, error) {
	var out asaasPayment
	if err := a.do(ctx, http.MethodGet, "/v3/payments/"+url.PathEscape(providerPaymentID), nil, &out); err != nil {
		return nil, err
	}
	payment := toProviderPayment(out)
	return &payment, nil
}

func (a *asaasAdapter) ListPayments(ctx context.Context, from time.Time) ([]domain.ProviderPayment, error) {
	path := "/v3/payments?dateCreated%5Bge%5D=" + from.UTC().Format("2006-01-02")
	var out struct {
		Data []asaasPayment `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	payments := make([]domain.ProviderPayment, 0, len(out.Data))
	for _, item := range out.Data {
		payments = append(payments, toProviderPayment(item))
	}
	return payments, nil
}

func (a *asaasAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	if a.cfg.APIKey == "" {
		return domain.ErrInvalidConfig
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("access_token", a.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("asaas: %s %s returned %d: %w", method, path, resp.StatusCode, domain.ErrTransferFailed)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func toProviderPayment(p asaasPayment) domain.ProviderPayment {
	payment := domain.ProviderPayment{
		ProviderPaymentID: p.ID,
		Status:            asaasStatus(p.Status),
		Amount:            toCents(p.Value),
	}
	if paidAt := asaasDate(p.PaymentDate); !paidAt.IsZero() {
		payment.PaidAt = &paidAt
	}
	return payment
}

func asaasStatus(status string) domain.PaymentStatus {
	switch strings.ToUpper(status) {
	case "RECEIVED", "CONFIRMED", "RECEIVED_IN_CASH":
		return domain.PaymentStatusConfirmed
	case "REFUNDED", "REFUND_REQUESTED":
		return domain.PaymentStatusRefunded
	case "DELETED", "CHARGEBACK_REQUESTED":
		return domain.PaymentStatusCanceled
	default:
		return domain.PaymentStatusPending
	}
}

func asaasDate(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC()
		}
	}
	return time.Time{}
}

func toCents(value float64) int64 {
	return int64(math.Round(value * 100))
}
