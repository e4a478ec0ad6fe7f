package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/comandahub/paycore/internal/providers/payment/domain"
)

// StoneConfig configures the Stone gateway adapter.
type StoneConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

type stoneAdapter struct {
	cfg    StoneConfig
	client *http.Client
}

func NewStone(cfg StoneConfig) domain.Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openbank.stone.com.br"
	}
	return &stoneAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 12 * time.Second},
	}
}

func (a *stoneAdapter) Name() string { return "stone" }

// Verify checks the hex HMAC-SHA256 of the raw body carried in
// x-stone-signature.
func (a *stoneAdapter) Verify(r *http.Request, body []byte) error {
	if a.cfg.WebhookSecret == "" {
		return domain.ErrInvalidConfig
	}
	signature := strings.TrimSpace(r.Header.Get("x-stone-signature"))
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Stone resends webhooks without a stable event id; the ledger's dedupe
// key fallback covers that.
type stoneWebhookBody struct {
	EventType string `json:"event_type"`
	Data      struct {
		ID            string `json:"id"`
		Amount        int64  `json:"amount"`
		PaymentMethod string `json:"payment_method"`
		OccurredAt    string `json:"occurred_at"`
	} `json:"data"`
}

func (a *stoneAdapter) Parse(body []byte) (*domain.WebhookEvent, error) {
	var payload stoneWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.ErrMalformedEvent
	}
	if payload.EventType == "" || payload.Data.ID == "" {
		return nil, domain.ErrMalformedEvent
	}
	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, payload.Data.OccurredAt); err == nil {
		occurredAt = parsed.UTC()
	}
	return &domain.WebhookEvent{
		ProviderPaymentID: payload.Data.ID,
		ProviderCode:      payload.EventType,
		Amount:            payload.Data.Amount,
		PaymentMethod:     strings.ToLower(payload.Data.PaymentMethod),
		OccurredAt:        occurredAt,
		Raw:               json.RawMessage(body),
	}, nil
}

func (a *stoneAdapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	payload := map[string]any{
		"amount":      req.Amount,
		"account_id":  req.Destination,
		"description": req.Reference,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/v1/transfers", payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, domain.ErrTransferFailed
	}
	return &domain.TransferResult{TransferID: out.ID}, nil
}

type stonePayment struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
	PaidAt string `json:"paid_at"`
}

func (a *stoneAdapter) FetchPayment(ctx context.Context, providerPaymentID string) (*domain.ProviderPayment, error) {
	var out stonePayment
	if err := a.do(ctx, http.MethodGet, "/api/v1/payments/"+url.PathEscape(providerPaymentID), nil, &out); err != nil {
		return nil, err
	}
	payment := stoneToProviderPayment(out)
	return &payment, nil
}

func (a *stoneAdapter) ListPayments(ctx context.Context, from time.Time) ([]domain.ProviderPayment, error) {
	path := "/api/v1/payments?created_after=" + url.QueryEscape(from.UTC().Format(time.RFC3339))
	var out struct {
		Items []stonePayment `json:"items"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	payments := make([]domain.ProviderPayment, 0, len(out.Items))
	for _, item := range out.Items {
		payments = append(payments, stoneToProviderPayment(item))
	}
	return payments, nil
}

func (a *stoneAdapter) do(ctx context.Context, method, path string, body any, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("stone: %s %s returned %d: %w", method, path, resp.StatusCode, domain.ErrTransferFailed)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func stoneToProviderPayment(p stonePayment) domain.ProviderPayment {
	payment := domain.ProviderPayment{
		ProviderPaymentID: p.ID,
		Status:            stoneStatus(p.Status),
		Amount:            p.Amount,
	}
	if parsed, err := time.Parse(time.RFC3339, p.PaidAt); err == nil {
		paidAt := parsed.UTC()
		payment.PaidAt = &paidAt
	}
	return payment
}

func stoneStatus(status string) domain.PaymentStatus {
	switch strings.ToLower(status) {
	case "paid", "settled":
		return domain.PaymentStatusConfirmed
	case "refunded", "charged_back":
		return domain.PaymentStatusRefunded
	case "canceled", "cancelled", "expired":
		return domain.PaymentStatusCanceled
	default:
		return domain.PaymentStatusPending
	}
}
