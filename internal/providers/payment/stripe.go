package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/comandahub/paycore/internal/providers/payment/domain"
)

const stripeSignatureTolerance = 5 * time.Minute

// StripeConfig configures the Stripe gateway adapter.
type StripeConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

type stripeAdapter struct {
	cfg    StripeConfig
	client *http.Client
	now    func() time.Time
}

func NewStripe(cfg StripeConfig) domain.Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.stripe.com"
	}
	return &stripeAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: 12 * time.Second},
		now:    time.Now,
	}
}

func (a *stripeAdapter) Name() string { return "stripe" }

// Verify validates the Stripe-Signature header: v1 is the hex HMAC-SHA256
// of "<timestamp>.<body>" under the endpoint secret, and the timestamp must
// be recent.
func (a *stripeAdapter) Verify(r *http.Request, body []byte) error {
	if a.cfg.WebhookSecret == "" {
		return domain.ErrInvalidConfig
	}
	header := r.Header.Get("Stripe-Signature")
	if header == "" {
		return domain.ErrInvalidSignature
	}
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return domain.ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrInvalidSignature
	}
	if drift := a.now().UTC().Sub(time.Unix(ts, 0)); drift > stripeSignatureTolerance || drift < -stripeSignatureTolerance {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(a.cfg.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}
	return domain.ErrInvalidSignature
}

type stripeWebhookBody struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID            string `json:"id"`
			PaymentIntent string `json:"payment_intent"`
			Amount        int64  `json:"amount"`
			Currency      string `json:"currency"`
			PaymentMethod struct {
				Type string `json:"type"`
			} `json:"payment_method_details"`
		} `json:"object"`
	} `json:"data"`
}

func (a *stripeAdapter) Parse(body []byte) (*domain.WebhookEvent, error) {
	var payload stripeWebhookBody
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, domain.ErrMalformedEvent
	}
	if payload.ID == "" || payload.Type == "" {
		return nil, domain.ErrMalformedEvent
	}
	paymentID := payload.Data.Object.PaymentIntent
	if paymentID == "" {
		paymentID = payload.Data.Object.ID
	}
	if paymentID == "" {
		return nil, domain.ErrMalformedEvent
	}
	occurredAt := time.Now().UTC()
	if payload.Created > 0 {
		occurredAt = time.Unix(payload.Created, 0).UTC()
	}
	return &domain.WebhookEvent{
		ProviderEventID:   payload.ID,
		ProviderPaymentID: paymentID,
		ProviderCode:      payload.Type,
		Amount:            payload.Data.Object.Amount,
		PaymentMethod:     strings.ToLower(payload.Data.Object.PaymentMethod.Type),
		OccurredAt:        occurredAt,
		Raw:               json.RawMessage(body),
	}, nil
}

func (a *stripeAdapter) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.Amount, 10))
	values.Set("currency", "brl")
	values.Set("destination", req.Destination)
	if req.Reference != "" {
		values.Set("transfer_group", req.Reference)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := a.do(ctx, http.MethodPost, "/v1/transfers", values, req.Reference, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, domain.ErrTransferFailed
	}
	return &domain.TransferResult{TransferID: out.ID}, nil
}

type stripePaymentIntent struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Created int64  `json:"created"`
}

func (a *stripeAdapter) FetchPayment(ctx context.Context, providerPaymentID string) (*domain.ProviderPayment, error) {
	var out stripePaymentIntent
	if err := a.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(providerPaymentID), nil, "", &out); err != nil {
		return nil, err
	}
	payment := stripeToProviderPayment(out)
	return &payment, nil
}

func (a *stripeAdapter) ListPayments(ctx context.Context, from time.Time) ([]domain.ProviderPayment, error) {
	path := "/v1/payment_intents?limit=100&created%5Bgte%5D=" + strconv.FormatInt(from.UTC().Unix(), 10)
	var out struct {
		Data []stripePaymentIntent `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, "", &out); err != nil {
		return nil, err
	}
	payments := make([]domain.ProviderPayment, 0, len(out.Data))
	for _, item := range out.Data {
		payments = append(payments, stripeToProviderPayment(item))
	}
	return payments, nil
}

func (a *stripeAdapter) do(ctx context.Context, method, path string, values url.Values, idempotencyKey string, out any) error {
	if a.cfg.APIKey == "" {
		return domain.ErrInvalidConfig
	}
	body := ""
	if values != nil {
		body = values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("stripe: %s %s returned %d: %w", method, path, resp.StatusCode, domain.ErrTransferFailed)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func stripeToProviderPayment(p stripePaymentIntent) domain.ProviderPayment {
	payment := domain.ProviderPayment{
		ProviderPaymentID: p.ID,
		Status:            stripeStatus(p.Status),
		Amount:            p.Amount,
	}
	if p.Created > 0 && payment.Status == domain.PaymentStatusConfirmed {
		paidAt := time.Unix(p.Created, 0).UTC()
		payment.PaidAt = &paidAt
	}
	return payment
}

func stripeStatus(status string) domain.PaymentStatus {
	switch strings.ToLower(status) {
	case "succeeded":
		return domain.PaymentStatusConfirmed
	case "canceled":
		return domain.PaymentStatusCanceled
	default:
		return domain.PaymentStatusPending
	}
}
