package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	"github.com/comandahub/paycore/internal/ingest/domain"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry providerdomain.Registry
	Resolver contextdomain.Service
	Ledger   ledgerdomain.Service
	Effects  effectdomain.Service
}

type Service struct {
	log      *zap.Logger
	registry providerdomain.Registry
	resolver contextdomain.Service
	ledger   ledgerdomain.Service
	effects  effectdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("ingest.service"),
		registry: p.Registry,
		resolver: p.Resolver,
		ledger:   p.Ledger,
		effects:  p.Effects,
	}
}

// IngestWebhook verifies, normalizes and stores one delivery, then applies
// its effects when the ledger insert won. The signature check runs before
// anything touches storage.
func (s *Service) IngestWebhook(ctx context.Context, provider string, r *http.Request, body []byte) (*domain.Result, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	adapter, err := s.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, domain.ErrInvalidPayload
	}
	if err := adapter.Verify(r, body); err != nil {
		return nil, err
	}

	event, err := adapter.Parse(body)
	if err != nil {
		return nil, err
	}

	eventType, ok := ledgerdomain.NormalizeEventType(provider, event.ProviderCode)
	if !ok {
		s.log.Debug("webhook event code not mapped, ignoring",
			zap.String("provider", provider),
			zap.String("code", event.ProviderCode),
		)
		return &domain.Result{Ignored: true}, nil
	}

	resolved, err := s.resolver.Resolve(ctx, provider, event.ProviderPaymentID)
	if err != nil {
		return nil, err
	}

	inserted, err := s.ledger.Insert(ctx, ledgerdomain.InsertCommand{
		Provider:          provider,
		ProviderEventID:   ledgerdomain.DedupeKey(provider, event.ProviderEventID, event.ProviderPaymentID, eventType, event.OccurredAt),
		ProviderPaymentID: event.ProviderPaymentID,
		EventType:         eventType,
		TenantID:          resolved.TenantID,
		PartnerID:         resolved.PartnerID,
		AmountGross:       event.Amount,
		PaymentMethod:     event.PaymentMethod,
		OccurredAt:        event.OccurredAt,
		Payload:           event.Raw,
	})
	if err != nil {
		return nil, err
	}

	result := &domain.Result{
		EventID:   inserted.Event.ID,
		EventType: string(inserted.Event.EventType),
		IsNew:     inserted.IsNew,
	}
	if !inserted.IsNew {
		// Duplicate delivery: the first insert's effects stand.
		return result, nil
	}

	if _, err := s.effects.Apply(ctx, inserted.Event.ID); err != nil {
		// The event is durably stored; a failed apply is retried later
		// through the recommendation pipeline, not by failing the webhook.
		if errors.Is(err, effectdomain.ErrContextUnresolved) ||
			errors.Is(err, effectdomain.ErrMissingFeeConfig) ||
			errors.Is(err, effectdomain.ErrOriginalEarningMissing) {
			s.log.Warn("event stored but not applied",
				zap.Int64("event_id", inserted.Event.ID.Int64()),
				zap.String("provider", provider),
				zap.Error(err),
			)
			return result, nil
		}
		return nil, err
	}
	result.Applied = true
	return result, nil
}
