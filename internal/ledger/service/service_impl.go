package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/ledger/domain"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ledger.service"),
		genID:      p.GenID,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Insert stores one canonical event, or returns the existing row when the
// (provider, provider_event_id) pair has been seen before. The unique index
// is the only concurrency control; N racing calls converge on one row.
func (s *Service) Insert(ctx context.Context, cmd domain.InsertCommand) (*domain.InsertResult, error) {
	if err := validate(&cmd); err != nil {
		return nil, err
	}

	event := domain.PaymentEvent{
		ID:                s.genID.Generate(),
		Provider:          cmd.Provider,
		ProviderEventID:   cmd.ProviderEventID,
		ProviderPaymentID: cmd.ProviderPaymentID,
		EventType:         cmd.EventType,
		TenantID:          cmd.TenantID,
		PartnerID:         cmd.PartnerID,
		AmountGross:       cmd.AmountGross,
		PaymentMethod:     cmd.PaymentMethod,
		OccurredAt:        cmd.OccurredAt.UTC(),
		Payload:           datatypes.JSON(cmd.Payload),
		ReceivedAt:        time.Now().UTC(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &event)
	if err != nil {
		return nil, err
	}
	if inserted {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, string(event.EventType))
		}
		return &domain.InsertResult{Event: &event, IsNew: true}, nil
	}

	existing, err := s.repo.FindByProviderEventID(ctx, s.db, cmd.Provider, cmd.ProviderEventID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrEventNotFound
	}
	s.log.Debug("duplicate payment event delivery",
		zap.String("provider", cmd.Provider),
		zap.String("provider_event_id", cmd.ProviderEventID),
	)
	return &domain.InsertResult{Event: existing, IsNew: false}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PaymentEvent, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	return event, nil
}

func (s *Service) ListByPayment(ctx context.Context, provider, providerPaymentID string) ([]domain.PaymentEvent, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if provider == "" || providerPaymentID == "" {
		return nil, domain.ErrInvalidEvent
	}
	return s.repo.ListByProviderPaymentID(ctx, s.db, provider, providerPaymentID)
}

func validate(cmd *domain.InsertCommand) error {
	cmd.Provider = strings.ToLower(strings.TrimSpace(cmd.Provider))
	if cmd.Provider == "" {
		return domain.ErrInvalidProvider
	}
	cmd.ProviderEventID = strings.TrimSpace(cmd.ProviderEventID)
	if cmd.ProviderEventID == "" {
		return domain.ErrInvalidEvent
	}
	cmd.ProviderPaymentID = strings.TrimSpace(cmd.ProviderPaymentID)
	if cmd.ProviderPaymentID == "" {
		return domain.ErrInvalidEvent
	}
	if !cmd.EventType.Valid() {
		return domain.ErrUnknownEventType
	}
	if cmd.OccurredAt.IsZero() {
		return domain.ErrInvalidOccurredAt
	}
	if len(cmd.Payload) == 0 || !json.Valid(cmd.Payload) {
		return domain.ErrInvalidPayload
	}
	switch cmd.EventType {
	case domain.EventTypeConfirmed, domain.EventTypeRefunded, domain.EventTypeChargeback:
		if cmd.AmountGross <= 0 {
			return domain.ErrInvalidAmount
		}
	default:
		if cmd.AmountGross < 0 {
			return domain.ErrInvalidAmount
		}
	}
	return nil
}
