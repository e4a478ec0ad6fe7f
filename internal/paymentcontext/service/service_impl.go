package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/paymentcontext/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("paymentcontext.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) RecordCorrelation(ctx context.Context, cmd domain.RecordCommand) (*domain.PaymentCorrelation, error) {
	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	paymentID := strings.TrimSpace(cmd.ProviderPaymentID)
	if paymentID == "" {
		return nil, domain.ErrInvalidPaymentID
	}
	switch cmd.Source {
	case domain.SourcePartnerInvoice, domain.SourceModulePurchase, domain.SourceSubscription:
	default:
		return nil, domain.ErrInvalidSource
	}

	row := domain.PaymentCorrelation{
		ID:                s.genID.Generate(),
		Provider:          provider,
		ProviderPaymentID: paymentID,
		Source:            cmd.Source,
		SourceID:          cmd.SourceID,
		TenantID:          cmd.TenantID,
		PartnerID:         cmd.PartnerID,
		CreatedAt:         time.Now().UTC(),
	}
	inserted, err := s.repo.InsertCorrelation(ctx, s.db, &row)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &row, nil
	}
	return s.repo.FindCorrelation(ctx, s.db, provider, paymentID)
}

// Resolve looks up the correlation table first, then falls back to scanning
// open invoices, module purchases and subscriptions in that order. An
// unattributable payment resolves to "unknown" rather than a guess.
func (s *Service) Resolve(ctx context.Context, provider, providerPaymentID string) (domain.Context, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerPaymentID = strings.TrimSpace(providerPaymentID)
	if providerPaymentID == "" {
		return domain.Context{}, domain.ErrInvalidPaymentID
	}

	if provider != "" {
		corr, err := s.repo.FindCorrelation(ctx, s.db, provider, providerPaymentID)
		if err != nil {
			return domain.Context{}, err
		}
		if corr != nil {
			return domain.Context{
				Source:    corr.Source,
				SourceID:  corr.SourceID,
				TenantID:  corr.TenantID,
				PartnerID: corr.PartnerID,
			}, nil
		}
	}

	invoice, err := s.repo.FindOpenInvoiceByPaymentID(ctx, s.db, providerPaymentID)
	if err != nil {
		return domain.Context{}, err
	}
	if invoice != nil {
		partnerID := invoice.PartnerID
		return domain.Context{
			Source:    domain.SourcePartnerInvoice,
			SourceID:  &invoice.ID,
			TenantID:  invoice.TenantID,
			PartnerID: &partnerID,
		}, nil
	}

	purchase, err := s.repo.FindModulePurchaseByPaymentID(ctx, s.db, providerPaymentID)
	if err != nil {
		return domain.Context{}, err
	}
	if purchase != nil {
		tenantID := purchase.TenantID
		return domain.Context{
			Source:    domain.SourceModulePurchase,
			SourceID:  &purchase.ID,
			TenantID:  &tenantID,
			PartnerID: purchase.PartnerID,
		}, nil
	}

	sub, err := s.repo.FindSubscriptionByPaymentID(ctx, s.db, providerPaymentID)
	if err != nil {
		return domain.Context{}, err
	}
	if sub != nil {
		tenantID := sub.TenantID
		return domain.Context{
			Source:    domain.SourceSubscription,
			SourceID:  &sub.ID,
			TenantID:  &tenantID,
			PartnerID: sub.PartnerID,
		}, nil
	}

	s.log.Debug("payment context unresolved",
		zap.String("provider", provider),
		zap.String("provider_payment_id", providerPaymentID),
	)
	return domain.Context{Source: domain.SourceUnknown}, nil
}
