package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/effect/domain"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	"github.com/comandahub/paycore/internal/locking"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const applyLockTTL = 15 * time.Second

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	LedgerRepo ledgerdomain.Repository
	Resolver   contextdomain.Service
	Locker     *locking.Locker     `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	fees       config.FeeConfig
	repo       domain.Repository
	ledgerRepo ledgerdomain.Repository
	resolver   contextdomain.Service
	locker     *locking.Locker
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("effect.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		fees:       p.Config.Fees,
		repo:       p.Repo,
		ledgerRepo: p.LedgerRepo,
		resolver:   p.Resolver,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
	}
}

// Apply derives the financial and status effects of one ledger event.
// applied_at on the event is the fast path; the unique
// (source_event_id, entry_type) index on transaction_effects is the guard
// that makes concurrent applies converge on exactly one effect. The redis
// lock in front only reduces wasted work.
func (s *Service) Apply(ctx context.Context, eventID snowflake.ID) (*domain.ApplyResult, error) {
	event, err := s.ledgerRepo.FindByID(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrEventNotFound
	}
	if event.AppliedAt != nil {
		return cachedResult(event)
	}

	if s.locker != nil {
		key := fmt.Sprintf("paycore:effect:apply:%d", eventID)
		token, ok, lockErr := s.locker.TryLock(ctx, key, applyLockTTL)
		if lockErr == nil && ok {
			defer func() {
				if releaseErr := s.locker.Release(context.WithoutCancel(ctx), key, token); releaseErr != nil {
					s.log.Warn("apply lock release failed", zap.Error(releaseErr))
				}
			}()
		}
	}

	resolved, err := s.resolver.Resolve(ctx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return nil, err
	}

	details := domain.ApplyDetails{
		EventID:   event.ID,
		EventType: string(event.EventType),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var dispatchErr error
		switch event.EventType {
		case ledgerdomain.EventTypeConfirmed:
			dispatchErr = s.applyConfirmed(ctx, tx, event, resolved, &details)
		case ledgerdomain.EventTypeRefunded:
			dispatchErr = s.applyReversal(ctx, tx, event, resolved, false, &details)
		case ledgerdomain.EventTypeChargeback:
			dispatchErr = s.applyReversal(ctx, tx, event, resolved, true, &details)
		case ledgerdomain.EventTypeOverdue:
			dispatchErr = s.applyStatusOnly(ctx, tx, resolved, contextdomain.SubscriptionStatusPastDue, contextdomain.InvoiceStatusOverdue, &details)
		case ledgerdomain.EventTypeCanceled:
			dispatchErr = s.applyCanceled(ctx, tx, event, resolved, &details)
		case ledgerdomain.EventTypeRestored:
			dispatchErr = s.applyRestored(ctx, tx, event, resolved, &details)
		default:
			// CREATED and future status-only types record the apply mark
			// with no side effects.
		}
		if dispatchErr != nil {
			return dispatchErr
		}
		raw, marshalErr := json.Marshal(details)
		if marshalErr != nil {
			return marshalErr
		}
		return s.ledgerRepo.MarkApplied(ctx, tx, event.ID, s.clock.Now(), raw)
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordEffectApplied(ctx, string(event.EventType), details.AppliedFinancial)
	}
	s.log.Info("payment event applied",
		zap.Int64("event_id", int64(event.ID)),
		zap.String("event_type", string(event.EventType)),
		zap.Bool("financial", details.AppliedFinancial),
	)
	return &domain.ApplyResult{Details: details}, nil
}

func (s *Service) Reprocess(ctx context.Context, eventID snowflake.ID) (*domain.ApplyResult, error) {
	return s.Apply(ctx, eventID)
}

func cachedResult(event *ledgerdomain.PaymentEvent) (*domain.ApplyResult, error) {
	var details domain.ApplyDetails
	if len(event.ApplyDetails) > 0 {
		if err := json.Unmarshal(event.ApplyDetails, &details); err != nil {
			return nil, err
		}
	}
	return &domain.ApplyResult{Details: details, Cached: true}, nil
}

func (s *Service) applyConfirmed(ctx context.Context, tx *gorm.DB, event *ledgerdomain.PaymentEvent, resolved contextdomain.Context, details *domain.ApplyDetails) error {
	partnerID := partnerFor(event, resolved)
	if partnerID == nil {
		return domain.ErrContextUnresolved
	}

	feeCfg, err := s.feeConfigFor(ctx, tx, partnerID)
	if err != nil {
		return err
	}
	breakdown := domain.ComputeBreakdown(event.AmountGross, *feeCfg)
	now := s.clock.Now()

	earning := domain.PartnerEarning{
		ID:                s.genID.Generate(),
		PartnerID:         *partnerID,
		TenantID:          tenantFor(event, resolved),
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		SourceEventID:     event.ID,
		GrossAmount:       breakdown.Gross,
		CommissionAmount:  breakdown.Commission(),
		NetAmount:         breakdown.PartnerNet,
		Status:            domain.EarningStatusPending,
		OccurredAt:        event.OccurredAt,
		CreatedAt:         now,
	}
	revenue := domain.PlatformRevenue{
		ID:                s.genID.Generate(),
		SourceEventID:     event.ID,
		TenantID:          earning.TenantID,
		PartnerID:         partnerID,
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		Amount:            breakdown.PlatformShare,
		RevenueType:       domain.RevenueTypePlatformShare,
		CreatedAt:         now,
	}
	effect := domain.TransactionEffect{
		ID:                s.genID.Generate(),
		SourceEventID:     event.ID,
		EntryType:         domain.EntryTypeCredit,
		PartnerEarningID:  &earning.ID,
		PlatformRevenueID: &revenue.ID,
		Amount:            breakdown.PartnerNet,
		CreatedAt:         now,
	}

	inserted, err := s.repo.InsertEffect(ctx, tx, &effect)
	if err != nil {
		return err
	}
	if !inserted {
		return s.adoptExistingEffect(ctx, tx, event.ID, domain.EntryTypeCredit, details)
	}
	if err := s.repo.InsertEarning(ctx, tx, &earning); err != nil {
		return err
	}
	if err := s.repo.InsertRevenue(ctx, tx, &revenue); err != nil {
		return err
	}

	details.AppliedFinancial = true
	details.EarningID = &earning.ID
	details.RevenueID = &revenue.ID
	details.Breakdown = &breakdown

	return s.markSourcePaid(ctx, tx, resolved, details)
}

func (s *Service) applyReversal(ctx context.Context, tx *gorm.DB, event *ledgerdomain.PaymentEvent, resolved contextdomain.Context, chargeback bool, details *domain.ApplyDetails) error {
	original, err := s.repo.FindOriginalEarning(ctx, tx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if original == nil {
		return domain.ErrOriginalEarningMissing
	}
	now := s.clock.Now()

	reversal := domain.PartnerEarning{
		ID:                s.genID.Generate(),
		PartnerID:         original.PartnerID,
		TenantID:          original.TenantID,
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		SourceEventID:     event.ID,
		GrossAmount:       -original.GrossAmount,
		CommissionAmount:  -original.CommissionAmount,
		NetAmount:         -original.NetAmount,
		Status:            domain.EarningStatusPending,
		OriginalEarningID: &original.ID,
		RiskFlagged:       chargeback,
		OccurredAt:        event.OccurredAt,
		CreatedAt:         now,
	}
	revenue := domain.PlatformRevenue{
		ID:                s.genID.Generate(),
		SourceEventID:     event.ID,
		TenantID:          original.TenantID,
		PartnerID:         &original.PartnerID,
		Provider:          event.Provider,
		ProviderPaymentID: event.ProviderPaymentID,
		Amount:            -(original.CommissionAmount),
		RevenueType:       domain.RevenueTypeReversal,
		CreatedAt:         now,
	}
	effect := domain.TransactionEffect{
		ID:                s.genID.Generate(),
		SourceEventID:     event.ID,
		EntryType:         domain.EntryTypeDebit,
		PartnerEarningID:  &reversal.ID,
		PlatformRevenueID: &revenue.ID,
		Amount:            reversal.NetAmount,
		CreatedAt:         now,
	}

	inserted, err := s.repo.InsertEffect(ctx, tx, &effect)
	if err != nil {
		return err
	}
	if !inserted {
		return s.adoptExistingEffect(ctx, tx, event.ID, domain.EntryTypeDebit, details)
	}
	if err := s.repo.InsertEarning(ctx, tx, &reversal); err != nil {
		return err
	}
	if err := s.repo.InsertRevenue(ctx, tx, &revenue); err != nil {
		return err
	}

	details.AppliedFinancial = true
	details.EarningID = &reversal.ID
	details.OriginalEarningID = &original.ID
	details.RevenueID = &revenue.ID

	if chargeback && resolved.Source == contextdomain.SourceSubscription && resolved.SourceID != nil {
		if err := s.repo.UpdateSubscriptionStatus(ctx, tx, *resolved.SourceID, contextdomain.SubscriptionStatusPastDue); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "subscription",
			ID:     *resolved.SourceID,
			Status: contextdomain.SubscriptionStatusPastDue,
		})
	}
	return nil
}

// applyStatusOnly handles OVERDUE and RESTORED: no money moves, only the
// owning subscription or invoice changes state.
func (s *Service) applyStatusOnly(ctx context.Context, tx *gorm.DB, resolved contextdomain.Context, subscriptionStatus, invoiceStatus string, details *domain.ApplyDetails) error {
	if resolved.SourceID == nil {
		return nil
	}
	switch resolved.Source {
	case contextdomain.SourceSubscription:
		if err := s.repo.UpdateSubscriptionStatus(ctx, tx, *resolved.SourceID, subscriptionStatus); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "subscription",
			ID:     *resolved.SourceID,
			Status: subscriptionStatus,
		})
	case contextdomain.SourcePartnerInvoice:
		if invoiceStatus == "" {
			return nil
		}
		if err := s.repo.UpdateInvoiceStatus(ctx, tx, *resolved.SourceID, invoiceStatus); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "partner_invoice",
			ID:     *resolved.SourceID,
			Status: invoiceStatus,
		})
	}
	return nil
}

// applyCanceled is a status transition, with a financial reversal only when
// a confirmed earning already exists for the payment.
func (s *Service) applyCanceled(ctx context.Context, tx *gorm.DB, event *ledgerdomain.PaymentEvent, resolved contextdomain.Context, details *domain.ApplyDetails) error {
	original, err := s.repo.FindOriginalEarning(ctx, tx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if original != nil {
		if err := s.applyReversal(ctx, tx, event, resolved, false, details); err != nil {
			return err
		}
	}
	if resolved.SourceID != nil {
		switch resolved.Source {
		case contextdomain.SourceSubscription:
			if err := s.repo.UpdateSubscriptionStatus(ctx, tx, *resolved.SourceID, contextdomain.SubscriptionStatusCanceled); err != nil {
				return err
			}
			details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
				Entity: "subscription",
				ID:     *resolved.SourceID,
				Status: contextdomain.SubscriptionStatusCanceled,
			})
		case contextdomain.SourcePartnerInvoice:
			if err := s.repo.UpdateInvoiceStatus(ctx, tx, *resolved.SourceID, contextdomain.InvoiceStatusCancelled); err != nil {
				return err
			}
			details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
				Entity: "partner_invoice",
				ID:     *resolved.SourceID,
				Status: contextdomain.InvoiceStatusCancelled,
			})
		}
	}
	return nil
}

// applyRestored reactivates the payment's subscription. When a prior
// cancellation clawed back an earning, it also re-credits the partner so the
// balance matches the payment being live again; a restore of a cancellation
// that never moved money stays status-only.
func (s *Service) applyRestored(ctx context.Context, tx *gorm.DB, event *ledgerdomain.PaymentEvent, resolved contextdomain.Context, details *domain.ApplyDetails) error {
	reversal, err := s.repo.FindOpenCancellationReversal(ctx, tx, event.Provider, event.ProviderPaymentID)
	if err != nil {
		return err
	}
	if reversal != nil {
		now := s.clock.Now()

		reinstated := domain.PartnerEarning{
			ID:                s.genID.Generate(),
			PartnerID:         reversal.PartnerID,
			TenantID:          reversal.TenantID,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			SourceEventID:     event.ID,
			GrossAmount:       -reversal.GrossAmount,
			CommissionAmount:  -reversal.CommissionAmount,
			NetAmount:         -reversal.NetAmount,
			Status:            domain.EarningStatusPending,
			OriginalEarningID: &reversal.ID,
			OccurredAt:        event.OccurredAt,
			CreatedAt:         now,
		}
		revenue := domain.PlatformRevenue{
			ID:                s.genID.Generate(),
			SourceEventID:     event.ID,
			TenantID:          reversal.TenantID,
			PartnerID:         &reversal.PartnerID,
			Provider:          event.Provider,
			ProviderPaymentID: event.ProviderPaymentID,
			Amount:            -reversal.CommissionAmount,
			RevenueType:       domain.RevenueTypeReinstatement,
			CreatedAt:         now,
		}
		effect := domain.TransactionEffect{
			ID:                s.genID.Generate(),
			SourceEventID:     event.ID,
			EntryType:         domain.EntryTypeCredit,
			PartnerEarningID:  &reinstated.ID,
			PlatformRevenueID: &revenue.ID,
			Amount:            reinstated.NetAmount,
			CreatedAt:         now,
		}

		inserted, err := s.repo.InsertEffect(ctx, tx, &effect)
		if err != nil {
			return err
		}
		if !inserted {
			if err := s.adoptExistingEffect(ctx, tx, event.ID, domain.EntryTypeCredit, details); err != nil {
				return err
			}
		} else {
			if err := s.repo.InsertEarning(ctx, tx, &reinstated); err != nil {
				return err
			}
			if err := s.repo.InsertRevenue(ctx, tx, &revenue); err != nil {
				return err
			}
			details.AppliedFinancial = true
			details.EarningID = &reinstated.ID
			details.OriginalEarningID = &reversal.ID
			details.RevenueID = &revenue.ID
		}
	}
	return s.applyStatusOnly(ctx, tx, resolved, contextdomain.SubscriptionStatusActive, "", details)
}

// adoptExistingEffect fills details from the effect another apply call won
// the race to create, so both callers report the same outcome.
func (s *Service) adoptExistingEffect(ctx context.Context, tx *gorm.DB, eventID snowflake.ID, entryType domain.EntryType, details *domain.ApplyDetails) error {
	existing, err := s.repo.FindEffect(ctx, tx, eventID, entryType)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrEventNotFound
	}
	details.AppliedFinancial = true
	details.EarningID = existing.PartnerEarningID
	details.RevenueID = existing.PlatformRevenueID
	if existing.PartnerEarningID != nil {
		earning, err := s.repo.FindEarningByID(ctx, tx, *existing.PartnerEarningID)
		if err != nil {
			return err
		}
		if earning != nil {
			details.OriginalEarningID = earning.OriginalEarningID
		}
	}
	return nil
}

func (s *Service) markSourcePaid(ctx context.Context, tx *gorm.DB, resolved contextdomain.Context, details *domain.ApplyDetails) error {
	if resolved.SourceID == nil {
		return nil
	}
	switch resolved.Source {
	case contextdomain.SourcePartnerInvoice:
		if err := s.repo.UpdateInvoiceStatus(ctx, tx, *resolved.SourceID, contextdomain.InvoiceStatusPaid); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "partner_invoice",
			ID:     *resolved.SourceID,
			Status: contextdomain.InvoiceStatusPaid,
		})
	case contextdomain.SourceModulePurchase:
		if err := s.repo.UpdateModulePurchaseStatus(ctx, tx, *resolved.SourceID, "paid"); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "module_purchase",
			ID:     *resolved.SourceID,
			Status: "paid",
		})
	case contextdomain.SourceSubscription:
		if err := s.repo.UpdateSubscriptionStatus(ctx, tx, *resolved.SourceID, contextdomain.SubscriptionStatusActive); err != nil {
			return err
		}
		details.StatusChanges = append(details.StatusChanges, domain.StatusChange{
			Entity: "subscription",
			ID:     *resolved.SourceID,
			Status: contextdomain.SubscriptionStatusActive,
		})
	}
	return nil
}

// feeConfigFor resolves the applicable fee table, falling back to the
// configured platform defaults when no row exists.
func (s *Service) feeConfigFor(ctx context.Context, tx *gorm.DB, partnerID *snowflake.ID) (*domain.FeeConfig, error) {
	cfg, err := s.repo.GetFeeConfig(ctx, tx, partnerID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}
	if s.fees.DefaultCommissionBps > 0 {
		return &domain.FeeConfig{
			CommissionBps: s.fees.DefaultCommissionBps,
			GatewayBps:    s.fees.DefaultGatewayBps,
			GatewayFixed:  s.fees.DefaultGatewayFixed,
			Active:        true,
		}, nil
	}
	return nil, domain.ErrMissingFeeConfig
}

func partnerFor(event *ledgerdomain.PaymentEvent, resolved contextdomain.Context) *snowflake.ID {
	if event.PartnerID != nil {
		return event.PartnerID
	}
	return resolved.PartnerID
}

func tenantFor(event *ledgerdomain.PaymentEvent, resolved contextdomain.Context) *snowflake.ID {
	if event.TenantID != nil {
		return event.TenantID
	}
	return resolved.TenantID
}
