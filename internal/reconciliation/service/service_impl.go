package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	"github.com/comandahub/paycore/internal/reconciliation/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// unappliedGrace keeps freshly received events out of the anomaly
	// scan while their Apply call is still in flight.
	unappliedGrace = 15 * time.Minute

	// recentWindow bounds how far back GenerateRecommendations looks for
	// non-ok reconciliation records.
	recentWindow = 7 * 24 * time.Hour

	scanLimit = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Registry   providerdomain.Registry
	Effects    effectdomain.Service
	Ledger     ledgerdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	registry   providerdomain.Registry
	effects    effectdomain.Service
	ledger     ledgerdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("reconciliation.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		registry:   p.Registry,
		effects:    p.Effects,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

// ReconcileProviderPayments diffs the provider's payment list against the
// ledger-derived state and persists one classified record per payment.
// The run reads payment_events and partner_earnings but never writes them.
func (s *Service) ReconcileProviderPayments(ctx context.Context, filter domain.ReconcileFilter) (*domain.ReconcileResult, error) {
	adapter, err := s.registry.Get(filter.Provider)
	if err != nil {
		return nil, err
	}

	payments, err := adapter.ListPayments(ctx, filter.From)
	if err != nil {
		return nil, err
	}

	runID := s.genID.Generate()
	now := s.clock.Now()
	result := &domain.ReconcileResult{RunID: runID}

	seen := make(map[string]struct{}, len(payments))
	for i := range payments {
		p := &payments[i]
		seen[p.ProviderPaymentID] = struct{}{}

		state, err := s.repo.InternalState(ctx, s.db, filter.Provider, p.ProviderPaymentID)
		if err != nil {
			return nil, err
		}

		record := &domain.ReconciliationRecord{
			ID:                s.genID.Generate(),
			RunID:             runID,
			Provider:          filter.Provider,
			ProviderPaymentID: p.ProviderPaymentID,
			ProviderAmount:    p.Amount,
			CreatedAt:         now,
		}
		record.Status = classify(p, state, record)
		if err := s.repo.InsertRecord(ctx, s.db, record); err != nil {
			return nil, err
		}
		count(result, record.Status)
	}

	// Earnings whose payment the provider no longer reports are orphans.
	earningIDs, err := s.repo.ListEarningPaymentIDs(ctx, s.db, filter.Provider, filter.From, filter.PartnerID, filter.TenantID)
	if err != nil {
		return nil, err
	}
	for _, paymentID := range earningIDs {
		if _, ok := seen[paymentID]; ok {
			continue
		}
		state, err := s.repo.InternalState(ctx, s.db, filter.Provider, paymentID)
		if err != nil {
			return nil, err
		}
		record := &domain.ReconciliationRecord{
			ID:                s.genID.Generate(),
			RunID:             runID,
			Provider:          filter.Provider,
			ProviderPaymentID: paymentID,
			ExpectedAmount:    state.ConfirmedGross,
			Difference:        state.ConfirmedGross,
			Status:            domain.RecordOrphan,
			CreatedAt:         now,
		}
		if err := s.repo.InsertRecord(ctx, s.db, record); err != nil {
			return nil, err
		}
		count(result, record.Status)
	}

	result.IsClean = result.Mismatch == 0 && result.MissingInternal == 0 && result.Orphan == 0
	s.log.Info("reconciliation run finished",
		zap.Int64("run_id", runID.Int64()),
		zap.String("provider", filter.Provider),
		zap.Int("ok", result.OK),
		zap.Int("mismatch", result.Mismatch),
		zap.Int("missing_internal", result.MissingInternal),
		zap.Int("orphan", result.Orphan),
	)
	return result, nil
}

func classify(p *providerdomain.ProviderPayment, state *domain.InternalPaymentState, record *domain.ReconciliationRecord) domain.RecordStatus {
	switch p.Status {
	case providerdomain.PaymentStatusConfirmed:
		if !state.Exists {
			return domain.RecordMissingInternal
		}
		record.ExpectedAmount = state.ConfirmedGross
		record.Difference = p.Amount - state.ConfirmedGross
		if record.Difference != 0 {
			return domain.RecordMismatch
		}
		return domain.RecordOK
	case providerdomain.PaymentStatusRefunded:
		if state.Exists && !state.Reversed {
			record.ExpectedAmount = state.ConfirmedGross
			record.Difference = -state.ConfirmedGross
			return domain.RecordMismatch
		}
		return domain.RecordOK
	default:
		// Pending and canceled payments carry no expected ledger state.
		return domain.RecordOK
	}
}

func count(result *domain.ReconcileResult, status domain.RecordStatus) {
	switch status {
	case domain.RecordOK:
		result.OK++
	case domain.RecordMismatch:
		result.Mismatch++
	case domain.RecordMissingInternal:
		result.MissingInternal++
	case domain.RecordOrphan:
		result.Orphan++
	}
}

// GenerateRecommendations scans recent anomalies and proposes one
// correction per anomaly. The dedupe_key unique index makes repeated scans
// converge instead of piling up duplicates.
func (s *Service) GenerateRecommendations(ctx context.Context) (*domain.GenerateResult, error) {
	now := s.clock.Now()
	result := &domain.GenerateResult{}

	records, err := s.repo.ListRecentNonOK(ctx, s.db, now.Add(-recentWindow))
	if err != nil {
		return nil, err
	}
	for i := range records {
		rec, err := s.recommendationForRecord(&records[i], now)
		if err != nil {
			return nil, err
		}
		if err := s.propose(ctx, rec, result); err != nil {
			return nil, err
		}
	}

	unapplied, err := s.repo.ListUnappliedEventIDs(ctx, s.db, now.Add(-unappliedGrace), scanLimit)
	if err != nil {
		return nil, err
	}
	for _, ev := range unapplied {
		eventID := ev.ID
		rec := &domain.OpsRecommendation{
			ID:                s.genID.Generate(),
			RecType:           domain.RecTypeUnappliedEvent,
			SuggestedAction:   domain.ActionReprocess,
			Status:            domain.RecStatusOpen,
			DedupeKey:         fmt.Sprintf("unapplied:%d", eventID.Int64()),
			Provider:          ev.Provider,
			ProviderPaymentID: ev.ProviderPaymentID,
			EventID:           &eventID,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.propose(ctx, rec, result); err != nil {
			return nil, err
		}
	}

	deadIDs, err := s.repo.ListDeadNotificationIDs(ctx, s.db, scanLimit)
	if err != nil {
		return nil, err
	}
	for _, id := range deadIDs {
		details, _ := json.Marshal(map[string]any{"outbox_id": id.Int64()})
		rec := &domain.OpsRecommendation{
			ID:              s.genID.Generate(),
			RecType:         domain.RecTypeDeadNotification,
			SuggestedAction: domain.ActionManualReview,
			Status:          domain.RecStatusOpen,
			DedupeKey:       fmt.Sprintf("dead_notification:%d", id.Int64()),
			Details:         details,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.propose(ctx, rec, result); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *Service) recommendationForRecord(record *domain.ReconciliationRecord, now time.Time) (*domain.OpsRecommendation, error) {
	rec := &domain.OpsRecommendation{
		ID:                s.genID.Generate(),
		Status:            domain.RecStatusOpen,
		Provider:          record.Provider,
		ProviderPaymentID: record.ProviderPaymentID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	switch record.Status {
	case domain.RecordMismatch:
		rec.RecType = domain.RecTypeMismatch
		rec.SuggestedAction = domain.ActionManualReview
		rec.DedupeKey = fmt.Sprintf("mismatch:%s:%s", record.Provider, record.ProviderPaymentID)
	case domain.RecordMissingInternal:
		rec.RecType = domain.RecTypeMissingInternal
		rec.SuggestedAction = domain.ActionSyntheticEvent
		rec.DedupeKey = fmt.Sprintf("missing:%s:%s", record.Provider, record.ProviderPaymentID)
	case domain.RecordOrphan:
		rec.RecType = domain.RecTypeOrphan
		rec.SuggestedAction = domain.ActionManualReview
		rec.DedupeKey = fmt.Sprintf("orphan:%s:%s", record.Provider, record.ProviderPaymentID)
	default:
		return nil, fmt.Errorf("reconciliation: unexpected record status %q", record.Status)
	}
	details, err := json.Marshal(map[string]any{
		"run_id":          record.RunID.Int64(),
		"expected_amount": record.ExpectedAmount,
		"provider_amount": record.ProviderAmount,
		"difference":      record.Difference,
	})
	if err != nil {
		return nil, err
	}
	rec.Details = details
	return rec, nil
}

func (s *Service) propose(ctx context.Context, rec *domain.OpsRecommendation, result *domain.GenerateResult) error {
	created, err := s.repo.InsertRecommendation(ctx, s.db, rec)
	if err != nil {
		return err
	}
	if !created {
		result.Skipped++
		return nil
	}
	result.Created++
	s.obsMetrics.RecordRecommendation(ctx, string(rec.RecType))
	return nil
}

// Apply executes the suggested action through the system's idempotent
// primitives, then resolves the recommendation. Applying an already closed
// recommendation fails with ErrRecommendationClosed.
func (s *Service) Apply(ctx context.Context, id snowflake.ID) (*domain.OpsRecommendation, error) {
	rec, err := s.repo.FindRecommendation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrRecommendationNotFound
	}
	if rec.Status != domain.RecStatusOpen {
		return nil, domain.ErrRecommendationClosed
	}

	execErr := s.execute(ctx, rec)

	now := s.clock.Now()
	status := domain.RecStatusApplied
	var errMsg *string
	if execErr != nil {
		status = domain.RecStatusFailed
		msg := execErr.Error()
		errMsg = &msg
		s.log.Error("recommendation apply failed",
			zap.Int64("recommendation_id", id.Int64()),
			zap.String("rec_type", string(rec.RecType)),
			zap.Error(execErr),
		)
	}
	if _, err := s.repo.ResolveRecommendation(ctx, s.db, id, status, errMsg, now); err != nil {
		return nil, err
	}
	rec.Status = status
	rec.ErrorMessage = errMsg
	rec.ResolvedAt = &now
	rec.UpdatedAt = now
	if execErr != nil {
		return rec, execErr
	}
	return rec, nil
}

func (s *Service) execute(ctx context.Context, rec *domain.OpsRecommendation) error {
	switch rec.SuggestedAction {
	case domain.ActionReprocess:
		if rec.EventID == nil {
			return domain.ErrMissingEventReference
		}
		_, err := s.effects.Reprocess(ctx, *rec.EventID)
		return err
	case domain.ActionSyntheticEvent:
		return s.insertSyntheticEvent(ctx, rec)
	case domain.ActionManualReview:
		// Applying acknowledges the review happened; nothing to execute.
		return nil
	default:
		return fmt.Errorf("reconciliation: unknown suggested action %q", rec.SuggestedAction)
	}
}

// insertSyntheticEvent backfills a CONFIRMED ledger event for a payment the
// provider reports but the ledger never saw. The synthetic event id is
// deterministic, so repeated applies hit the ledger's uniqueness constraint
// and the existing row is reapplied.
func (s *Service) insertSyntheticEvent(ctx context.Context, rec *domain.OpsRecommendation) error {
	adapter, err := s.registry.Get(rec.Provider)
	if err != nil {
		return err
	}
	payment, err := adapter.FetchPayment(ctx, rec.ProviderPaymentID)
	if err != nil {
		return err
	}
	if payment.Status != providerdomain.PaymentStatusConfirmed {
		return fmt.Errorf("reconciliation: provider payment %s is %s, not confirmed", rec.ProviderPaymentID, payment.Status)
	}

	occurredAt := s.clock.Now()
	if payment.PaidAt != nil {
		occurredAt = *payment.PaidAt
	}
	payload, err := json.Marshal(map[string]any{
		"synthetic":           true,
		"recommendation_id":   rec.ID.Int64(),
		"provider_payment_id": payment.ProviderPaymentID,
		"amount":              payment.Amount,
	})
	if err != nil {
		return err
	}

	inserted, err := s.ledger.Insert(ctx, ledgerdomain.InsertCommand{
		Provider:          rec.Provider,
		ProviderEventID:   fmt.Sprintf("recon:%s:%s", rec.Provider, rec.ProviderPaymentID),
		ProviderPaymentID: rec.ProviderPaymentID,
		EventType:         ledgerdomain.EventTypeConfirmed,
		AmountGross:       payment.Amount,
		OccurredAt:        occurredAt,
		Payload:           payload,
	})
	if err != nil {
		return err
	}
	_, err = s.effects.Apply(ctx, inserted.Event.ID)
	return err
}

func (s *Service) Dismiss(ctx context.Context, id snowflake.ID) (*domain.OpsRecommendation, error) {
	rec, err := s.repo.FindRecommendation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, domain.ErrRecommendationNotFound
	}
	now := s.clock.Now()
	ok, err := s.repo.ResolveRecommendation(ctx, s.db, id, domain.RecStatusDismissed, nil, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrRecommendationClosed
	}
	rec.Status = domain.RecStatusDismissed
	rec.ResolvedAt = &now
	rec.UpdatedAt = now
	return rec, nil
}

func (s *Service) ListOpen(ctx context.Context, limit int) ([]domain.OpsRecommendation, error) {
	if limit <= 0 || limit > scanLimit {
		limit = scanLimit
	}
	return s.repo.ListOpenRecommendations(ctx, s.db, limit)
}
