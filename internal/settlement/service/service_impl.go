package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	"github.com/comandahub/paycore/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAbortGeneration rolls the generation transaction back when every
// candidate earning was claimed by a racing run.
var errAbortGeneration = errors.New("settlement: generation aborted")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("settlement.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		obsMetrics: p.ObsMetrics,
	}
}

// Generate batches the partner's unclaimed earnings for the period into one
// settlement. The partial unique index on (partner_id, period_start,
// period_end) is the only concurrency guard: N racing calls produce one
// settlement and N-1 settlement_exists results naming its id.
func (s *Service) Generate(ctx context.Context, partnerID snowflake.ID, periodStart, periodEnd time.Time) (*domain.GenerateResult, error) {
	periodStart = periodStart.UTC()
	periodEnd = periodEnd.UTC()
	if !periodEnd.After(periodStart) {
		return nil, domain.ErrInvalidPeriod
	}

	existing, err := s.repo.FindActiveByPeriod(ctx, s.db, partnerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &domain.GenerateResult{
			ErrorCode:  domain.GenerateErrExists,
			ExistingID: &existing.ID,
		}, nil
	}

	earnings, err := s.repo.ListUnsettledEarnings(ctx, s.db, partnerID, periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	if len(earnings) == 0 {
		return &domain.GenerateResult{ErrorCode: domain.GenerateErrNoTransactions}, nil
	}

	now := s.clock.Now()
	settlement := domain.Settlement{
		ID:          s.genID.Generate(),
		PartnerID:   partnerID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Status:      domain.StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var result *domain.GenerateResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertSettlement(ctx, tx, &settlement)
		if err != nil {
			return err
		}
		if !inserted {
			winner, err := s.repo.FindActiveByPeriod(ctx, tx, partnerID, periodStart, periodEnd)
			if err != nil {
				return err
			}
			if winner == nil {
				return domain.ErrSettlementNotFound
			}
			result = &domain.GenerateResult{
				ErrorCode:  domain.GenerateErrExists,
				ExistingID: &winner.ID,
			}
			return nil
		}

		var gross, platformFee, partnerNet int64
		var claimed []snowflake.ID
		for i := range earnings {
			earning := earnings[i]
			item := domain.SettlementItem{
				ID:           s.genID.Generate(),
				SettlementID: settlement.ID,
				EarningID:    earning.ID,
				NetAmount:    earning.NetAmount,
				CreatedAt:    now,
			}
			linked, err := s.repo.InsertItem(ctx, tx, &item)
			if err != nil {
				return err
			}
			if !linked {
				// Another settlement claimed this earning first.
				continue
			}
			gross += earning.GrossAmount
			platformFee += earning.CommissionAmount
			partnerNet += earning.NetAmount
			claimed = append(claimed, earning.ID)
		}
		if len(claimed) == 0 {
			// Everything was claimed between the read and now; undo the
			// empty settlement insert.
			result = &domain.GenerateResult{ErrorCode: domain.GenerateErrNoTransactions}
			return errAbortGeneration
		}
		if err := s.repo.UpdateTotals(ctx, tx, settlement.ID, gross, platformFee, partnerNet, int64(len(claimed))); err != nil {
			return err
		}
		if err := s.repo.MarkEarningsSettled(ctx, tx, claimed); err != nil {
			return err
		}
		settlement.GrossTotal = gross
		settlement.PlatformFeeTotal = platformFee
		settlement.PartnerNetTotal = partnerNet
		settlement.TransactionCount = int64(len(claimed))
		result = &domain.GenerateResult{Success: true, Settlement: &settlement}
		return nil
	})
	if err != nil {
		if errors.Is(err, errAbortGeneration) {
			return result, nil
		}
		return nil, err
	}

	if result.Success {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordSettlement(ctx)
		}
		s.log.Info("settlement generated",
			zap.Int64("settlement_id", int64(settlement.ID)),
			zap.Int64("partner_id", int64(partnerID)),
			zap.Int64("partner_net", settlement.PartnerNetTotal),
			zap.Int64("transaction_count", settlement.TransactionCount),
		)
	}
	return result, nil
}

func (s *Service) Approve(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	moved, err := s.repo.TransitionStatus(ctx, s.db, id, domain.StatusDraft, domain.StatusApproved, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, s.transitionFailure(ctx, id)
	}
	return s.Get(ctx, id)
}

// Cancel releases a draft settlement's earnings back to the pending pool.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.repo.TransitionStatus(ctx, tx, id, domain.StatusDraft, domain.StatusCancelled, s.clock.Now())
		if err != nil {
			return err
		}
		if !moved {
			return s.transitionFailure(ctx, id)
		}
		return s.repo.ReleaseEarnings(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Settlement, error) {
	settlement, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if settlement == nil {
		return nil, domain.ErrSettlementNotFound
	}
	return settlement, nil
}

// MarkPaid is invoked by the payout worker after a successful transfer.
// Approved settlements move to paid; draft settlements are promoted through
// approval first by the caller.
func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) error {
	moved, err := s.repo.TransitionStatus(ctx, s.db, id, domain.StatusApproved, domain.StatusPaid, paidAt.UTC())
	if err != nil {
		return err
	}
	if !moved {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

func (s *Service) PartnerFinancialSummary(ctx context.Context, partnerID snowflake.ID) (*domain.PartnerFinancialSummary, error) {
	return s.repo.Summarize(ctx, s.db, partnerID)
}

func (s *Service) transitionFailure(ctx context.Context, id snowflake.ID) error {
	current, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if current == nil {
		return domain.ErrSettlementNotFound
	}
	if current.Status == domain.StatusPaid {
		return domain.ErrSettlementImmutable
	}
	return domain.ErrInvalidStatusChange
}
