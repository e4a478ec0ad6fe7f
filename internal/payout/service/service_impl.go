package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	"github.com/comandahub/paycore/internal/payout/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 5
	transferTimeout    = 30 * time.Second
	backoffBase        = 30 * time.Second
	backoffCap         = time.Hour
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Settlements settlementdomain.Service
	Providers   providerdomain.Registry
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	settlements settlementdomain.Service
	providers   providerdomain.Registry
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("payout.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		settlements: p.Settlements,
		providers:   p.Providers,
		obsMetrics:  p.ObsMetrics,
	}
}

// Execute queues a payout for a payable settlement. The partial unique
// index on settlement_id while status <> failed is the idempotency guard:
// a second call returns payout_exists with the live job's id.
func (s *Service) Execute(ctx context.Context, cmd domain.ExecuteCommand) (*domain.ExecuteResult, error) {
	settlement, err := s.settlements.Get(ctx, cmd.SettlementID)
	if err != nil {
		return nil, err
	}
	if !settlement.Payable() {
		return &domain.ExecuteResult{ErrorCode: domain.ExecuteErrInvalidStatus}, nil
	}

	provider := strings.ToLower(strings.TrimSpace(cmd.Provider))
	if provider == "" {
		provider = "asaas"
	}
	if _, err := s.providers.Get(provider); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	job := domain.PayoutJob{
		ID:            s.genID.Generate(),
		SettlementID:  settlement.ID,
		PartnerID:     settlement.PartnerID,
		Provider:      provider,
		Method:        strings.ToLower(strings.TrimSpace(cmd.Method)),
		Destination:   strings.TrimSpace(cmd.Destination),
		Amount:        settlement.PartnerNetTotal,
		Status:        domain.StatusQueued,
		MaxAttempts:   defaultMaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := s.repo.InsertJob(ctx, s.db, &job)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.FindActiveBySettlement(ctx, s.db, settlement.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, domain.ErrJobNotFound
		}
		return &domain.ExecuteResult{
			ErrorCode:  domain.ExecuteErrPayoutExists,
			ExistingID: &existing.ID,
		}, nil
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayoutJob(ctx, string(domain.StatusQueued))
	}
	s.log.Info("payout queued",
		zap.Int64("job_id", int64(job.ID)),
		zap.Int64("settlement_id", int64(settlement.ID)),
		zap.Int64("amount", job.Amount),
		zap.String("provider", provider),
	)
	return &domain.ExecuteResult{Success: true, Job: &job}, nil
}

// ProcessQueue claims due jobs one by one and runs the provider transfer.
// The claim is a status flip committed before the call, so a crashed worker
// leaves the job in processing for manual recovery instead of double
// paying.
func (s *Service) ProcessQueue(ctx context.Context, batchSize int) (*domain.ProcessResult, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	due, err := s.repo.ListDue(ctx, s.db, s.clock.Now(), batchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.ProcessResult{}
	for i := range due {
		job := due[i]
		claimed, err := s.repo.Claim(ctx, s.db, job.ID, s.clock.Now())
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		if err := s.runTransfer(ctx, &job, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) runTransfer(ctx context.Context, job *domain.PayoutJob, result *domain.ProcessResult) error {
	adapter, err := s.providers.Get(job.Provider)
	if err != nil {
		return s.recordFailure(ctx, job, result, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, transferTimeout)
	transfer, transferErr := adapter.Transfer(callCtx, providerdomain.TransferRequest{
		Amount:      job.Amount,
		Destination: job.Destination,
		Reference:   job.ID.String(),
	})
	cancel()
	if transferErr != nil {
		return s.recordFailure(ctx, job, result, transferErr)
	}

	now := s.clock.Now()
	if err := s.repo.MarkDone(ctx, s.db, job.ID, transfer.TransferID, now); err != nil {
		return err
	}
	if err := s.settleAsPaid(ctx, job.SettlementID, now); err != nil {
		return err
	}
	result.Succeeded++
	if s.obsMetrics != nil {
		s.obsMetrics.RecordPayoutJob(ctx, string(domain.StatusDone))
	}
	s.log.Info("payout completed",
		zap.Int64("job_id", int64(job.ID)),
		zap.Int64("settlement_id", int64(job.SettlementID)),
		zap.String("provider_transfer_id", transfer.TransferID),
	)
	return nil
}

// settleAsPaid promotes the settlement to paid, approving a still-draft one
// on the way.
func (s *Service) settleAsPaid(ctx context.Context, settlementID snowflake.ID, paidAt time.Time) error {
	if _, err := s.settlements.Approve(ctx, settlementID); err != nil &&
		!errors.Is(err, settlementdomain.ErrInvalidStatusChange) {
		return err
	}
	return s.settlements.MarkPaid(ctx, settlementID, paidAt)
}

func (s *Service) recordFailure(ctx context.Context, job *domain.PayoutJob, result *domain.ProcessResult, cause error) error {
	attempts := job.Attempts + 1
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := s.clock.Now()

	if attempts >= maxAttempts {
		if err := s.repo.MarkFailed(ctx, s.db, job.ID, attempts, cause.Error(), now); err != nil {
			return err
		}
		result.Dead++
		if s.obsMetrics != nil {
			s.obsMetrics.RecordPayoutJob(ctx, string(domain.StatusFailed))
		}
		s.log.Error("payout failed permanently",
			zap.Int64("job_id", int64(job.ID)),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		return nil
	}

	next := now.Add(backoff(attempts))
	if err := s.repo.MarkRetry(ctx, s.db, job.ID, attempts, next, cause.Error()); err != nil {
		return err
	}
	result.Retried++
	s.log.Warn("payout attempt failed, retrying",
		zap.Int64("job_id", int64(job.ID)),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PayoutJob, error) {
	job, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func backoff(attempts int) time.Duration {
	delay := backoffBase << (attempts - 1)
	if delay > backoffCap || delay <= 0 {
		return backoffCap
	}
	return delay
}
