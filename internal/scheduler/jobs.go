package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	"go.uber.org/zap"
)

// SettlePartnersJob generates settlements for the previous calendar month
// for every partner that still has pending earnings in that window.
// Generation is idempotent, a partner already settled for the period comes
// back as settlement_exists and is skipped.
func (s *Scheduler) SettlePartnersJob(ctx context.Context, run *jobRun) error {
	periodStart, periodEnd := previousMonth(s.clock.Now())

	partnerIDs, err := s.listPartnersWithPendingEarnings(ctx, periodStart, periodEnd)
	if err != nil {
		s.logJobError(run, "scheduler.settle.list_failed", err)
		return err
	}

	var jobErr error
	for _, partnerID := range partnerIDs {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		result, err := s.settlementSvc.Generate(ctx, partnerID, periodStart, periodEnd)
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "scheduler.settle.generate_failed", err,
				zap.String("partner_id", partnerID.String()),
			)
			continue
		}
		if result.Success {
			run.AddProcessed(1)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "settlements", run.processedCount)
	return jobErr
}

func (s *Scheduler) listPartnersWithPendingEarnings(ctx context.Context, periodStart, periodEnd time.Time) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT partner_id
		 FROM partner_earnings
		 WHERE status = ? AND occurred_at >= ? AND occurred_at < ?`,
		effectdomain.EarningStatusPending,
		periodStart,
		periodEnd,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Scheduler) PayoutWorkerJob(ctx context.Context, run *jobRun) error {
	result, err := s.payoutSvc.ProcessQueue(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "scheduler.payout.process_failed", err)
		return err
	}
	run.AddProcessed(result.Claimed)
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "payout_jobs", result.Claimed)
	return nil
}

func (s *Scheduler) NotifyOutboxJob(ctx context.Context, run *jobRun) error {
	result, err := s.notificationSvc.ProcessOutbox(ctx, s.cfg.BatchSize)
	if err != nil {
		s.logJobError(run, "scheduler.outbox.process_failed", err)
		return err
	}
	run.AddProcessed(result.Claimed)
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "notifications", result.Claimed)
	return nil
}

func (s *Scheduler) BillingNotificationsJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	result, err := s.notificationSvc.EmitBillingNotifications(ctx, now, now.Add(s.cfg.BillingLookahead))
	if err != nil {
		s.logJobError(run, "scheduler.billing.emit_failed", err)
		return err
	}
	run.AddProcessed(result.Enqueued)
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "notifications", result.Enqueued)
	return nil
}

// ReconcileJob runs one reconciliation pass per configured provider. A
// provider that is unreachable fails its own pass only.
func (s *Scheduler) ReconcileJob(ctx context.Context, run *jobRun) error {
	from := s.clock.Now().Add(-s.cfg.ReconcileLookback)

	var jobErr error
	for _, provider := range s.registry.Names() {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		result, err := s.reconciliationSvc.ReconcileProviderPayments(ctx, reconciliationdomain.ReconcileFilter{
			Provider: provider,
			From:     from,
		})
		if err != nil {
			jobErr = errors.Join(jobErr, err)
			s.logJobError(run, "scheduler.reconcile.failed", err,
				zap.String("provider", provider),
			)
			continue
		}
		run.AddProcessed(result.OK + result.Mismatch + result.MissingInternal + result.Orphan)
		if !result.IsClean {
			s.log.Warn("reconciliation found anomalies",
				zap.String("provider", provider),
				zap.Int64("run_id", result.RunID.Int64()),
				zap.Int("mismatch", result.Mismatch),
				zap.Int("missing_internal", result.MissingInternal),
				zap.Int("orphan", result.Orphan),
			)
		}
	}
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "reconciliation_records", run.processedCount)
	return jobErr
}

func (s *Scheduler) RecommendationsJob(ctx context.Context, run *jobRun) error {
	result, err := s.reconciliationSvc.GenerateRecommendations(ctx)
	if err != nil {
		s.logJobError(run, "scheduler.recommendations.failed", err)
		return err
	}
	run.AddProcessed(result.Created)
	obsmetrics.Scheduler().AddBatchProcessed(run.job, "recommendations", result.Created)
	return nil
}

func previousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	currentStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return currentStart.AddDate(0, -1, 0), currentStart
}
