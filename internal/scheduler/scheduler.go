package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	"github.com/comandahub/paycore/internal/locking"
	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	payoutdomain "github.com/comandahub/paycore/internal/payout/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const runLockKey = "paycore:scheduler:run"

type Params struct {
	fx.In

	DB                *gorm.DB
	Log               *zap.Logger
	GenID             *snowflake.Node
	Clock             clock.Clock
	SettlementSvc     settlementdomain.Service
	PayoutSvc         payoutdomain.Service
	NotificationSvc   notificationdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	Registry          providerdomain.Registry
	Locker            *locking.Locker `optional:"true"`
	Config            Config          `optional:"true"`
}

type Scheduler struct {
	db                *gorm.DB
	log               *zap.Logger
	cfg               Config
	genID             *snowflake.Node
	clock             clock.Clock
	settlementSvc     settlementdomain.Service
	payoutSvc         payoutdomain.Service
	notificationSvc   notificationdomain.Service
	reconciliationSvc reconciliationdomain.Service
	registry          providerdomain.Registry
	locker            *locking.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil ||
		p.SettlementSvc == nil || p.PayoutSvc == nil || p.NotificationSvc == nil ||
		p.ReconciliationSvc == nil || p.Registry == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:                p.DB,
		log:               p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:               p.Config.withDefaults(),
		genID:             p.GenID,
		clock:             p.Clock,
		settlementSvc:     p.SettlementSvc,
		payoutSvc:         p.PayoutSvc,
		notificationSvc:   p.NotificationSvc,
		reconciliationSvc: p.ReconciliationSvc,
		registry:          p.Registry,
		locker:            p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(run)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx, run)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		schedMetrics.IncJobTimeout(name)
		schedMetrics.IncJobError(name, err)
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	schedMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	release, ok := s.acquireRunLock(parent)
	if !ok {
		return nil
	}
	defer release()

	var err error
	jobs := []struct {
		Name    string
		Timeout time.Duration
		Run     func(context.Context, *jobRun) error
	}{
		{"settle_partners", 2 * time.Minute, s.SettlePartnersJob},
		{"payout_worker", 5 * time.Minute, s.PayoutWorkerJob},
		{"notify_outbox", 5 * time.Minute, s.NotifyOutboxJob},
		{"billing_notifications", 2 * time.Minute, s.BillingNotificationsJob},
		{"reconcile", 10 * time.Minute, s.ReconcileJob},
		{"recommendations", 2 * time.Minute, s.RecommendationsJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, job.Timeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		if lag := time.Since(nextRun); lag > 0 {
			schedMetrics.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// acquireRunLock keeps replicated deployments from running the pipeline
// concurrently. Without redis every instance runs; correctness still holds
// through the storage uniqueness guards, the lock only avoids wasted work.
func (s *Scheduler) acquireRunLock(ctx context.Context) (func(), bool) {
	if s.locker == nil {
		return func() {}, true
	}
	ttl := 2 * s.cfg.RunInterval
	token, ok, err := s.locker.TryLock(ctx, runLockKey, ttl)
	if err != nil {
		s.log.Warn("scheduler lock unavailable, running without it", zap.Error(err))
		return func() {}, true
	}
	if !ok {
		s.log.Debug("scheduler run held by another instance")
		return nil, false
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.locker.Release(releaseCtx, runLockKey, token); err != nil {
			s.log.Warn("scheduler lock release failed", zap.Error(err))
		}
	}, true
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
