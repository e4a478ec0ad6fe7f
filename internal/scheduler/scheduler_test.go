package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/clock"
	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
	payoutdomain "github.com/comandahub/paycore/internal/payout/domain"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
)

type settlementStub struct {
	mu       sync.Mutex
	partners []snowflake.ID
	starts   []time.Time
	ends     []time.Time
	err      error
}

func (s *settlementStub) Generate(ctx context.Context, partnerID snowflake.ID, periodStart, periodEnd time.Time) (*settlementdomain.GenerateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.partners = append(s.partners, partnerID)
	s.starts = append(s.starts, periodStart)
	s.ends = append(s.ends, periodEnd)
	return &settlementdomain.GenerateResult{Success: true}, nil
}

func (s *settlementStub) Approve(ctx context.Context, id snowflake.ID) (*settlementdomain.Settlement, error) {
	return nil, settlementdomain.ErrSettlementNotFound
}

func (s *settlementStub) Cancel(ctx context.Context, id snowflake.ID) (*settlementdomain.Settlement, error) {
	return nil, settlementdomain.ErrSettlementNotFound
}

func (s *settlementStub) Get(ctx context.Context, id snowflake.ID) (*settlementdomain.Settlement, error) {
	return nil, settlementdomain.ErrSettlementNotFound
}

func (s *settlementStub) MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) error {
	return settlementdomain.ErrSettlementNotFound
}

func (s *settlementStub) PartnerFinancialSummary(ctx context.Context, partnerID snowflake.ID) (*settlementdomain.PartnerFinancialSummary, error) {
	return &settlementdomain.PartnerFinancialSummary{}, nil
}

type payoutStub struct {
	calls int
	err   error
}

func (p *payoutStub) Execute(ctx context.Context, cmd payoutdomain.ExecuteCommand) (*payoutdomain.ExecuteResult, error) {
	return &payoutdomain.ExecuteResult{}, nil
}

func (p *payoutStub) ProcessQueue(ctx context.Context, batchSize int) (*payoutdomain.ProcessResult, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &payoutdomain.ProcessResult{Claimed: 2, Succeeded: 2}, nil
}

func (p *payoutStub) Get(ctx context.Context, id snowflake.ID) (*payoutdomain.PayoutJob, error) {
	return nil, payoutdomain.ErrJobNotFound
}

type notificationStub struct {
	outboxCalls  int
	billingCalls int
	billingFrom  time.Time
	billingTo    time.Time
}

func (n *notificationStub) Enqueue(ctx context.Context, cmd notificationdomain.EnqueueCommand) (*notificationdomain.EnqueueResult, error) {
	return &notificationdomain.EnqueueResult{}, nil
}

func (n *notificationStub) ProcessOutbox(ctx context.Context, batchSize int) (*notificationdomain.ProcessResult, error) {
	n.outboxCalls++
	return &notificationdomain.ProcessResult{Claimed: 1, Sent: 1}, nil
}

func (n *notificationStub) RequeueDead(ctx context.Context, id snowflake.ID) error {
	return notificationdomain.ErrOutboxNotFound
}

func (n *notificationStub) Preview(ctx context.Context, cmd notificationdomain.PreviewCommand) (*notificationdomain.Rendered, error) {
	return &notificationdomain.Rendered{}, nil
}

func (n *notificationStub) MarkDelivery(ctx context.Context, cmd notificationdomain.MarkDeliveryCommand) (*notificationdomain.NotificationDelivery, error) {
	return &notificationdomain.NotificationDelivery{}, nil
}

func (n *notificationStub) ResolveTemplate(ctx context.Context, templateKey string, partnerID *snowflake.ID) (*notificationdomain.NotificationTemplate, error) {
	return nil, notificationdomain.ErrTemplateNotFound
}

func (n *notificationStub) UpsertTemplate(ctx context.Context, tmpl notificationdomain.NotificationTemplate) (*notificationdomain.NotificationTemplate, error) {
	return &tmpl, nil
}

func (n *notificationStub) EmitBillingNotifications(ctx context.Context, from, to time.Time) (*notificationdomain.BillingEmitResult, error) {
	n.billingCalls++
	n.billingFrom = from
	n.billingTo = to
	return &notificationdomain.BillingEmitResult{Enqueued: 1}, nil
}

func (n *notificationStub) Get(ctx context.Context, id snowflake.ID) (*notificationdomain.NotificationOutbox, error) {
	return nil, notificationdomain.ErrOutboxNotFound
}

type reconciliationStub struct {
	providers    []string
	reconcileErr error
	scanCalls    int
}

func (r *reconciliationStub) ReconcileProviderPayments(ctx context.Context, filter reconciliationdomain.ReconcileFilter) (*reconciliationdomain.ReconcileResult, error) {
	if r.reconcileErr != nil {
		return nil, r.reconcileErr
	}
	r.providers = append(r.providers, filter.Provider)
	return &reconciliationdomain.ReconcileResult{OK: 3, IsClean: true}, nil
}

func (r *reconciliationStub) GenerateRecommendations(ctx context.Context) (*reconciliationdomain.GenerateResult, error) {
	r.scanCalls++
	return &reconciliationdomain.GenerateResult{}, nil
}

func (r *reconciliationStub) Apply(ctx context.Context, id snowflake.ID) (*reconciliationdomain.OpsRecommendation, error) {
	return nil, reconciliationdomain.ErrRecommendationNotFound
}

func (r *reconciliationStub) Dismiss(ctx context.Context, id snowflake.ID) (*reconciliationdomain.OpsRecommendation, error) {
	return nil, reconciliationdomain.ErrRecommendationNotFound
}

func (r *reconciliationStub) ListOpen(ctx context.Context, limit int) ([]reconciliationdomain.OpsRecommendation, error) {
	return nil, nil
}

type adapterStub struct {
	name string
}

func (a *adapterStub) Name() string { return a.name }

func (a *adapterStub) Verify(_ *http.Request, _ []byte) error { return nil }

func (a *adapterStub) Parse(_ []byte) (*providerdomain.WebhookEvent, error) {
	return nil, providerdomain.ErrMalformedEvent
}

func (a *adapterStub) Transfer(_ context.Context, _ providerdomain.TransferRequest) (*providerdomain.TransferResult, error) {
	return nil, providerdomain.ErrTransferFailed
}

func (a *adapterStub) FetchPayment(_ context.Context, _ string) (*providerdomain.ProviderPayment, error) {
	return nil, providerdomain.ErrMalformedEvent
}

func (a *adapterStub) ListPayments(_ context.Context, _ time.Time) ([]providerdomain.ProviderPayment, error) {
	return nil, nil
}

type registryStub struct {
	names []string
}

func (r *registryStub) Get(name string) (providerdomain.Adapter, error) {
	for _, n := range r.names {
		if n == name {
			return &adapterStub{name: name}, nil
		}
	}
	return nil, providerdomain.ErrUnknownProvider
}

func (r *registryStub) Names() []string { return r.names }

type stubs struct {
	settlement     *settlementStub
	payout         *payoutStub
	notification   *notificationStub
	reconciliation *reconciliationStub
}

var (
	testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	dbSeq   atomic.Int64
)

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *gorm.DB, *stubs) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_loc=auto", t.Name(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := db.Exec(
		`CREATE TABLE partner_earnings (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER NOT NULL,
			status TEXT NOT NULL,
			occurred_at DATETIME NOT NULL
		)`,
	).Error; err != nil {
		t.Fatalf("schema: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	st := &stubs{
		settlement:     &settlementStub{},
		payout:         &payoutStub{},
		notification:   &notificationStub{},
		reconciliation: &reconciliationStub{},
	}
	sched, err := New(Params{
		DB:                db,
		Log:               zap.NewNop(),
		GenID:             node,
		Clock:             clock.NewFakeClock(testNow),
		SettlementSvc:     st.settlement,
		PayoutSvc:         st.payout,
		NotificationSvc:   st.notification,
		ReconciliationSvc: st.reconciliation,
		Registry:          &registryStub{names: []string{"asaas", "stone"}},
		Config:            cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return sched, db, st
}

func seedPendingEarning(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID snowflake.ID, occurredAt time.Time) {
	t.Helper()
	err := db.Exec(
		`INSERT INTO partner_earnings (id, partner_id, status, occurred_at) VALUES (?, ?, 'pending', ?)`,
		node.Generate(), partnerID, occurredAt,
	).Error
	if err != nil {
		t.Fatalf("seed earning: %v", err)
	}
}

func TestRunOnceRunsAllJobs(t *testing.T) {
	sched, db, st := newTestScheduler(t, Config{})
	node, _ := snowflake.NewNode(2)

	// Two partners with pending earnings inside February, one already in
	// March: only February belongs to the previous-month window.
	feb := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	partnerA := node.Generate()
	partnerB := node.Generate()
	seedPendingEarning(t, db, node, partnerA, feb)
	seedPendingEarning(t, db, node, partnerB, feb)
	seedPendingEarning(t, db, node, node.Generate(), testNow.Add(-time.Hour))

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if len(st.settlement.partners) != 2 {
		t.Fatalf("expected 2 settlement generations, got %d", len(st.settlement.partners))
	}
	wantStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if !st.settlement.starts[0].Equal(wantStart) || !st.settlement.ends[0].Equal(wantEnd) {
		t.Fatalf("unexpected settlement window %v..%v", st.settlement.starts[0], st.settlement.ends[0])
	}
	if st.payout.calls != 1 {
		t.Fatalf("expected payout worker run, got %d", st.payout.calls)
	}
	if st.notification.outboxCalls != 1 || st.notification.billingCalls != 1 {
		t.Fatalf("expected outbox and billing runs, got %d and %d", st.notification.outboxCalls, st.notification.billingCalls)
	}
	if !st.notification.billingTo.Equal(testNow.Add(72 * time.Hour)) {
		t.Fatalf("unexpected billing lookahead, to=%v", st.notification.billingTo)
	}
	if len(st.reconciliation.providers) != 2 {
		t.Fatalf("expected a reconcile pass per provider, got %v", st.reconciliation.providers)
	}
	if st.reconciliation.scanCalls != 1 {
		t.Fatalf("expected recommendation scan, got %d", st.reconciliation.scanCalls)
	}
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	sched, db, st := newTestScheduler(t, Config{EnabledJobs: []string{"payout_worker"}})
	node, _ := snowflake.NewNode(2)
	seedPendingEarning(t, db, node, node.Generate(), time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC))

	if err := sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if st.payout.calls != 1 {
		t.Fatalf("expected payout worker run, got %d", st.payout.calls)
	}
	if len(st.settlement.partners) != 0 || st.notification.outboxCalls != 0 ||
		st.notification.billingCalls != 0 || st.reconciliation.scanCalls != 0 {
		t.Fatalf("disabled jobs ran: %+v", st)
	}
}

func TestRunOnceCollectsJobErrors(t *testing.T) {
	sched, _, st := newTestScheduler(t, Config{})
	st.reconciliation.reconcileErr = errors.New("provider api down")

	err := sched.RunOnce(context.Background())
	if err == nil {
		t.Fatalf("expected error from reconcile job")
	}
	if !strings.Contains(err.Error(), "reconcile") {
		t.Fatalf("expected job name in error, got %v", err)
	}

	// One failing job does not stop the rest of the pipeline.
	if st.payout.calls != 1 || st.notification.outboxCalls != 1 || st.reconciliation.scanCalls != 1 {
		t.Fatalf("expected remaining jobs to run: %+v", st)
	}
}

func TestPreviousMonth(t *testing.T) {
	cases := []struct {
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			now:       time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			now:       time.Date(2026, 3, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, tc := range cases {
		start, end := previousMonth(tc.now)
		if !start.Equal(tc.wantStart) || !end.Equal(tc.wantEnd) {
			t.Fatalf("previousMonth(%v) = %v..%v, want %v..%v", tc.now, start, end, tc.wantStart, tc.wantEnd)
		}
	}
}

func TestIsJobEnabled(t *testing.T) {
	sched, _, _ := newTestScheduler(t, Config{EnabledJobs: []string{"Reconcile", "notify_outbox"}})
	if !sched.isJobEnabled("reconcile") {
		t.Fatalf("expected case-insensitive match")
	}
	if sched.isJobEnabled("settle_partners") {
		t.Fatalf("expected unlisted job to be disabled")
	}

	all, _, _ := newTestScheduler(t, Config{})
	if !all.isJobEnabled("settle_partners") {
		t.Fatalf("empty list must enable every job")
	}
}
