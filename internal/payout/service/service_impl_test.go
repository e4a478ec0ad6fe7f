package service

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/payout/domain"
	"github.com/comandahub/paycore/internal/payout/repository"
	providerdomain "github.com/comandahub/paycore/internal/providers/payment/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
	settlementrepository "github.com/comandahub/paycore/internal/settlement/repository"
	settlementservice "github.com/comandahub/paycore/internal/settlement/service"
)

type movableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *movableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *movableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type adapterStub struct {
	mu          sync.Mutex
	transferErr error
	transfers   int
}

func (a *adapterStub) Name() string                          { return "asaas" }
func (a *adapterStub) Verify(_ *http.Request, _ []byte) error { return nil }
func (a *adapterStub) Parse(_ []byte) (*providerdomain.WebhookEvent, error) {
	return nil, providerdomain.ErrMalformedEvent
}

func (a *adapterStub) Transfer(ctx context.Context, req providerdomain.TransferRequest) (*providerdomain.TransferResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.transfers++
	if a.transferErr != nil {
		return nil, a.transferErr
	}
	return &providerdomain.TransferResult{TransferID: fmt.Sprintf("tr_%d", a.transfers)}, nil
}

func (a *adapterStub) FetchPayment(ctx context.Context, providerPaymentID string) (*providerdomain.ProviderPayment, error) {
	return nil, providerdomain.ErrMalformedEvent
}

func (a *adapterStub) ListPayments(ctx context.Context, from time.Time) ([]providerdomain.ProviderPayment, error) {
	return nil, nil
}

func (a *adapterStub) Transfers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transfers
}

type registryStub struct {
	adapter providerdomain.Adapter
}

func (r *registryStub) Get(name string) (providerdomain.Adapter, error) {
	if name != r.adapter.Name() {
		return nil, providerdomain.ErrUnknownProvider
	}
	return r.adapter, nil
}

func (r *registryStub) Names() []string { return []string{r.adapter.Name()} }

func setupPayoutService(t *testing.T, node *snowflake.Node, clk *movableClock, adapter providerdomain.Adapter) (domain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_loc=auto", t.Name())
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

	statements := []string{
		`CREATE TABLE settlements (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER NOT NULL,
			period_start DATETIME NOT NULL,
			period_end DATETIME NOT NULL,
			status TEXT NOT NULL,
			gross_total INTEGER NOT NULL DEFAULT 0,
			platform_fee_total INTEGER NOT NULL DEFAULT 0,
			partner_net_total INTEGER NOT NULL DEFAULT 0,
			transaction_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			approved_at DATETIME,
			paid_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_settlements_partner_period
			ON settlements (partner_id, period_start, period_end)
			WHERE status <> 'cancelled'`,
		`CREATE TABLE partner_earnings (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER NOT NULL,
			tenant_id INTEGER,
			provider TEXT NOT NULL,
			provider_payment_id TEXT NOT NULL,
			source_event_id INTEGER NOT NULL,
			gross_amount INTEGER NOT NULL,
			commission_amount INTEGER NOT NULL,
			net_amount INTEGER NOT NULL,
			status TEXT NOT NULL,
			original_earning_id INTEGER,
			risk_flagged BOOLEAN NOT NULL DEFAULT FALSE,
			occurred_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE settlement_items (
			id INTEGER PRIMARY KEY,
			settlement_id INTEGER NOT NULL,
			earning_id INTEGER NOT NULL,
			net_amount INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_settlement_items_earning ON settlement_items (earning_id)`,
		`CREATE TABLE payout_jobs (
			id INTEGER PRIMARY KEY,
			settlement_id INTEGER NOT NULL,
			partner_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			method TEXT NOT NULL,
			destination TEXT NOT NULL,
			amount INTEGER NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			next_attempt_at DATETIME NOT NULL,
			provider_transfer_id TEXT,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payout_jobs_settlement
			ON payout_jobs (settlement_id) WHERE status <> 'failed'`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
	}

	settlements := settlementservice.NewService(settlementservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
		Repo:  settlementrepository.Provide(),
	})
	svc := NewService(Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Repo:        repository.Provide(),
		Settlements: settlements,
		Providers:   &registryStub{adapter: adapter},
	})
	return svc, db
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

func seedSettlement(t *testing.T, db *gorm.DB, node *snowflake.Node, status settlementdomain.Status, net int64) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	err := db.Exec(
		`INSERT INTO settlements (
			id, partner_id, period_start, period_end, status,
			gross_total, platform_fee_total, partner_net_total, transaction_count,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, node.Generate(),
		time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		status, net+2500, int64(2500), net, 5, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed settlement: %v", err)
	}
	return id
}

func newClock() *movableClock {
	return &movableClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func TestExecuteQueuesOnce(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	svc, db := setupPayoutService(t, node, clk, &adapterStub{})
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusApproved, 47500)

	cmd := domain.ExecuteCommand{SettlementID: settlementID, Provider: "asaas", Method: "pix", Destination: "key@partner.com"}

	first, err := svc.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("execute first: %v", err)
	}
	if !first.Success {
		t.Fatalf("expected queued job, got %+v", first)
	}
	if first.Job.Amount != 47500 {
		t.Fatalf("expected job amount from settlement, got %d", first.Job.Amount)
	}

	second, err := svc.Execute(context.Background(), cmd)
	if err != nil {
		t.Fatalf("execute second: %v", err)
	}
	if second.Success || second.ErrorCode != domain.ExecuteErrPayoutExists {
		t.Fatalf("expected payout_exists, got %+v", second)
	}
	if second.ExistingID == nil || *second.ExistingID != first.Job.ID {
		t.Fatalf("expected existing id to name the live job")
	}
}

func TestExecuteRejectsPaidSettlement(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	svc, db := setupPayoutService(t, node, clk, &adapterStub{})
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusPaid, 1000)

	result, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.ErrorCode != domain.ExecuteErrInvalidStatus {
		t.Fatalf("expected invalid_status, got %+v", result)
	}
}

func TestExecuteRejectsCancelledSettlement(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	svc, db := setupPayoutService(t, node, clk, &adapterStub{})
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusCancelled, 1000)

	result, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success || result.ErrorCode != domain.ExecuteErrInvalidStatus {
		t.Fatalf("expected invalid_status, got %+v", result)
	}

	var jobs int64
	if err := db.Raw(`SELECT COUNT(*) FROM payout_jobs WHERE settlement_id = ?`, settlementID).Scan(&jobs).Error; err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobs != 0 {
		t.Fatalf("cancelled settlement must not queue a payout, got %d jobs", jobs)
	}
}

func TestProcessQueueCompletesTransfer(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	adapter := &adapterStub{}
	svc, db := setupPayoutService(t, node, clk, adapter)
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusDraft, 47500)

	queued, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID, Destination: "key"})
	if err != nil || !queued.Success {
		t.Fatalf("execute: %v %+v", err, queued)
	}

	result, err := svc.ProcessQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Claimed != 1 || result.Succeeded != 1 {
		t.Fatalf("expected one completed job, got %+v", result)
	}

	job, err := svc.Get(context.Background(), queued.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.StatusDone || job.ProviderTransferID == nil {
		t.Fatalf("expected done job with transfer id, got %+v", job)
	}

	var settlementStatus string
	if err := db.Raw(`SELECT status FROM settlements WHERE id = ?`, settlementID).Scan(&settlementStatus).Error; err != nil {
		t.Fatalf("load settlement: %v", err)
	}
	if settlementStatus != string(settlementdomain.StatusPaid) {
		t.Fatalf("expected settlement paid, got %s", settlementStatus)
	}
}

func TestProcessQueueRetriesWithBackoff(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	adapter := &adapterStub{transferErr: providerdomain.ErrTransferFailed}
	svc, db := setupPayoutService(t, node, clk, adapter)
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusApproved, 1000)

	queued, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID, Destination: "key"})
	if err != nil || !queued.Success {
		t.Fatalf("execute: %v %+v", err, queued)
	}

	result, err := svc.ProcessQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.Retried != 1 {
		t.Fatalf("expected one retried job, got %+v", result)
	}

	job, err := svc.Get(context.Background(), queued.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.StatusQueued || job.Attempts != 1 {
		t.Fatalf("expected queued retry with attempt 1, got %+v", job)
	}
	if !job.NextAttemptAt.After(clk.Now()) {
		t.Fatalf("expected backoff to push next attempt into the future")
	}

	// Before the backoff elapses the job is not due.
	again, err := svc.ProcessQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("process again: %v", err)
	}
	if again.Claimed != 0 {
		t.Fatalf("expected no due jobs before backoff, got %+v", again)
	}

	clk.Advance(time.Minute)
	after, err := svc.ProcessQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("process after backoff: %v", err)
	}
	if after.Retried != 1 {
		t.Fatalf("expected a second retry, got %+v", after)
	}
	if adapter.Transfers() != 2 {
		t.Fatalf("expected 2 transfer attempts, got %d", adapter.Transfers())
	}

	var dbStatus string
	if err := db.Raw(`SELECT status FROM payout_jobs WHERE id = ?`, queued.Job.ID).Scan(&dbStatus).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	if dbStatus != string(domain.StatusQueued) {
		t.Fatalf("expected queued, got %s", dbStatus)
	}
}

func TestProcessQueueDeadLettersAfterMaxAttempts(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	adapter := &adapterStub{transferErr: providerdomain.ErrTransferFailed}
	svc, db := setupPayoutService(t, node, clk, adapter)
	settlementID := seedSettlement(t, db, node, settlementdomain.StatusApproved, 1000)

	queued, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID, Destination: "key"})
	if err != nil || !queued.Success {
		t.Fatalf("execute: %v %+v", err, queued)
	}
	if err := db.Exec(`UPDATE payout_jobs SET max_attempts = 2 WHERE id = ?`, queued.Job.ID).Error; err != nil {
		t.Fatalf("shrink attempts: %v", err)
	}

	if _, err := svc.ProcessQueue(context.Background(), 10); err != nil {
		t.Fatalf("process first: %v", err)
	}
	clk.Advance(time.Hour)
	result, err := svc.ProcessQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("process second: %v", err)
	}
	if result.Dead != 1 {
		t.Fatalf("expected dead job, got %+v", result)
	}

	job, err := svc.Get(context.Background(), queued.Job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != domain.StatusFailed || job.LastError == nil {
		t.Fatalf("expected failed job with last error, got %+v", job)
	}

	// A failed job no longer blocks a fresh payout for the settlement.
	replacement, err := svc.Execute(context.Background(), domain.ExecuteCommand{SettlementID: settlementID, Destination: "key"})
	if err != nil {
		t.Fatalf("execute replacement: %v", err)
	}
	if !replacement.Success {
		t.Fatalf("expected replacement job, got %+v", replacement)
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	if backoff(1) != 30*time.Second {
		t.Fatalf("attempt 1: got %s", backoff(1))
	}
	if backoff(2) != time.Minute {
		t.Fatalf("attempt 2: got %s", backoff(2))
	}
	if backoff(3) != 2*time.Minute {
		t.Fatalf("attempt 3: got %s", backoff(3))
	}
	if backoff(10) != time.Hour {
		t.Fatalf("attempt 10: got %s", backoff(10))
	}
	if backoff(40) != time.Hour {
		t.Fatalf("overflow attempt: got %s", backoff(40))
	}
}
