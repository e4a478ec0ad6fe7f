package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/ledger/domain"
	"github.com/comandahub/paycore/internal/ledger/repository"
)

func setupLedgerService(t *testing.T, node *snowflake.Node) (domain.Service, *gorm.DB) {
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
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error

	if err := db.Exec(`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		provider_payment_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		tenant_id INTEGER,
		partner_id INTEGER,
		amount_gross INTEGER NOT NULL,
		payment_method TEXT,
		occurred_at DATETIME NOT NULL,
		payload TEXT NOT NULL,
		received_at DATETIME NOT NULL,
		applied_at DATETIME,
		apply_details TEXT
	)`).Error; err != nil {
		t.Fatalf("create payment_events: %v", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX ux_payment_events_provider_event
		ON payment_events (provider, provider_event_id)`).Error; err != nil {
		t.Fatalf("create unique index: %v", err)
	}

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
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

func confirmedCommand(paymentID, eventID string) domain.InsertCommand {
	return domain.InsertCommand{
		Provider:          "asaas",
		ProviderEventID:   eventID,
		ProviderPaymentID: paymentID,
		EventType:         domain.EventTypeConfirmed,
		AmountGross:       10000,
		PaymentMethod:     "pix",
		OccurredAt:        time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		Payload:           []byte(`{"event":"PAYMENT_CONFIRMED"}`),
	}
}

func TestInsertDuplicateReturnsExisting(t *testing.T) {
	node := mustNode(t)
	svc, db := setupLedgerService(t, node)
	ctx := context.Background()

	cmd := confirmedCommand("pay_1", "evt_1")

	first, err := svc.Insert(ctx, cmd)
	if err != nil {
		t.Fatalf("insert first: %v", err)
	}
	if !first.IsNew {
		t.Fatalf("expected first insert to be new")
	}

	second, err := svc.Insert(ctx, cmd)
	if err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if second.IsNew {
		t.Fatalf("expected duplicate insert to be deduplicated")
	}
	if first.Event.ID != second.Event.ID {
		t.Fatalf("expected same event row, got %s vs %s", first.Event.ID, second.Event.ID)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestInsertConcurrentDuplicates(t *testing.T) {
	node := mustNode(t)
	svc, db := setupLedgerService(t, node)
	ctx := context.Background()

	cmd := confirmedCommand("pay_conc", "evt_conc")

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	ids := make([]snowflake.ID, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Insert(ctx, cmd)
			errs[i] = err
			if res != nil {
				ids[i] = res.Event.ID
			}
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected all workers to see one row, got %s vs %s", ids[0], ids[i])
		}
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM payment_events`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after %d racing inserts, got %d", workers, count)
	}
}

func TestInsertValidation(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupLedgerService(t, node)
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*domain.InsertCommand)
		wantErr error
	}{
		{"missing provider", func(c *domain.InsertCommand) { c.Provider = "  " }, domain.ErrInvalidProvider},
		{"missing event id", func(c *domain.InsertCommand) { c.ProviderEventID = "" }, domain.ErrInvalidEvent},
		{"missing payment id", func(c *domain.InsertCommand) { c.ProviderPaymentID = "" }, domain.ErrInvalidEvent},
		{"unknown event type", func(c *domain.InsertCommand) { c.EventType = "SOMETHING" }, domain.ErrUnknownEventType},
		{"zero occurred_at", func(c *domain.InsertCommand) { c.OccurredAt = time.Time{} }, domain.ErrInvalidOccurredAt},
		{"invalid payload", func(c *domain.InsertCommand) { c.Payload = []byte("{oops") }, domain.ErrInvalidPayload},
		{"empty payload", func(c *domain.InsertCommand) { c.Payload = nil }, domain.ErrInvalidPayload},
		{"confirmed without amount", func(c *domain.InsertCommand) { c.AmountGross = 0 }, domain.ErrInvalidAmount},
		{"negative amount", func(c *domain.InsertCommand) {
			c.EventType = domain.EventTypeCreated
			c.AmountGross = -1
		}, domain.ErrInvalidAmount},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := confirmedCommand("pay_v", "evt_v")
			tc.mutate(&cmd)
			if _, err := svc.Insert(ctx, cmd); err != tc.wantErr {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestInsertNormalizesProviderCase(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupLedgerService(t, node)
	ctx := context.Background()

	cmd := confirmedCommand("pay_case", "evt_case")
	cmd.Provider = " Asaas "
	res, err := svc.Insert(ctx, cmd)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if res.Event.Provider != "asaas" {
		t.Fatalf("expected lowercased provider, got %q", res.Event.Provider)
	}
}

func TestListByPaymentOrdersByOccurredAt(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupLedgerService(t, node)
	ctx := context.Background()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	types := []domain.EventType{domain.EventTypeConfirmed, domain.EventTypeCreated, domain.EventTypeRefunded}
	offsets := []time.Duration{2 * time.Hour, 0, 4 * time.Hour}
	for i := range types {
		cmd := confirmedCommand("pay_list", fmt.Sprintf("evt_list_%d", i))
		cmd.EventType = types[i]
		cmd.AmountGross = 10000
		cmd.OccurredAt = base.Add(offsets[i])
		if _, err := svc.Insert(ctx, cmd); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	events, err := svc.ListByPayment(ctx, "asaas", "pay_list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []domain.EventType{domain.EventTypeCreated, domain.EventTypeConfirmed, domain.EventTypeRefunded}
	for i := range want {
		if events[i].EventType != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], events[i].EventType)
		}
	}
}

func TestGetMissingEvent(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupLedgerService(t, node)

	if _, err := svc.Get(context.Background(), node.Generate()); err != domain.ErrEventNotFound {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
