package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/paymentcontext/domain"
	"github.com/comandahub/paycore/internal/paymentcontext/repository"
)

func setupResolver(t *testing.T, node *snowflake.Node) (domain.Service, *gorm.DB) {
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
		`CREATE TABLE payment_correlations (
			id INTEGER PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_payment_id TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id INTEGER,
			tenant_id INTEGER,
			partner_id INTEGER,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_payment_correlations_payment ON payment_correlations (provider, provider_payment_id)`,
		`CREATE TABLE partner_invoices (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER NOT NULL,
			tenant_id INTEGER,
			provider TEXT,
			provider_payment_id TEXT,
			amount INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			due_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE module_purchases (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			partner_id INTEGER,
			module_key TEXT NOT NULL,
			provider TEXT,
			provider_payment_id TEXT,
			amount INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE subscriptions (
			id INTEGER PRIMARY KEY,
			tenant_id INTEGER NOT NULL,
			partner_id INTEGER,
			provider TEXT,
			provider_payment_id TEXT,
			plan_key TEXT,
			status TEXT NOT NULL,
			trial_ends_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema: %v", err)
		}
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

func TestRecordCorrelationKeepsFirstRow(t *testing.T) {
	node := mustNode(t)
	svc, db := setupResolver(t, node)
	ctx := context.Background()

	tenantA := node.Generate()
	tenantB := node.Generate()
	sourceID := node.Generate()

	first, err := svc.RecordCorrelation(ctx, domain.RecordCommand{
		Provider:          "Asaas",
		ProviderPaymentID: "pay_corr",
		Source:            domain.SourceSubscription,
		SourceID:          &sourceID,
		TenantID:          &tenantA,
	})
	if err != nil {
		t.Fatalf("record first: %v", err)
	}

	second, err := svc.RecordCorrelation(ctx, domain.RecordCommand{
		Provider:          "asaas",
		ProviderPaymentID: "pay_corr",
		Source:            domain.SourceSubscription,
		SourceID:          &sourceID,
		TenantID:          &tenantB,
	})
	if err != nil {
		t.Fatalf("record second: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected second record to return the first row")
	}
	if second.TenantID == nil || *second.TenantID != tenantA {
		t.Fatalf("expected first tenant to win")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM payment_correlations`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 correlation, got %d", count)
	}
}

func TestRecordCorrelationValidation(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupResolver(t, node)
	ctx := context.Background()

	if _, err := svc.RecordCorrelation(ctx, domain.RecordCommand{ProviderPaymentID: "p", Source: domain.SourceSubscription}); err != domain.ErrInvalidProvider {
		t.Fatalf("expected ErrInvalidProvider, got %v", err)
	}
	if _, err := svc.RecordCorrelation(ctx, domain.RecordCommand{Provider: "asaas", Source: domain.SourceSubscription}); err != domain.ErrInvalidPaymentID {
		t.Fatalf("expected ErrInvalidPaymentID, got %v", err)
	}
	if _, err := svc.RecordCorrelation(ctx, domain.RecordCommand{Provider: "asaas", ProviderPaymentID: "p", Source: "customer"}); err != domain.ErrInvalidSource {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestResolvePrefersCorrelation(t *testing.T) {
	node := mustNode(t)
	svc, db := setupResolver(t, node)
	ctx := context.Background()

	partnerA := node.Generate()
	partnerB := node.Generate()
	subID := node.Generate()
	now := time.Now().UTC()

	// Correlation and an open invoice both reference the payment; the
	// correlation wins.
	if _, err := svc.RecordCorrelation(ctx, domain.RecordCommand{
		Provider:          "asaas",
		ProviderPaymentID: "pay_pref",
		Source:            domain.SourceSubscription,
		SourceID:          &subID,
		PartnerID:         &partnerA,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO partner_invoices (id, partner_id, provider, provider_payment_id, amount, status, due_date, created_at, updated_at)
		 VALUES (?, ?, 'asaas', 'pay_pref', 5000, 'open', ?, ?, ?)`,
		node.Generate(), partnerB, now, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}

	resolved, err := svc.Resolve(ctx, "asaas", "pay_pref")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Source != domain.SourceSubscription {
		t.Fatalf("expected correlation to win, got source %s", resolved.Source)
	}
	if resolved.PartnerID == nil || *resolved.PartnerID != partnerA {
		t.Fatalf("expected partner from correlation")
	}
}

func TestResolveFallbackOrder(t *testing.T) {
	node := mustNode(t)
	svc, db := setupResolver(t, node)
	ctx := context.Background()

	partnerID := node.Generate()
	tenantID := node.Generate()
	now := time.Now().UTC()

	if err := db.Exec(
		`INSERT INTO partner_invoices (id, partner_id, provider, provider_payment_id, amount, status, due_date, created_at, updated_at)
		 VALUES (?, ?, 'asaas', 'pay_inv', 5000, 'open', ?, ?, ?)`,
		node.Generate(), partnerID, now, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO module_purchases (id, tenant_id, module_key, provider, provider_payment_id, amount, status, created_at, updated_at)
		 VALUES (?, ?, 'pos', 'asaas', 'pay_mod', 3000, 'pending', ?, ?)`,
		node.Generate(), tenantID, now, now,
	).Error; err != nil {
		t.Fatalf("seed purchase: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO subscriptions (id, tenant_id, provider, provider_payment_id, plan_key, status, created_at, updated_at)
		 VALUES (?, ?, 'asaas', 'pay_sub', 'pro', 'trial', ?, ?)`,
		node.Generate(), tenantID, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	cases := []struct {
		paymentID string
		want      domain.Source
	}{
		{"pay_inv", domain.SourcePartnerInvoice},
		{"pay_mod", domain.SourceModulePurchase},
		{"pay_sub", domain.SourceSubscription},
	}
	for _, tc := range cases {
		resolved, err := svc.Resolve(ctx, "asaas", tc.paymentID)
		if err != nil {
			t.Fatalf("resolve %s: %v", tc.paymentID, err)
		}
		if resolved.Source != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.paymentID, tc.want, resolved.Source)
		}
	}
}

func TestResolveUnknownPayment(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupResolver(t, node)

	resolved, err := svc.Resolve(context.Background(), "asaas", "pay_missing")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Unknown() {
		t.Fatalf("expected unknown context, got %+v", resolved)
	}
}

func TestResolveCancelledInvoiceIgnored(t *testing.T) {
	node := mustNode(t)
	svc, db := setupResolver(t, node)
	now := time.Now().UTC()

	if err := db.Exec(
		`INSERT INTO partner_invoices (id, partner_id, provider, provider_payment_id, amount, status, due_date, created_at, updated_at)
		 VALUES (?, ?, 'asaas', 'pay_cancelled', 5000, 'cancelled', ?, ?, ?)`,
		node.Generate(), node.Generate(), now, now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), "asaas", "pay_cancelled")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.Unknown() {
		t.Fatalf("cancelled invoices must not attribute payments, got %+v", resolved)
	}
}
