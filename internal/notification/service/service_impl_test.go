package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/notification/domain"
	"github.com/comandahub/paycore/internal/notification/repository"
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

type senderStub struct {
	mu     sync.Mutex
	err    error
	sends  int
	bodies []string
}

func (s *senderStub) Send(ctx context.Context, channel domain.Channel, address, subject, body string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends++
	if s.err != nil {
		return "", s.err
	}
	s.bodies = append(s.bodies, body)
	return fmt.Sprintf("msg_%d", s.sends), nil
}

func (s *senderStub) Sends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends
}

func (s *senderStub) LastBody() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.bodies) == 0 {
		return ""
	}
	return s.bodies[len(s.bodies)-1]
}

func setupNotificationService(t *testing.T, node *snowflake.Node, clk *movableClock, sender *senderStub) (domain.Service, *gorm.DB) {
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
		`CREATE TABLE notification_outbox (
			id INTEGER PRIMARY KEY,
			channel TEXT NOT NULL,
			template_key TEXT NOT NULL,
			to_address TEXT NOT NULL,
			payload TEXT NOT NULL,
			dedupe_key TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			max_attempts INTEGER NOT NULL,
			next_attempt_at DATETIME NOT NULL,
			correlation_id TEXT NOT NULL,
			partner_id INTEGER,
			last_error TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			sent_at DATETIME
		)`,
		`CREATE UNIQUE INDEX ux_notification_outbox_dedupe
			ON notification_outbox (dedupe_key)
			WHERE status IN ('queued', 'sending', 'sent')`,
		`CREATE TABLE notification_deliveries (
			id INTEGER PRIMARY KEY,
			outbox_id INTEGER NOT NULL,
			provider TEXT NOT NULL,
			provider_message_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE notification_templates (
			id INTEGER PRIMARY KEY,
			partner_id INTEGER,
			template_key TEXT NOT NULL,
			channel TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
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
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Config: config.Config{Notify: config.NotifyConfig{MaxAttempts: 3, SendTimeoutSec: 5}},
		Repo:   repository.Provide(),
		Sender: sender,
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

func newClock() *movableClock {
	return &movableClock{now: time.Date(2026, 3, 20, 9, 0, 0, 0, time.UTC)}
}

func seedTemplate(t *testing.T, db *gorm.DB, node *snowflake.Node, partnerID *snowflake.ID, key, subject, body string) {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	err := db.Exec(
		`INSERT INTO notification_templates (id, partner_id, template_key, channel, subject, body, active, created_at, updated_at)
		 VALUES (?, ?, ?, 'email', ?, ?, TRUE, ?, ?)`,
		node.Generate(), partnerID, key, subject, body, now, now,
	).Error
	if err != nil {
		t.Fatalf("seed template: %v", err)
	}
}

func enqueueCmd(key string) domain.EnqueueCommand {
	return domain.EnqueueCommand{
		Channel:     domain.ChannelEmail,
		TemplateKey: "invoice_due",
		ToAddress:   "partner@example.com",
		Payload:     []byte(`{"invoice_id":"inv_1","amount":5000}`),
		DedupeKey:   key,
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	node := mustNode(t)
	svc, db := setupNotificationService(t, node, newClock(), &senderStub{})
	ctx := context.Background()

	var created int
	var firstID snowflake.ID
	for i := 0; i < 10; i++ {
		res, err := svc.Enqueue(ctx, enqueueCmd("dedupe-1"))
		if err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		if res.Created {
			created++
			firstID = res.ID
		} else if res.ID != firstID {
			t.Fatalf("expected every call to name the live entry")
		}
	}
	if created != 1 {
		t.Fatalf("expected 1 created, got %d", created)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM notification_outbox`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after 10 enqueues, got %d", count)
	}
}

func TestEnqueueValidation(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupNotificationService(t, node, newClock(), &senderStub{})
	ctx := context.Background()

	cmd := enqueueCmd("k")
	cmd.Channel = "sms"
	if _, err := svc.Enqueue(ctx, cmd); err != domain.ErrInvalidChannel {
		t.Fatalf("expected ErrInvalidChannel, got %v", err)
	}

	cmd = enqueueCmd("k")
	cmd.ToAddress = " "
	if _, err := svc.Enqueue(ctx, cmd); err != domain.ErrInvalidAddress {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}

	cmd = enqueueCmd("")
	if _, err := svc.Enqueue(ctx, cmd); err != domain.ErrInvalidDedupeKey {
		t.Fatalf("expected ErrInvalidDedupeKey, got %v", err)
	}
}

func TestProcessOutboxDelivers(t *testing.T) {
	node := mustNode(t)
	sender := &senderStub{}
	svc, db := setupNotificationService(t, node, newClock(), sender)
	ctx := context.Background()
	seedTemplate(t, db, node, nil, "invoice_due", "Invoice {{.invoice_id}}", "Amount {{.amount}} is due.")

	res, err := svc.Enqueue(ctx, enqueueCmd("send-1"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	processed, err := svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if processed.Claimed != 1 || processed.Sent != 1 {
		t.Fatalf("expected one sent entry, got %+v", processed)
	}
	if !strings.Contains(sender.LastBody(), "5000") {
		t.Fatalf("expected rendered payload in body, got %q", sender.LastBody())
	}

	entry, err := svc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != domain.StatusSent || entry.SentAt == nil {
		t.Fatalf("expected sent entry, got %+v", entry)
	}

	var deliveries int64
	if err := db.Raw(`SELECT COUNT(*) FROM notification_deliveries WHERE outbox_id = ?`, res.ID).Scan(&deliveries).Error; err != nil {
		t.Fatalf("count deliveries: %v", err)
	}
	if deliveries != 1 {
		t.Fatalf("expected delivery record, got %d", deliveries)
	}
}

func TestProcessOutboxRetriesThenDeadLetters(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	sender := &senderStub{err: errors.New("smtp unavailable")}
	svc, db := setupNotificationService(t, node, clk, sender)
	ctx := context.Background()
	seedTemplate(t, db, node, nil, "invoice_due", "s", "b")

	cmd := enqueueCmd("retry-1")
	cmd.MaxAttempts = 2
	res, err := svc.Enqueue(ctx, cmd)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	first, err := svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("process first: %v", err)
	}
	if first.Retried != 1 {
		t.Fatalf("expected retry, got %+v", first)
	}

	entry, err := svc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != domain.StatusQueued || entry.Attempts != 1 || entry.LastError == nil {
		t.Fatalf("expected queued retry, got %+v", entry)
	}

	clk.Advance(2 * time.Minute)
	second, err := svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("process second: %v", err)
	}
	if second.Dead != 1 {
		t.Fatalf("expected dead letter, got %+v", second)
	}

	entry, err = svc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != domain.StatusDead {
		t.Fatalf("expected dead, got %s", entry.Status)
	}

	// The dead entry no longer occupies the dedupe key.
	fresh, err := svc.Enqueue(ctx, enqueueCmd("retry-1"))
	if err != nil {
		t.Fatalf("enqueue after dead: %v", err)
	}
	if !fresh.Created {
		t.Fatalf("expected fresh entry after dead letter")
	}
}

func TestRequeueDead(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	sender := &senderStub{err: errors.New("down")}
	svc, db := setupNotificationService(t, node, clk, sender)
	ctx := context.Background()
	seedTemplate(t, db, node, nil, "invoice_due", "s", "b")

	cmd := enqueueCmd("requeue-1")
	cmd.MaxAttempts = 1
	res, err := svc.Enqueue(ctx, cmd)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := svc.ProcessOutbox(ctx, 10); err != nil {
		t.Fatalf("process: %v", err)
	}

	if err := svc.RequeueDead(ctx, res.ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	entry, err := svc.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.Status != domain.StatusQueued {
		t.Fatalf("expected queued after requeue, got %s", entry.Status)
	}

	if err := svc.RequeueDead(ctx, res.ID); err != domain.ErrNotDead {
		t.Fatalf("expected ErrNotDead on live entry, got %v", err)
	}
	if err := svc.RequeueDead(ctx, node.Generate()); err != domain.ErrOutboxNotFound {
		t.Fatalf("expected ErrOutboxNotFound, got %v", err)
	}

	// Requeued entry delivers once the sender recovers.
	sender.err = nil
	processed, err := svc.ProcessOutbox(ctx, 10)
	if err != nil {
		t.Fatalf("process recovered: %v", err)
	}
	if processed.Sent != 1 {
		t.Fatalf("expected requeued entry to send, got %+v", processed)
	}
}

func TestPreviewWritesNothing(t *testing.T) {
	node := mustNode(t)
	svc, db := setupNotificationService(t, node, newClock(), &senderStub{})
	ctx := context.Background()
	seedTemplate(t, db, node, nil, "invoice_due", "Invoice {{.invoice_id}}", "Amount {{.amount}}")

	rendered, err := svc.Preview(ctx, domain.PreviewCommand{
		TemplateKey: "invoice_due",
		Payload:     []byte(`{"invoice_id":"inv_9","amount":1234}`),
	})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if rendered.Subject != "Invoice inv_9" {
		t.Fatalf("unexpected subject %q", rendered.Subject)
	}
	if !strings.Contains(rendered.Body, "1234") {
		t.Fatalf("unexpected body %q", rendered.Body)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM notification_outbox`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("preview must not write, found %d rows", count)
	}
}

func TestResolveTemplatePrefersPartnerOverride(t *testing.T) {
	node := mustNode(t)
	svc, db := setupNotificationService(t, node, newClock(), &senderStub{})
	ctx := context.Background()

	partnerID := node.Generate()
	seedTemplate(t, db, node, nil, "invoice_due", "default subject", "default body")
	seedTemplate(t, db, node, &partnerID, "invoice_due", "partner subject", "partner body")

	tmpl, err := svc.ResolveTemplate(ctx, "invoice_due", &partnerID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tmpl.Subject != "partner subject" {
		t.Fatalf("expected partner override, got %q", tmpl.Subject)
	}

	other := node.Generate()
	tmpl, err = svc.ResolveTemplate(ctx, "invoice_due", &other)
	if err != nil {
		t.Fatalf("resolve fallback: %v", err)
	}
	if tmpl.Subject != "default subject" {
		t.Fatalf("expected default fallback, got %q", tmpl.Subject)
	}

	if _, err := svc.ResolveTemplate(ctx, "unknown_key", nil); err != domain.ErrTemplateNotFound {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestUpsertTemplateRejectsBadSyntax(t *testing.T) {
	node := mustNode(t)
	svc, _ := setupNotificationService(t, node, newClock(), &senderStub{})

	_, err := svc.UpsertTemplate(context.Background(), domain.NotificationTemplate{
		TemplateKey: "broken",
		Channel:     domain.ChannelEmail,
		Subject:     "s",
		Body:        "{{.unclosed",
	})
	if err == nil || !errors.Is(err, domain.ErrInvalidTemplate) {
		t.Fatalf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestEmitBillingNotificationsIsRerunSafe(t *testing.T) {
	node := mustNode(t)
	clk := newClock()
	svc, db := setupNotificationService(t, node, clk, &senderStub{})
	ctx := context.Background()

	now := clk.Now()
	partnerID := node.Generate()
	if err := db.Exec(
		`INSERT INTO partner_invoices (id, partner_id, amount, status, due_date, created_at, updated_at)
		 VALUES (?, ?, 5000, 'open', ?, ?, ?)`,
		node.Generate(), partnerID, now.Add(24*time.Hour), now, now,
	).Error; err != nil {
		t.Fatalf("seed invoice: %v", err)
	}
	if err := db.Exec(
		`INSERT INTO subscriptions (id, tenant_id, plan_key, status, trial_ends_at, created_at, updated_at)
		 VALUES (?, ?, 'pro', 'trial', ?, ?, ?)`,
		node.Generate(), node.Generate(), now.Add(48*time.Hour), now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	first, err := svc.EmitBillingNotifications(ctx, now, now.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("emit first: %v", err)
	}
	if first.Enqueued != 2 || first.Skipped != 0 {
		t.Fatalf("expected 2 enqueued, got %+v", first)
	}

	second, err := svc.EmitBillingNotifications(ctx, now, now.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("emit second: %v", err)
	}
	if second.Enqueued != 0 || second.Skipped != 2 {
		t.Fatalf("expected rerun to skip, got %+v", second)
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM notification_outbox`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 outbox rows, got %d", count)
	}
}
