package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/comandahub/paycore/internal/clock"
	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/notification/channels"
	"github.com/comandahub/paycore/internal/notification/domain"
	obsmetrics "github.com/comandahub/paycore/internal/observability/metrics"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultMaxAttempts = 5
	defaultSendTimeout = 15 * time.Second
	backoffBase        = time.Minute
	backoffCap         = 6 * time.Hour
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	Repo       domain.Repository
	Sender     channels.Sender
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	sender      channels.Sender
	maxAttempts int
	sendTimeout time.Duration
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	maxAttempts := p.Config.Notify.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	sendTimeout := time.Duration(p.Config.Notify.SendTimeoutSec) * time.Second
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("notification.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		sender:      p.Sender,
		maxAttempts: maxAttempts,
		sendTimeout: sendTimeout,
		obsMetrics:  p.ObsMetrics,
	}
}

// Enqueue inserts a queued entry, or returns the id of the live entry
// already serving the dedupe key. The partial unique index on dedupe_key
// while status is non-terminal is the only guard.
func (s *Service) Enqueue(ctx context.Context, cmd domain.EnqueueCommand) (*domain.EnqueueResult, error) {
	switch cmd.Channel {
	case domain.ChannelEmail, domain.ChannelSlack:
	default:
		return nil, domain.ErrInvalidChannel
	}
	cmd.TemplateKey = strings.TrimSpace(cmd.TemplateKey)
	if cmd.TemplateKey == "" {
		return nil, domain.ErrInvalidTemplate
	}
	cmd.ToAddress = strings.TrimSpace(cmd.ToAddress)
	if cmd.ToAddress == "" {
		return nil, domain.ErrInvalidAddress
	}
	cmd.DedupeKey = strings.TrimSpace(cmd.DedupeKey)
	if cmd.DedupeKey == "" {
		return nil, domain.ErrInvalidDedupeKey
	}
	maxAttempts := cmd.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	now := s.clock.Now()
	row := domain.NotificationOutbox{
		ID:            s.genID.Generate(),
		Channel:       cmd.Channel,
		TemplateKey:   cmd.TemplateKey,
		ToAddress:     cmd.ToAddress,
		Payload:       datatypes.JSON(payload),
		DedupeKey:     cmd.DedupeKey,
		Status:        domain.StatusQueued,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: now,
		CorrelationID: uuid.NewString(),
		PartnerID:     cmd.PartnerID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := s.repo.InsertOutbox(ctx, s.db, &row)
	if err != nil {
		return nil, err
	}
	if inserted {
		return &domain.EnqueueResult{ID: row.ID, Created: true}, nil
	}
	existing, err := s.repo.FindActiveByDedupeKey(ctx, s.db, cmd.DedupeKey)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrOutboxNotFound
	}
	return &domain.EnqueueResult{ID: existing.ID}, nil
}

// ProcessOutbox claims due entries and delivers them. The claim commits
// before the channel call and the outcome commits after it; nothing is
// held open across the send.
func (s *Service) ProcessOutbox(ctx context.Context, batchSize int) (*domain.ProcessResult, error) {
	if batchSize <= 0 {
		batchSize = 25
	}
	due, err := s.repo.ListDue(ctx, s.db, s.clock.Now(), batchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.ProcessResult{}
	for i := range due {
		entry := due[i]
		claimed, err := s.repo.ClaimSending(ctx, s.db, entry.ID, s.clock.Now())
		if err != nil {
			return result, err
		}
		if !claimed {
			continue
		}
		result.Claimed++
		if err := s.deliver(ctx, &entry, result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (s *Service) deliver(ctx context.Context, entry *domain.NotificationOutbox, result *domain.ProcessResult) error {
	rendered, err := s.render(ctx, entry.TemplateKey, entry.PartnerID, json.RawMessage(entry.Payload))
	if err != nil {
		return s.recordFailure(ctx, entry, result, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	messageID, sendErr := s.sender.Send(sendCtx, entry.Channel, entry.ToAddress, rendered.Subject, rendered.Body)
	cancel()
	if sendErr != nil {
		return s.recordFailure(ctx, entry, result, sendErr)
	}

	now := s.clock.Now()
	if err := s.repo.MarkSent(ctx, s.db, entry.ID, now); err != nil {
		return err
	}
	if err := s.repo.InsertDelivery(ctx, s.db, &domain.NotificationDelivery{
		ID:                s.genID.Generate(),
		OutboxID:          entry.ID,
		Provider:          string(entry.Channel),
		ProviderMessageID: messageID,
		Status:            "delivered",
		CreatedAt:         now,
	}); err != nil {
		return err
	}
	result.Sent++
	if s.obsMetrics != nil {
		s.obsMetrics.RecordNotification(ctx, string(entry.Channel), string(domain.StatusSent))
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, entry *domain.NotificationOutbox, result *domain.ProcessResult, cause error) error {
	attempts := entry.Attempts + 1
	maxAttempts := entry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	now := s.clock.Now()

	if attempts >= maxAttempts {
		if err := s.repo.MarkDead(ctx, s.db, entry.ID, attempts, cause.Error(), now); err != nil {
			return err
		}
		result.Dead++
		if s.obsMetrics != nil {
			s.obsMetrics.RecordNotification(ctx, string(entry.Channel), string(domain.StatusDead))
		}
		s.log.Error("notification dead lettered",
			zap.Int64("outbox_id", int64(entry.ID)),
			zap.String("template_key", entry.TemplateKey),
			zap.Int("attempts", attempts),
			zap.Error(cause),
		)
		return nil
	}

	next := now.Add(backoff(attempts))
	if err := s.repo.MarkRetry(ctx, s.db, entry.ID, attempts, next, cause.Error()); err != nil {
		return err
	}
	result.Retried++
	s.log.Warn("notification delivery failed, retrying",
		zap.Int64("outbox_id", int64(entry.ID)),
		zap.Int("attempts", attempts),
		zap.Time("next_attempt_at", next),
		zap.Error(cause),
	)
	return nil
}

func (s *Service) RequeueDead(ctx context.Context, id snowflake.ID) error {
	requeued, err := s.repo.RequeueDead(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if requeued {
		return nil
	}
	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return domain.ErrOutboxNotFound
	}
	return domain.ErrNotDead
}

// Preview renders without writing: no outbox row is created or touched.
func (s *Service) Preview(ctx context.Context, cmd domain.PreviewCommand) (*domain.Rendered, error) {
	return s.render(ctx, cmd.TemplateKey, cmd.PartnerID, cmd.Payload)
}

func (s *Service) MarkDelivery(ctx context.Context, cmd domain.MarkDeliveryCommand) (*domain.NotificationDelivery, error) {
	entry, err := s.repo.FindByID(ctx, s.db, cmd.OutboxID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrOutboxNotFound
	}
	delivery := domain.NotificationDelivery{
		ID:                s.genID.Generate(),
		OutboxID:          cmd.OutboxID,
		Provider:          strings.TrimSpace(cmd.Provider),
		ProviderMessageID: strings.TrimSpace(cmd.ProviderMessageID),
		Status:            strings.TrimSpace(cmd.Status),
		CreatedAt:         s.clock.Now(),
	}
	if err := s.repo.InsertDelivery(ctx, s.db, &delivery); err != nil {
		return nil, err
	}
	return &delivery, nil
}

func (s *Service) ResolveTemplate(ctx context.Context, templateKey string, partnerID *snowflake.ID) (*domain.NotificationTemplate, error) {
	tmpl, err := s.repo.FindTemplate(ctx, s.db, strings.TrimSpace(templateKey), partnerID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return nil, domain.ErrTemplateNotFound
	}
	return tmpl, nil
}

func (s *Service) UpsertTemplate(ctx context.Context, tmpl domain.NotificationTemplate) (*domain.NotificationTemplate, error) {
	tmpl.TemplateKey = strings.TrimSpace(tmpl.TemplateKey)
	if tmpl.TemplateKey == "" || strings.TrimSpace(tmpl.Body) == "" {
		return nil, domain.ErrInvalidTemplate
	}
	if _, err := template.New(tmpl.TemplateKey).Parse(tmpl.Body); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTemplate, err)
	}
	now := s.clock.Now()
	if tmpl.ID == 0 {
		tmpl.ID = s.genID.Generate()
	}
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := s.repo.UpsertTemplate(ctx, s.db, &tmpl); err != nil {
		return nil, err
	}
	return s.ResolveTemplate(ctx, tmpl.TemplateKey, tmpl.PartnerID)
}

// EmitBillingNotifications scans billing triggers in the window and
// enqueues with deterministic dedupe keys, so a cron re-run over the same
// window reports skips instead of duplicates.
func (s *Service) EmitBillingNotifications(ctx context.Context, from, to time.Time) (*domain.BillingEmitResult, error) {
	from = from.UTC()
	to = to.UTC()
	result := &domain.BillingEmitResult{}

	dueInvoices, err := s.repo.ListInvoicesDue(ctx, s.db, from, to)
	if err != nil {
		return nil, err
	}
	for i := range dueInvoices {
		if err := s.enqueueInvoice(ctx, &dueInvoices[i], domain.TemplateInvoiceDue, result); err != nil {
			return result, err
		}
	}

	overdue, err := s.repo.ListInvoicesOverdue(ctx, s.db, from)
	if err != nil {
		return nil, err
	}
	for i := range overdue {
		if err := s.enqueueInvoice(ctx, &overdue[i], domain.TemplateInvoiceOverdue, result); err != nil {
			return result, err
		}
	}

	trials, err := s.repo.ListTrialsEnding(ctx, s.db, from, to)
	if err != nil {
		return nil, err
	}
	for i := range trials {
		sub := trials[i]
		payload, err := json.Marshal(map[string]any{
			"subscription_id": sub.ID.String(),
			"plan_key":        sub.PlanKey,
			"trial_ends_at":   sub.TrialEndsAt,
		})
		if err != nil {
			return result, err
		}
		enq, err := s.Enqueue(ctx, domain.EnqueueCommand{
			Channel:     domain.ChannelEmail,
			TemplateKey: domain.TemplateTrialEnding,
			ToAddress:   fmt.Sprintf("tenant-%s@billing.internal", sub.TenantID),
			Payload:     payload,
			DedupeKey:   billingDedupeKey(sub.ID.String(), domain.TemplateTrialEnding, derefTime(sub.TrialEndsAt)),
			PartnerID:   sub.PartnerID,
		})
		if err != nil {
			return result, err
		}
		if enq.Created {
			result.Enqueued++
		} else {
			result.Skipped++
		}
	}
	return result, nil
}

func (s *Service) enqueueInvoice(ctx context.Context, invoice *contextdomain.PartnerInvoice, templateKey string, result *domain.BillingEmitResult) error {
	payload, err := json.Marshal(map[string]any{
		"invoice_id": invoice.ID.String(),
		"partner_id": invoice.PartnerID.String(),
		"amount":     invoice.Amount,
		"due_date":   invoice.DueDate,
	})
	if err != nil {
		return err
	}
	partnerID := invoice.PartnerID
	enq, err := s.Enqueue(ctx, domain.EnqueueCommand{
		Channel:     domain.ChannelEmail,
		TemplateKey: templateKey,
		ToAddress:   fmt.Sprintf("partner-%s@billing.internal", invoice.PartnerID),
		Payload:     payload,
		DedupeKey:   billingDedupeKey(invoice.ID.String(), templateKey, invoice.DueDate),
		PartnerID:   &partnerID,
	})
	if err != nil {
		return err
	}
	if enq.Created {
		result.Enqueued++
	} else {
		result.Skipped++
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.NotificationOutbox, error) {
	entry, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, domain.ErrOutboxNotFound
	}
	return entry, nil
}

func (s *Service) render(ctx context.Context, templateKey string, partnerID *snowflake.ID, payload json.RawMessage) (*domain.Rendered, error) {
	tmpl, err := s.ResolveTemplate(ctx, templateKey, partnerID)
	if err != nil {
		return nil, err
	}
	data := map[string]any{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTemplate, err)
		}
	}
	subject, err := renderText(tmpl.TemplateKey+":subject", tmpl.Subject, data)
	if err != nil {
		return nil, err
	}
	body, err := renderText(tmpl.TemplateKey+":body", tmpl.Body, data)
	if err != nil {
		return nil, err
	}
	return &domain.Rendered{Subject: subject, Body: body}, nil
}

func renderText(name, text string, data map[string]any) (string, error) {
	parsed, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// billingDedupeKey hashes the trigger identity so repeated scans over the
// same window produce the same key.
func billingDedupeKey(sourceID, templateKey string, at time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", sourceID, templateKey, at.UTC().Format("2006-01-02"))))
	return hex.EncodeToString(sum[:])
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func backoff(attempts int) time.Duration {
	delay := backoffBase << (attempts - 1)
	if delay > backoffCap || delay <= 0 {
		return backoffCap
	}
	return delay
}
