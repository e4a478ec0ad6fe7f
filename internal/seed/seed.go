package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/comandahub/paycore/internal/config"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
)

// EnsureDefaultFeeConfig guarantees the platform-wide fee row exists so
// effect application never fails on a fresh database. Existing rows are
// left untouched, including operator edits to the rates.
func EnsureDefaultFeeConfig(db *gorm.DB, fees config.FeeConfig) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing effectdomain.FeeConfig
		if err := tx.WithContext(ctx).
			Raw(`SELECT id FROM fee_configs WHERE partner_id IS NULL AND active LIMIT 1`).
			Scan(&existing).Error; err != nil {
			return err
		}
		if existing.ID != 0 {
			return nil
		}

		now := time.Now().UTC()
		return tx.WithContext(ctx).Exec(`
			INSERT INTO fee_configs (id, partner_id, commission_bps, markup_bps, gateway_bps, gateway_fixed, active, created_at, updated_at)
			VALUES (?, NULL, ?, 0, ?, ?, TRUE, ?, ?)`,
			node.Generate(), fees.DefaultCommissionBps, fees.DefaultGatewayBps, fees.DefaultGatewayFixed, now, now,
		).Error
	})
}

type templateSeed struct {
	key     string
	channel notificationdomain.Channel
	subject string
	body    string
}

var defaultTemplates = []templateSeed{
	{
		key:     notificationdomain.TemplateInvoiceDue,
		channel: notificationdomain.ChannelEmail,
		subject: "Invoice {{.invoice_id}} is due",
		body:    "Your invoice {{.invoice_id}} of {{.amount}} is due on {{.due_date}}.",
	},
	{
		key:     notificationdomain.TemplateInvoiceOverdue,
		channel: notificationdomain.ChannelEmail,
		subject: "Invoice {{.invoice_id}} is overdue",
		body:    "Your invoice {{.invoice_id}} of {{.amount}} was due on {{.due_date}} and is now overdue.",
	},
	{
		key:     notificationdomain.TemplateTrialEnding,
		channel: notificationdomain.ChannelEmail,
		subject: "Your trial ends soon",
		body:    "Your trial for plan {{.plan_key}} ends on {{.trial_ends_at}}.",
	},
}

// EnsureDefaultTemplates seeds the platform-default notification templates
// used by billing emission. Partner overrides are never touched.
func EnsureDefaultTemplates(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tpl := range defaultTemplates {
			var existing notificationdomain.NotificationTemplate
			if err := tx.WithContext(ctx).
				Raw(`SELECT id FROM notification_templates WHERE partner_id IS NULL AND template_key = ? LIMIT 1`, tpl.key).
				Scan(&existing).Error; err != nil {
				return err
			}
			if existing.ID != 0 {
				continue
			}

			now := time.Now().UTC()
			if err := tx.WithContext(ctx).Exec(`
				INSERT INTO notification_templates (id, partner_id, template_key, channel, subject, body, active, created_at, updated_at)
				VALUES (?, NULL, ?, ?, ?, ?, TRUE, ?, ?)`,
				node.Generate(), tpl.key, string(tpl.channel), tpl.subject, tpl.body, now, now,
			).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
