package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/comandahub/paycore/internal/audit"
	"github.com/comandahub/paycore/internal/clock"
	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/effect"
	"github.com/comandahub/paycore/internal/ingest"
	"github.com/comandahub/paycore/internal/ledger"
	"github.com/comandahub/paycore/internal/locking"
	"github.com/comandahub/paycore/internal/logger"
	"github.com/comandahub/paycore/internal/migration"
	"github.com/comandahub/paycore/internal/notification"
	"github.com/comandahub/paycore/internal/observability"
	"github.com/comandahub/paycore/internal/paymentcontext"
	"github.com/comandahub/paycore/internal/payout"
	"github.com/comandahub/paycore/internal/providers"
	"github.com/comandahub/paycore/internal/reconciliation"
	"github.com/comandahub/paycore/internal/scheduler"
	"github.com/comandahub/paycore/internal/server"
	"github.com/comandahub/paycore/internal/settlement"
	"github.com/comandahub/paycore/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		locking.Module,
		migration.Module,

		// Provider adapters
		providers.Module,

		// Payment domains
		audit.Module,
		ledger.Module,
		paymentcontext.Module,
		effect.Module,
		settlement.Module,
		payout.Module,
		reconciliation.Module,
		notification.Module,
		ingest.Module,

		// Surfaces
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
