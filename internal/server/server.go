package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/comandahub/paycore/internal/audit/domain"
	"github.com/comandahub/paycore/internal/config"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	ingestdomain "github.com/comandahub/paycore/internal/ingest/domain"
	ledgerdomain "github.com/comandahub/paycore/internal/ledger/domain"
	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	payoutdomain "github.com/comandahub/paycore/internal/payout/domain"
	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	settlementdomain "github.com/comandahub/paycore/internal/settlement/domain"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogging(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	log               *zap.Logger
	genID             *snowflake.Node
	ingestSvc         ingestdomain.Service
	ledgerSvc         ledgerdomain.Service
	effectSvc         effectdomain.Service
	contextSvc        contextdomain.Service
	settlementSvc     settlementdomain.Service
	payoutSvc         payoutdomain.Service
	reconciliationSvc reconciliationdomain.Service
	notificationSvc   notificationdomain.Service
	auditSvc          auditdomain.Service
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	Log               *zap.Logger
	GenID             *snowflake.Node
	IngestSvc         ingestdomain.Service
	LedgerSvc         ledgerdomain.Service
	EffectSvc         effectdomain.Service
	ContextSvc        contextdomain.Service
	SettlementSvc     settlementdomain.Service
	PayoutSvc         payoutdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	NotificationSvc   notificationdomain.Service
	AuditSvc          auditdomain.Service
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		log:               p.Log.Named("http.server"),
		genID:             p.GenID,
		ingestSvc:         p.IngestSvc,
		ledgerSvc:         p.LedgerSvc,
		effectSvc:         p.EffectSvc,
		contextSvc:        p.ContextSvc,
		settlementSvc:     p.SettlementSvc,
		payoutSvc:         p.PayoutSvc,
		reconciliationSvc: p.ReconciliationSvc,
		notificationSvc:   p.NotificationSvc,
		auditSvc:          p.AuditSvc,
	}
}

// auditOps records one operator action on the audit trail. Failures are
// logged, not surfaced; the operation itself already committed.
func (s *Server) auditOps(c *gin.Context, action, targetType string, targetID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var actorID *string
	if requestID := c.GetString("request_id"); requestID != "" {
		actorID = &requestID
	}
	target := targetID.String()
	err := s.auditSvc.AuditLog(c.Request.Context(), nil, string(auditdomain.ActorTypeOperator), actorID, action, targetType, &target, metadata)
	if err != nil {
		s.log.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
	}
}

func registerRoutes(s *Server) {
	s.RegisterWebhookRoutes()
	s.RegisterOpsRoutes()
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandlePaymentWebhook)
}

// RegisterOpsRoutes mounts the internal operations API. The surface is not
// tenant-facing; deployments front it with network policy plus the static
// ops token.
func (s *Server) RegisterOpsRoutes() {
	ops := s.engine.Group("/ops", s.OpsTokenRequired())

	// -------- Ledger --------
	ops.GET("/events/:id", s.GetPaymentEvent)
	ops.GET("/payments/:provider/:paymentId/events", s.ListPaymentEvents)
	ops.POST("/events/:id/apply", s.ApplyEvent)
	ops.POST("/events/:id/reprocess", s.ReprocessEvent)

	// -------- Correlations --------
	ops.POST("/correlations", s.RecordCorrelation)

	// -------- Settlements --------
	ops.POST("/settlements/generate", s.GenerateSettlement)
	ops.GET("/settlements/:id", s.GetSettlement)
	ops.POST("/settlements/:id/approve", s.ApproveSettlement)
	ops.POST("/settlements/:id/cancel", s.CancelSettlement)
	ops.POST("/settlements/:id/mark-paid", s.MarkSettlementPaid)
	ops.GET("/partners/:partnerId/financial-summary", s.GetPartnerFinancialSummary)

	// -------- Payouts --------
	ops.POST("/payouts/execute", s.ExecutePayout)
	ops.GET("/payouts/:id", s.GetPayoutJob)
	ops.POST("/payouts/process", s.ProcessPayoutQueue)

	// -------- Reconciliation --------
	ops.POST("/reconciliation/run", s.RunReconciliation)
	ops.POST("/recommendations/generate", s.GenerateRecommendations)
	ops.GET("/recommendations", s.ListOpenRecommendations)
	ops.POST("/recommendations/:id/apply", s.ApplyRecommendation)
	ops.POST("/recommendations/:id/dismiss", s.DismissRecommendation)

	// -------- Notifications --------
	ops.POST("/notifications", s.EnqueueNotification)
	ops.GET("/notifications/:id", s.GetNotification)
	ops.POST("/notifications/process", s.ProcessNotificationOutbox)
	ops.POST("/notifications/:id/requeue", s.RequeueDeadNotification)
	ops.POST("/notifications/preview", s.PreviewNotification)
	ops.POST("/notifications/deliveries", s.MarkNotificationDelivery)
	ops.PUT("/notification-templates", s.UpsertNotificationTemplate)
	ops.POST("/notifications/emit-billing", s.EmitBillingNotifications)
}
