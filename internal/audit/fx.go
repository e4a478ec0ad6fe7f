package audit

import (
	auditservice "github.com/comandahub/paycore/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(auditservice.NewService),
)
