package reconciliation

import (
	"github.com/comandahub/paycore/internal/reconciliation/repository"
	reconciliationservice "github.com/comandahub/paycore/internal/reconciliation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciliation.service",
	fx.Provide(repository.Provide),
	fx.Provide(reconciliationservice.NewService),
)
