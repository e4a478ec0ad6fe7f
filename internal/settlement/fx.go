package settlement

import (
	"github.com/comandahub/paycore/internal/settlement/repository"
	settlementservice "github.com/comandahub/paycore/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(settlementservice.NewService),
)
