package effect

import (
	"github.com/comandahub/paycore/internal/effect/repository"
	effectservice "github.com/comandahub/paycore/internal/effect/service"
	"go.uber.org/fx"
)

var Module = fx.Module("effect.service",
	fx.Provide(repository.Provide),
	fx.Provide(effectservice.NewService),
)
