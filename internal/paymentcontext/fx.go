package paymentcontext

import (
	"github.com/comandahub/paycore/internal/paymentcontext/repository"
	contextservice "github.com/comandahub/paycore/internal/paymentcontext/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentcontext.service",
	fx.Provide(repository.Provide),
	fx.Provide(contextservice.NewService),
)
