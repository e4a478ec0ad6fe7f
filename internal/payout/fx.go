package payout

import (
	"github.com/comandahub/paycore/internal/payout/repository"
	payoutservice "github.com/comandahub/paycore/internal/payout/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(payoutservice.NewService),
)
