package ledger

import (
	"github.com/comandahub/paycore/internal/ledger/repository"
	ledgerservice "github.com/comandahub/paycore/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(ledgerservice.NewService),
)
