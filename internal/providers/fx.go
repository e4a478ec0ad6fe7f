package providers

import (
	"github.com/comandahub/paycore/internal/providers/email"
	"github.com/comandahub/paycore/internal/providers/payment"
	"github.com/comandahub/paycore/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	payment.Module,
	slack.Module,
)
