package payment

import (
	"github.com/comandahub/paycore/internal/config"
	"github.com/comandahub/paycore/internal/providers/payment/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.payment",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) domain.Registry {
	return NewRegistry(
		NewAsaas(AsaasConfig{
			BaseURL:      cfg.Providers.AsaasBaseURL,
			APIKey:       cfg.Providers.AsaasAPIKey,
			WebhookToken: cfg.Providers.AsaasWebhookToken,
		}),
		NewStone(StoneConfig{
			BaseURL:       cfg.Providers.StoneBaseURL,
			APIKey:        cfg.Providers.StoneAPIKey,
			WebhookSecret: cfg.Providers.StoneWebhookSecret,
		}),
		NewStripe(StripeConfig{
			BaseURL:       cfg.Providers.StripeBaseURL,
			APIKey:        cfg.Providers.StripeAPIKey,
			WebhookSecret: cfg.Providers.StripeWebhookSecret,
		}),
	)
}
