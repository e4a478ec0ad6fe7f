package slack

import (
	"github.com/comandahub/paycore/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.slack",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.Notify.SlackWebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhook(cfg.Notify.SlackWebhookURL)
}
