package email

import (
	"github.com/comandahub/paycore/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config) Provider {
	if cfg.Notify.SMTPHost == "" {
		return &NoOpProvider{}
	}
	return NewSMTP(Config{
		Host:     cfg.Notify.SMTPHost,
		Port:     cfg.Notify.SMTPPort,
		Username: cfg.Notify.SMTPUser,
		Password: cfg.Notify.SMTPPassword,
		From:     cfg.Notify.SMTPFrom,
	})
}
