package notification

import (
	"github.com/comandahub/paycore/internal/notification/channels"
	"github.com/comandahub/paycore/internal/notification/repository"
	notificationservice "github.com/comandahub/paycore/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(repository.Provide),
	fx.Provide(channels.New),
	fx.Provide(notificationservice.NewService),
)
