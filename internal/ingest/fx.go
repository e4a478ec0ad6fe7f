package ingest

import (
	ingestservice "github.com/comandahub/paycore/internal/ingest/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingest.service",
	fx.Provide(ingestservice.NewService),
)
