package observability

import (
	"github.com/smallbiznis/shipyard/internal/observability/logger"
	"github.com/smallbiznis/shipyard/internal/observability/tracing"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	logger.Module,
	fx.Invoke(tracing.NewProvider),
)
