package deploy

import (
	"github.com/smallbiznis/shipyard/internal/deploy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deploy",
	fx.Provide(service.NewService),
)
