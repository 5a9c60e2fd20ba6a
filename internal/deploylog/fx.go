package deploylog

import (
	"github.com/smallbiznis/shipyard/internal/deploylog/repository"
	"github.com/smallbiznis/shipyard/internal/deploylog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("deploylog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
