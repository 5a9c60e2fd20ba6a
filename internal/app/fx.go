package app

import (
	"github.com/smallbiznis/shipyard/internal/app/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("app",
	fx.Provide(repository.Provide),
)
