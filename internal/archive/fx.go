package archive

import (
	"github.com/smallbiznis/shipyard/internal/archive/github"
	"go.uber.org/fx"
)

var Module = fx.Module("archive",
	fx.Provide(github.NewArchiver),
)
