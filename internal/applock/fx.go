package applock

import "go.uber.org/fx"

var Module = fx.Module("applock",
	fx.Provide(NewManager),
)
