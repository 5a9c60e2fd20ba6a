package hosting

import (
	"fmt"

	"github.com/smallbiznis/shipyard/internal/clock"
	"github.com/smallbiznis/shipyard/internal/config"
	"github.com/smallbiznis/shipyard/internal/hosting/domain"
	"github.com/smallbiznis/shipyard/internal/hosting/netlify"
	"github.com/smallbiznis/shipyard/internal/hosting/vercel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module selects the hosting target once at startup from configuration.
var Module = fx.Module("hosting",
	fx.Provide(NewTarget),
)

type Params struct {
	fx.In

	Config config.Config
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewTarget(p Params) (domain.Target, error) {
	switch p.Config.HostingProvider {
	case "vercel":
		return vercel.NewTarget(p.Config, p.Clock, p.Log), nil
	case "netlify":
		return netlify.NewTarget(p.Config, p.Clock, p.Log), nil
	default:
		return nil, fmt.Errorf("unknown hosting provider %q", p.Config.HostingProvider)
	}
}
