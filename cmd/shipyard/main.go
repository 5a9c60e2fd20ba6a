package main

import (
	"github.com/bwmarrin/snowflake"
	appmodule "github.com/smallbiznis/shipyard/internal/app"
	"github.com/smallbiznis/shipyard/internal/applock"
	"github.com/smallbiznis/shipyard/internal/archive"
	"github.com/smallbiznis/shipyard/internal/billing"
	"github.com/smallbiznis/shipyard/internal/clock"
	"github.com/smallbiznis/shipyard/internal/config"
	"github.com/smallbiznis/shipyard/internal/deploy"
	"github.com/smallbiznis/shipyard/internal/deploylog"
	"github.com/smallbiznis/shipyard/internal/hosting"
	"github.com/smallbiznis/shipyard/internal/migration"
	"github.com/smallbiznis/shipyard/internal/observability"
	"github.com/smallbiznis/shipyard/internal/server"
	"github.com/smallbiznis/shipyard/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		clock.Module,
		fx.Invoke(func(conn *gorm.DB) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return migration.RunMigrations(sqlDB)
		}),

		appmodule.Module,
		applock.Module,
		deploylog.Module,
		archive.Module,
		hosting.Module,
		deploy.Module,
		billing.Module,

		fx.Provide(server.NewEngine),
		fx.Provide(server.NewServer),
		fx.Invoke(func(s *server.Server) {
			s.RegisterAPIRoutes()
		}),
		fx.Invoke(server.RunHTTP),
	)
	app.Run()
}
