// Package server exposes the deployment orchestrator and billing webhook
// intake over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/shipyard/internal/billing/domain"
	"github.com/smallbiznis/shipyard/internal/config"
	deploydomain "github.com/smallbiznis/shipyard/internal/deploy/domain"
	logdomain "github.com/smallbiznis/shipyard/internal/deploylog/domain"
	"github.com/smallbiznis/shipyard/internal/observability/logger"
	"github.com/smallbiznis/shipyard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	DB      *gorm.DB
	GenID   *snowflake.Node
	Deploy  deploydomain.Service
	Logs    logdomain.Service
	Adapter billingdomain.Adapter
	Outbox  billingdomain.OutboxRepository
}

type Server struct {
	cfg     config.Config
	log     *zap.Logger
	db      *gorm.DB
	genID   *snowflake.Node
	deploy  deploydomain.Service
	logs    logdomain.Service
	adapter billingdomain.Adapter
	outbox  billingdomain.OutboxRepository
	limiter *rateLimiter
	engine  *gin.Engine
}

func NewEngine(cfg config.Config) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logger.GinMiddleware(logger.MiddlewareConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	engine.Use(metrics.GinMiddleware(metrics.Deployment()))
	return engine
}

func NewServer(p Params, engine *gin.Engine) *Server {
	return &Server{
		cfg:     p.Config,
		log:     p.Log.Named("server"),
		db:      p.DB,
		genID:   p.GenID,
		deploy:  p.Deploy,
		logs:    p.Logs,
		adapter: p.Adapter,
		outbox:  p.Outbox,
		limiter: newRateLimiter(30, time.Minute),
		engine:  engine,
	}
}

func (s *Server) RegisterAPIRoutes() {
	s.engine.GET("/healthz", s.Healthz)
	s.engine.GET("/metrics", metrics.Handler())

	api := s.engine.Group("/api")
	apps := api.Group("/apps/:id")
	apps.POST("/deploy", s.rateLimited, s.DeployApp)
	apps.POST("/update", s.rateLimited, s.UpdateApp)
	apps.POST("/rollback", s.rateLimited, s.RollbackApp)
	apps.POST("/suspend", s.SuspendApp)
	apps.POST("/reactivate", s.ReactivateApp)
	apps.GET("/deployment", s.GetDeployment)
	apps.GET("/logs", s.ListDeploymentLogs)

	s.engine.POST("/webhooks/billing/:provider", s.BillingWebhook)
}

// rateLimited bounds deploy-class operations per user. Deploys are
// expensive upstream calls; the provider quotas are the real ceiling.
func (s *Server) rateLimited(c *gin.Context) {
	userID, err := userIDFrom(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if !s.limiter.Allow(userID.String()) {
		AbortWithError(c, tooManyRequestsError())
		return
	}
	c.Next()
}

func (s *Server) Healthz(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RunHTTP starts the HTTP listener under the fx lifecycle.
func RunHTTP(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, engine *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
