package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/shipyard/internal/deploylog/domain"
	"github.com/smallbiznis/shipyard/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("deploylog.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

// Log writes one immutable entry. A failed insert is reported to the process
// log and swallowed so the deployment operation itself is unaffected.
func (s *Service) Log(ctx context.Context, userID, appID snowflake.ID, level domain.Level, message string, metadata map[string]any) {
	entry := &domain.DeploymentLog{
		ID:        s.genID.Generate(),
		UserID:    userID,
		AppID:     appID,
		Level:     level,
		Message:   message,
		Metadata:  datatypes.JSONMap(logger.MaskJSON(metadata)),
		CreatedAt: time.Now().UTC(),
	}
	if entry.Metadata == nil {
		entry.Metadata = datatypes.JSONMap{}
	}
	if err := s.repo.Insert(ctx, s.db, entry); err != nil {
		s.log.Warn("failed to write deployment log",
			zap.String("app_id", appID.String()),
			zap.String("message", message),
			zap.Error(err),
		)
	}
}

func (s *Service) ListForApp(ctx context.Context, appID snowflake.ID, limit int) ([]*domain.DeploymentLog, error) {
	return s.repo.List(ctx, s.db, domain.ListFilter{AppID: appID, Limit: limit})
}
