package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
	"github.com/smallbiznis/shipyard/internal/applock"
	archivedomain "github.com/smallbiznis/shipyard/internal/archive/domain"
	"github.com/smallbiznis/shipyard/internal/deploy/domain"
	logdomain "github.com/smallbiznis/shipyard/internal/deploylog/domain"
	hostingdomain "github.com/smallbiznis/shipyard/internal/hosting/domain"
	"github.com/smallbiznis/shipyard/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Apps     appdomain.Repository
	Archiver archivedomain.Archiver
	Target   hostingdomain.Target
	Logs     logdomain.Service
	Locks    *applock.Manager
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	apps     appdomain.Repository
	archiver archivedomain.Archiver
	target   hostingdomain.Target
	logs     logdomain.Service
	locks    *applock.Manager
	metrics  *metrics.DeploymentMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("deploy.service"),
		genID:    p.GenID,
		apps:     p.Apps,
		archiver: p.Archiver,
		target:   p.Target,
		logs:     p.Logs,
		locks:    p.Locks,
		metrics:  metrics.Deployment(),
	}
}

// DeployApp runs the first deploy: archive the latest stored version, then
// publish it. The archive step is a hard prerequisite so no deployment ever
// exists without a recoverable backup.
func (s *Service) DeployApp(ctx context.Context, appID, userID snowflake.ID) (domain.DeployResult, error) {
	release, err := s.locks.Acquire(ctx, appID)
	if err != nil {
		return domain.DeployResult{}, err
	}
	defer release()

	app, err := s.apps.FindOwned(ctx, s.db, appID, userID)
	if err != nil {
		return domain.DeployResult{}, err
	}

	latest, err := s.apps.LatestVersion(ctx, s.db, appID)
	if err != nil {
		if errors.Is(err, appdomain.ErrVersionNotFound) {
			return domain.DeployResult{}, domain.ErrNoVersions
		}
		return domain.DeployResult{}, err
	}

	code, err := decodeSnapshot(latest.Code)
	if err != nil {
		return domain.DeployResult{}, err
	}

	if err := s.apps.UpdateStatus(ctx, s.db, appID, appdomain.StatusDeploying); err != nil {
		return domain.DeployResult{}, err
	}

	label := appdomain.FirstVersion

	handle, summary, err := s.archiver.CreateArchive(ctx, archivedomain.CreateRequest{
		AppID:   appID,
		UserID:  userID,
		AppName: app.Name,
		Code:    code,
		Version: label,
	})
	if err != nil {
		s.fail(ctx, "deploy", userID, appID, "Backup archive creation failed", err)
		return domain.DeployResult{}, err
	}
	if err := s.apps.SaveArchiveHandle(ctx, s.db, appID, handle.RepoName, handle.RepoURL); err != nil {
		return domain.DeployResult{}, err
	}
	s.logPartialArchive(ctx, userID, appID, label, summary)

	deployment, url, err := s.publishAndAwait(ctx, app, userID, code)
	if err != nil {
		s.fail(ctx, "deploy", userID, appID, "Hosting publish failed", err)
		return domain.DeployResult{}, err
	}

	update := appdomain.DeploymentUpdate{
		Status:              appdomain.StatusDeployed,
		CurrentVersion:      label.String(),
		DeployURL:           url,
		HostingProjectName:  deployment.ProjectName,
		HostingDeploymentID: deployment.ID,
		ArchiveRepoName:     handle.RepoName,
		ArchiveRepoURL:      handle.RepoURL,
	}
	if err := s.apps.SaveDeployment(ctx, s.db, appID, update); err != nil {
		return domain.DeployResult{}, err
	}

	s.logs.Log(ctx, userID, appID, logdomain.LevelInfo, "App deployed", map[string]any{
		"version":       label.String(),
		"url":           url,
		"deployment_id": deployment.ID,
		"archive_repo":  handle.RepoName,
	})
	s.metrics.IncOperation("deploy", "success")

	return domain.DeployResult{
		URL:          url,
		ArchiveURL:   handle.RepoURL,
		DeploymentID: deployment.ID,
		Version:      label,
	}, nil
}

// UpdateApp archives the new snapshot, records it as the next immutable
// version, and republishes. A publish failure leaves the version row in
// place: the code was durably archived and history reflects that.
func (s *Service) UpdateApp(ctx context.Context, appID, userID snowflake.ID, code appdomain.CodeSnapshot, description string) (domain.UpdateResult, error) {
	if code.IsEmpty() {
		return domain.UpdateResult{}, domain.ErrEmptySnapshot
	}

	release, err := s.locks.Acquire(ctx, appID)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	defer release()

	app, err := s.apps.FindOwned(ctx, s.db, appID, userID)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	if app.ArchiveRepoName == "" || app.CurrentVersion == "" {
		return domain.UpdateResult{}, domain.ErrNotDeployed
	}

	current, err := appdomain.ParseVersionLabel(app.CurrentVersion)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	next := current.NextMinor()

	if err := s.apps.UpdateStatus(ctx, s.db, appID, appdomain.StatusUpdating); err != nil {
		return domain.UpdateResult{}, err
	}

	handle := archivedomain.Handle{
		RepoName: app.ArchiveRepoName,
		RepoURL:  app.ArchiveRepoURL,
	}
	summary, err := s.archiver.UpdateArchive(ctx, userID, handle, code, next)
	if err != nil {
		s.fail(ctx, "update", userID, appID, "Backup archive update failed", err)
		return domain.UpdateResult{}, err
	}
	s.logPartialArchive(ctx, userID, appID, next, summary)

	latest, err := s.apps.LatestVersion(ctx, s.db, appID)
	if err != nil && !errors.Is(err, appdomain.ErrVersionNotFound) {
		return domain.UpdateResult{}, err
	}
	nextNumber := 1
	if latest != nil {
		nextNumber = latest.Version + 1
	}

	encoded, err := json.Marshal(code)
	if err != nil {
		return domain.UpdateResult{}, err
	}
	row := &appdomain.AppVersion{
		ID:          s.genID.Generate(),
		AppID:       appID,
		Version:     nextNumber,
		Code:        datatypes.JSON(encoded),
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.apps.InsertVersion(ctx, s.db, row); err != nil {
		return domain.UpdateResult{}, err
	}

	deployment, url, err := s.publishAndAwait(ctx, app, userID, code)
	if err != nil {
		s.fail(ctx, "update", userID, appID, "Hosting publish failed", err)
		return domain.UpdateResult{}, err
	}

	update := appdomain.DeploymentUpdate{
		Status:              appdomain.StatusDeployed,
		CurrentVersion:      next.String(),
		DeployURL:           url,
		HostingProjectName:  deployment.ProjectName,
		HostingDeploymentID: deployment.ID,
	}
	if err := s.apps.SaveDeployment(ctx, s.db, appID, update); err != nil {
		return domain.UpdateResult{}, err
	}

	s.logs.Log(ctx, userID, appID, logdomain.LevelInfo, "App updated", map[string]any{
		"version":       next.String(),
		"url":           url,
		"deployment_id": deployment.ID,
	})
	s.metrics.IncOperation("update", "success")

	return domain.UpdateResult{Version: next, URL: url, DeploymentID: deployment.ID}, nil
}

// RollbackApp republishes a prior version fetched from the archive. The
// archive, not the version table, is the durable source for rollback.
func (s *Service) RollbackApp(ctx context.Context, appID, userID snowflake.ID, target appdomain.VersionLabel) (domain.RollbackResult, error) {
	release, err := s.locks.Acquire(ctx, appID)
	if err != nil {
		return domain.RollbackResult{}, err
	}
	defer release()

	app, err := s.apps.FindOwned(ctx, s.db, appID, userID)
	if err != nil {
		return domain.RollbackResult{}, err
	}
	if app.ArchiveRepoName == "" {
		return domain.RollbackResult{}, domain.ErrNotDeployed
	}

	if err := s.apps.UpdateStatus(ctx, s.db, appID, appdomain.StatusRollingBack); err != nil {
		return domain.RollbackResult{}, err
	}

	handle := archivedomain.Handle{
		RepoName: app.ArchiveRepoName,
		RepoURL:  app.ArchiveRepoURL,
	}
	code, err := s.archiver.FetchVersion(ctx, userID, handle, target)
	if err != nil {
		s.fail(ctx, "rollback", userID, appID, "Archived version retrieval failed", err)
		return domain.RollbackResult{}, err
	}

	deployment, url, err := s.publishAndAwait(ctx, app, userID, code)
	if err != nil {
		s.fail(ctx, "rollback", userID, appID, "Hosting publish failed", err)
		return domain.RollbackResult{}, err
	}

	update := appdomain.DeploymentUpdate{
		Status:              appdomain.StatusDeployed,
		CurrentVersion:      target.String(),
		DeployURL:           url,
		HostingProjectName:  deployment.ProjectName,
		HostingDeploymentID: deployment.ID,
	}
	if err := s.apps.SaveDeployment(ctx, s.db, appID, update); err != nil {
		return domain.RollbackResult{}, err
	}

	s.logs.Log(ctx, userID, appID, logdomain.LevelInfo, "App rolled back", map[string]any{
		"version": target.String(),
		"url":     url,
	})
	s.metrics.IncOperation("rollback", "success")

	return domain.RollbackResult{Version: target, URL: url}, nil
}

// SuspendApp tears down the live deployment and marks the app suspended.
// Teardown failure is logged but never blocks suspension, and suspending an
// already-suspended app is a safe no-op that re-logs.
func (s *Service) SuspendApp(ctx context.Context, appID, userID snowflake.ID, reason string) (domain.SuspendResult, error) {
	release, err := s.locks.Acquire(ctx, appID)
	if err != nil {
		return domain.SuspendResult{}, err
	}
	defer release()

	app, err := s.apps.FindOwned(ctx, s.db, appID, userID)
	if err != nil {
		return domain.SuspendResult{}, err
	}

	if app.DeploymentStatus != appdomain.StatusSuspended && app.HostingDeploymentID != "" {
		if err := s.target.Teardown(ctx, app.HostingDeploymentID); err != nil {
			s.log.Warn("hosting teardown failed during suspension",
				zap.String("app_id", appID.String()),
				zap.String("deployment_id", app.HostingDeploymentID),
				zap.Error(err),
			)
			s.logs.Log(ctx, userID, appID, logdomain.LevelWarn, "Hosting teardown failed", map[string]any{
				"reason": reason,
				"error":  err.Error(),
			})
		}
	}

	if err := s.apps.MarkSuspended(ctx, s.db, appID, time.Now().UTC()); err != nil {
		return domain.SuspendResult{}, err
	}

	s.logs.Log(ctx, userID, appID, logdomain.LevelInfo, "App suspended", map[string]any{
		"reason": reason,
	})
	s.metrics.IncOperation("suspend", "success")

	return domain.SuspendResult{Message: reason}, nil
}

// ReactivateApp republishes the latest stored version, which may be newer
// than what was live before suspension. On failure the app goes to failed
// with suspended_at preserved, so a later retry still finds it.
func (s *Service) ReactivateApp(ctx context.Context, appID, userID snowflake.ID) (domain.ReactivateResult, error) {
	release, err := s.locks.Acquire(ctx, appID)
	if err != nil {
		return domain.ReactivateResult{}, err
	}
	defer release()

	app, err := s.apps.FindOwned(ctx, s.db, appID, userID)
	if err != nil {
		return domain.ReactivateResult{}, err
	}

	latest, err := s.apps.LatestVersion(ctx, s.db, appID)
	if err != nil {
		if errors.Is(err, appdomain.ErrVersionNotFound) {
			return domain.ReactivateResult{}, domain.ErrNoVersions
		}
		return domain.ReactivateResult{}, err
	}

	code, err := decodeSnapshot(latest.Code)
	if err != nil {
		return domain.ReactivateResult{}, err
	}

	deployment, url, err := s.publishAndAwait(ctx, app, userID, code)
	if err != nil {
		s.fail(ctx, "reactivate", userID, appID, "Hosting publish failed", err)
		return domain.ReactivateResult{}, err
	}

	label := appdomain.LabelForVersion(latest.Version)
	update := appdomain.DeploymentUpdate{
		Status:              appdomain.StatusDeployed,
		CurrentVersion:      label.String(),
		DeployURL:           url,
		HostingProjectName:  deployment.ProjectName,
		HostingDeploymentID: deployment.ID,
		ClearSuspension:     true,
	}
	if err := s.apps.SaveDeployment(ctx, s.db, appID, update); err != nil {
		return domain.ReactivateResult{}, err
	}

	s.logs.Log(ctx, userID, appID, logdomain.LevelInfo, "App reactivated", map[string]any{
		"version": label.String(),
		"url":     url,
	})
	s.metrics.IncOperation("reactivate", "success")

	return domain.ReactivateResult{URL: url}, nil
}

func (s *Service) GetDeploymentStatus(ctx context.Context, appID snowflake.ID) (domain.StatusResult, error) {
	app, err := s.apps.Find(ctx, s.db, appID)
	if err != nil {
		return domain.StatusResult{}, err
	}
	return domain.StatusResult{
		Status:         app.DeploymentStatus,
		URL:            app.DeployURL,
		DeploymentID:   app.HostingDeploymentID,
		CurrentVersion: app.CurrentVersion,
		UpdatedAt:      app.UpdatedAt,
	}, nil
}

// publishAndAwait submits the snapshot and waits for readiness. Exhausting
// the poll budget is not a failure: the candidate URL is returned.
func (s *Service) publishAndAwait(ctx context.Context, app *appdomain.App, userID snowflake.ID, code appdomain.CodeSnapshot) (hostingdomain.Deployment, string, error) {
	deployment, err := s.target.Publish(ctx, hostingdomain.PublishRequest{
		AppID:   app.ID,
		UserID:  userID,
		AppName: app.Name,
		Code:    code,
	})
	if err != nil {
		return hostingdomain.Deployment{}, "", err
	}

	url, err := s.target.AwaitReady(ctx, deployment.ID, deployment.URL)
	if err != nil {
		return hostingdomain.Deployment{}, "", err
	}
	if url == "" {
		url = deployment.URL
	}
	return deployment, url, nil
}

// fail records a failed step: status goes to failed, a deployment log entry
// carries the error, a metric counts it. The previous deploy_url is left in
// place so users see stale content, never a broken URL.
func (s *Service) fail(ctx context.Context, operation string, userID, appID snowflake.ID, message string, cause error) {
	if err := s.apps.UpdateStatus(ctx, s.db, appID, appdomain.StatusFailed); err != nil {
		s.log.Error("failed to mark app failed",
			zap.String("app_id", appID.String()),
			zap.Error(err),
		)
	}
	s.logs.Log(ctx, userID, appID, logdomain.LevelError, message, map[string]any{
		"operation": operation,
		"error":     cause.Error(),
	})
	s.metrics.IncOperation(operation, "failure")
}

func (s *Service) logPartialArchive(ctx context.Context, userID, appID snowflake.ID, version appdomain.VersionLabel, summary archivedomain.WriteSummary) {
	if !summary.Partial() {
		return
	}
	failed := make([]map[string]any, 0, len(summary.Failed))
	for _, f := range summary.Failed {
		failed = append(failed, map[string]any{"path": f.Path, "reason": f.Reason})
	}
	s.logs.Log(ctx, userID, appID, logdomain.LevelWarn, "Archive wrote partially", map[string]any{
		"version":      version.String(),
		"written":      summary.Written,
		"failed_files": failed,
	})
}

func decodeSnapshot(raw datatypes.JSON) (appdomain.CodeSnapshot, error) {
	var code appdomain.CodeSnapshot
	if err := json.Unmarshal(raw, &code); err != nil {
		return appdomain.CodeSnapshot{}, err
	}
	return code, nil
}
