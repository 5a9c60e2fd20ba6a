package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
	apprepo "github.com/smallbiznis/shipyard/internal/app/repository"
	"github.com/smallbiznis/shipyard/internal/applock"
	archivedomain "github.com/smallbiznis/shipyard/internal/archive/domain"
	"github.com/smallbiznis/shipyard/internal/deploy/domain"
	logrepo "github.com/smallbiznis/shipyard/internal/deploylog/repository"
	logsvc "github.com/smallbiznis/shipyard/internal/deploylog/service"
	hostingdomain "github.com/smallbiznis/shipyard/internal/hosting/domain"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeArchiver struct {
	createCalls int
	updateCalls int
	fetchCalls  int

	createErr error
	updateErr error
	fetchErr  error

	fetched appdomain.CodeSnapshot
}

func (f *fakeArchiver) CreateArchive(ctx context.Context, req archivedomain.CreateRequest) (archivedomain.Handle, archivedomain.WriteSummary, error) {
	f.createCalls++
	if f.createErr != nil {
		return archivedomain.Handle{}, archivedomain.WriteSummary{}, f.createErr
	}
	return archivedomain.Handle{
		RepoName:      "app-42-backup",
		RepoURL:       "https://github.test/acme/app-42-backup",
		DefaultBranch: "main",
	}, archivedomain.WriteSummary{Written: len(req.Code.Frontend) + len(req.Code.Backend)}, nil
}

func (f *fakeArchiver) UpdateArchive(ctx context.Context, userID snowflake.ID, handle archivedomain.Handle, code appdomain.CodeSnapshot, version appdomain.VersionLabel) (archivedomain.WriteSummary, error) {
	f.updateCalls++
	if f.updateErr != nil {
		return archivedomain.WriteSummary{}, f.updateErr
	}
	return archivedomain.WriteSummary{Written: len(code.Frontend) + len(code.Backend)}, nil
}

func (f *fakeArchiver) FetchVersion(ctx context.Context, userID snowflake.ID, handle archivedomain.Handle, version appdomain.VersionLabel) (appdomain.CodeSnapshot, error) {
	f.fetchCalls++
	if f.fetchErr != nil {
		return appdomain.CodeSnapshot{}, f.fetchErr
	}
	return f.fetched, nil
}

type fakeTarget struct {
	publishCalls  int
	teardownCalls int

	publishErr  error
	teardownErr error

	lastPublished appdomain.CodeSnapshot
}

func (f *fakeTarget) Provider() string { return "fake" }

func (f *fakeTarget) Publish(ctx context.Context, req hostingdomain.PublishRequest) (hostingdomain.Deployment, error) {
	f.publishCalls++
	if f.publishErr != nil {
		return hostingdomain.Deployment{}, f.publishErr
	}
	f.lastPublished = req.Code
	return hostingdomain.Deployment{
		ID:          fmt.Sprintf("dpl_%d", f.publishCalls),
		URL:         "https://app-42.example.test",
		ProjectName: "app-42-1700000000",
	}, nil
}

func (f *fakeTarget) AwaitReady(ctx context.Context, deploymentID, candidateURL string) (string, error) {
	return candidateURL, nil
}

func (f *fakeTarget) Teardown(ctx context.Context, deploymentID string) error {
	f.teardownCalls++
	return f.teardownErr
}

type fixture struct {
	db       *gorm.DB
	svc      domain.Service
	archiver *fakeArchiver
	target   *fakeTarget
	locks    *applock.Manager
	genID    *snowflake.Node
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	stmts := []string{
		`CREATE TABLE apps (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			deployment_status TEXT NOT NULL DEFAULT 'none',
			current_version TEXT NOT NULL DEFAULT '',
			deploy_url TEXT NOT NULL DEFAULT '',
			archive_repo_name TEXT NOT NULL DEFAULT '',
			archive_repo_url TEXT NOT NULL DEFAULT '',
			hosting_project_name TEXT NOT NULL DEFAULT '',
			hosting_deployment_id TEXT NOT NULL DEFAULT '',
			billing_status TEXT NOT NULL DEFAULT 'active',
			suspended_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE app_versions (
			id BIGINT PRIMARY KEY,
			app_id BIGINT NOT NULL,
			version INTEGER NOT NULL,
			code TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			generation_time_ms BIGINT NOT NULL DEFAULT 0,
			tokens_used BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (app_id, version)
		)`,
		`CREATE TABLE deployment_logs (
			id BIGINT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			app_id BIGINT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE app_locks (
			app_id BIGINT PRIMARY KEY,
			lock_owner TEXT NOT NULL,
			locked_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	log := zap.NewNop()
	archiver := &fakeArchiver{}
	target := &fakeTarget{}
	locks := applock.NewManager(db, log)

	logs := logsvc.NewService(logsvc.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  logrepo.Provide(),
	})

	svc := NewService(Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Apps:     apprepo.Provide(),
		Archiver: archiver,
		Target:   target,
		Logs:     logs,
		Locks:    locks,
	})

	return &fixture{db: db, svc: svc, archiver: archiver, target: target, locks: locks, genID: node}
}

const (
	testAppID  snowflake.ID = 42
	testUserID snowflake.ID = 7
)

func snapshot(t *testing.T) appdomain.CodeSnapshot {
	t.Helper()
	return appdomain.CodeSnapshot{
		Frontend: []appdomain.CodeFile{
			{Path: "src/App.jsx", Content: "export default () => null"},
			{Path: "index.html", Content: "<html></html>"},
		},
		Backend: []appdomain.CodeFile{
			{Path: "server.js", Content: "module.exports = {}"},
		},
	}
}

func (f *fixture) seedApp(t *testing.T, mutate func(*appdomain.App)) {
	t.Helper()
	app := &appdomain.App{
		ID:               testAppID,
		UserID:           testUserID,
		Name:             "My Cool App",
		DeploymentStatus: appdomain.StatusNone,
		BillingStatus:    appdomain.BillingStatusActive,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	if mutate != nil {
		mutate(app)
	}
	if err := f.db.Create(app).Error; err != nil {
		t.Fatalf("seed app: %v", err)
	}
}

func (f *fixture) seedVersion(t *testing.T, version int, code appdomain.CodeSnapshot) {
	t.Helper()
	encoded, err := json.Marshal(code)
	if err != nil {
		t.Fatalf("marshal code: %v", err)
	}
	row := &appdomain.AppVersion{
		ID:        f.genID.Generate(),
		AppID:     testAppID,
		Version:   version,
		Code:      datatypes.JSON(encoded),
		CreatedAt: time.Now().UTC(),
	}
	if err := f.db.Create(row).Error; err != nil {
		t.Fatalf("seed version: %v", err)
	}
}

func (f *fixture) loadApp(t *testing.T) *appdomain.App {
	t.Helper()
	var app appdomain.App
	if err := f.db.First(&app, "id = ?", testAppID).Error; err != nil {
		t.Fatalf("load app: %v", err)
	}
	return &app
}

func (f *fixture) countVersions(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := f.db.Model(&appdomain.AppVersion{}).Where("app_id = ?", testAppID).Count(&count).Error; err != nil {
		t.Fatalf("count versions: %v", err)
	}
	return count
}

func TestDeployAppFirstDeploy(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)
	f.seedVersion(t, 1, snapshot(t))

	result, err := f.svc.DeployApp(context.Background(), testAppID, testUserID)
	if err != nil {
		t.Fatalf("DeployApp: %v", err)
	}

	if result.URL == "" {
		t.Error("result url is empty")
	}
	if result.ArchiveURL != "https://github.test/acme/app-42-backup" {
		t.Errorf("archive url = %q", result.ArchiveURL)
	}
	if result.Version != appdomain.FirstVersion {
		t.Errorf("version = %v, want v1.0", result.Version)
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusDeployed {
		t.Errorf("status = %q, want deployed", app.DeploymentStatus)
	}
	if app.CurrentVersion != "v1.0" {
		t.Errorf("current_version = %q, want v1.0", app.CurrentVersion)
	}
	if app.DeployURL == "" {
		t.Error("deploy_url is empty")
	}
	if app.ArchiveRepoName != "app-42-backup" {
		t.Errorf("archive_repo_name = %q", app.ArchiveRepoName)
	}

	if f.archiver.createCalls != 1 || f.target.publishCalls != 1 {
		t.Errorf("createCalls = %d, publishCalls = %d, want 1 and 1", f.archiver.createCalls, f.target.publishCalls)
	}
}

func TestDeployAppWithoutVersionsRejected(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)

	_, err := f.svc.DeployApp(context.Background(), testAppID, testUserID)
	if !errors.Is(err, domain.ErrNoVersions) {
		t.Fatalf("err = %v, want ErrNoVersions", err)
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusNone {
		t.Errorf("status = %q, want none (no mutation on rejection)", app.DeploymentStatus)
	}
	if f.target.publishCalls != 0 {
		t.Errorf("publishCalls = %d, want 0", f.target.publishCalls)
	}
}

func TestDeployAppArchiveFailureSkipsPublish(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)
	f.seedVersion(t, 1, snapshot(t))
	f.archiver.createErr = errors.New("github unavailable")

	_, err := f.svc.DeployApp(context.Background(), testAppID, testUserID)
	if err == nil {
		t.Fatal("expected error")
	}

	if f.target.publishCalls != 0 {
		t.Errorf("publishCalls = %d, want 0 (archive is a prerequisite)", f.target.publishCalls)
	}
	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusFailed {
		t.Errorf("status = %q, want failed", app.DeploymentStatus)
	}
}

func TestDeployAppPersistsArchiveHandleBeforePublish(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)
	f.seedVersion(t, 1, snapshot(t))
	f.target.publishErr = errors.New("quota exceeded")

	_, err := f.svc.DeployApp(context.Background(), testAppID, testUserID)
	if err == nil {
		t.Fatal("expected error")
	}

	app := f.loadApp(t)
	if app.ArchiveRepoName != "app-42-backup" {
		t.Errorf("archive_repo_name = %q, want handle persisted despite publish failure", app.ArchiveRepoName)
	}
	if app.DeploymentStatus != appdomain.StatusFailed {
		t.Errorf("status = %q, want failed", app.DeploymentStatus)
	}
}

func TestUpdateAppIncrementsMinorVersion(t *testing.T) {
	f := setup(t)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusDeployed
		app.CurrentVersion = "v1.0"
		app.ArchiveRepoName = "app-42-backup"
		app.ArchiveRepoURL = "https://github.test/acme/app-42-backup"
		app.DeployURL = "https://old.example.test"
	})
	f.seedVersion(t, 1, snapshot(t))

	newCode := snapshot(t)
	newCode.Frontend[0].Content = "export default () => <div/>"

	result, err := f.svc.UpdateApp(context.Background(), testAppID, testUserID, newCode, "tweak app shell")
	if err != nil {
		t.Fatalf("UpdateApp: %v", err)
	}

	if got := result.Version.String(); got != "v1.1" {
		t.Errorf("version = %q, want v1.1", got)
	}

	app := f.loadApp(t)
	if app.CurrentVersion != "v1.1" {
		t.Errorf("current_version = %q, want v1.1", app.CurrentVersion)
	}
	if app.DeploymentStatus != appdomain.StatusDeployed {
		t.Errorf("status = %q, want deployed", app.DeploymentStatus)
	}
	if got := f.countVersions(t); got != 2 {
		t.Errorf("version rows = %d, want 2", got)
	}
	if f.archiver.updateCalls != 1 {
		t.Errorf("updateCalls = %d, want 1", f.archiver.updateCalls)
	}
}

func TestUpdateAppPublishFailureKeepsVersionRow(t *testing.T) {
	f := setup(t)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusDeployed
		app.CurrentVersion = "v1.0"
		app.ArchiveRepoName = "app-42-backup"
	})
	f.seedVersion(t, 1, snapshot(t))
	f.target.publishErr = errors.New("bad build config")

	_, err := f.svc.UpdateApp(context.Background(), testAppID, testUserID, snapshot(t), "broken update")
	if err == nil {
		t.Fatal("expected error")
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusFailed {
		t.Errorf("status = %q, want failed", app.DeploymentStatus)
	}
	if app.CurrentVersion != "v1.0" {
		t.Errorf("current_version = %q, want unchanged v1.0", app.CurrentVersion)
	}
	// Code was archived before publish, so the history keeps the row.
	if got := f.countVersions(t); got != 2 {
		t.Errorf("version rows = %d, want 2", got)
	}
}

func TestUpdateAppNeverDeployedRejected(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)

	_, err := f.svc.UpdateApp(context.Background(), testAppID, testUserID, snapshot(t), "update")
	if !errors.Is(err, domain.ErrNotDeployed) {
		t.Fatalf("err = %v, want ErrNotDeployed", err)
	}
}

func TestRollbackRoundTrip(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)
	f.seedVersion(t, 1, snapshot(t))

	if _, err := f.svc.DeployApp(context.Background(), testAppID, testUserID); err != nil {
		t.Fatalf("DeployApp: %v", err)
	}
	newCode := snapshot(t)
	newCode.Frontend[0].Content = "export default () => <div>v1.1</div>"
	if _, err := f.svc.UpdateApp(context.Background(), testAppID, testUserID, newCode, "second version"); err != nil {
		t.Fatalf("UpdateApp: %v", err)
	}

	archived := snapshot(t)
	f.archiver.fetched = archived

	target, err := appdomain.ParseVersionLabel("v1.0")
	if err != nil {
		t.Fatalf("parse label: %v", err)
	}
	result, err := f.svc.RollbackApp(context.Background(), testAppID, testUserID, target)
	if err != nil {
		t.Fatalf("RollbackApp: %v", err)
	}
	if result.Version.String() != "v1.0" {
		t.Errorf("version = %q, want v1.0", result.Version)
	}

	app := f.loadApp(t)
	if app.CurrentVersion != "v1.0" {
		t.Errorf("current_version = %q, want v1.0", app.CurrentVersion)
	}
	if app.DeploymentStatus != appdomain.StatusDeployed {
		t.Errorf("status = %q, want deployed", app.DeploymentStatus)
	}
	if f.archiver.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1 (rollback reads the archive, not the version table)", f.archiver.fetchCalls)
	}
	if f.target.lastPublished.Frontend[0].Content != archived.Frontend[0].Content {
		t.Error("published code is not the archived snapshot")
	}
	// Rollback reuses history, it does not extend it.
	if got := f.countVersions(t); got != 2 {
		t.Errorf("version rows = %d, want 2", got)
	}
}

func TestSuspendIdempotent(t *testing.T) {
	f := setup(t)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusDeployed
		app.CurrentVersion = "v1.0"
		app.HostingDeploymentID = "dpl_live"
	})

	if _, err := f.svc.SuspendApp(context.Background(), testAppID, testUserID, "Subscription canceled"); err != nil {
		t.Fatalf("first SuspendApp: %v", err)
	}
	firstSuspendedAt := f.loadApp(t).SuspendedAt
	if firstSuspendedAt == nil {
		t.Fatal("suspended_at not set")
	}

	if _, err := f.svc.SuspendApp(context.Background(), testAppID, testUserID, "Subscription canceled"); err != nil {
		t.Fatalf("second SuspendApp: %v", err)
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusSuspended {
		t.Errorf("status = %q, want suspended", app.DeploymentStatus)
	}
	if app.SuspendedAt == nil || !app.SuspendedAt.Equal(*firstSuspendedAt) {
		t.Error("suspended_at changed on repeat suspension")
	}
	if f.target.teardownCalls != 1 {
		t.Errorf("teardownCalls = %d, want 1 (already-suspended apps skip teardown)", f.target.teardownCalls)
	}
}

func TestSuspendTeardownFailureStillSuspends(t *testing.T) {
	f := setup(t)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusDeployed
		app.HostingDeploymentID = "dpl_live"
	})
	f.target.teardownErr = errors.New("hosting api down")

	if _, err := f.svc.SuspendApp(context.Background(), testAppID, testUserID, "Subscription payment failed"); err != nil {
		t.Fatalf("SuspendApp: %v", err)
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusSuspended {
		t.Errorf("status = %q, want suspended despite teardown failure", app.DeploymentStatus)
	}
}

func TestReactivatePublishesLatestVersion(t *testing.T) {
	f := setup(t)
	suspendedAt := time.Now().UTC().Add(-time.Hour)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusSuspended
		app.CurrentVersion = "v1.0"
		app.SuspendedAt = &suspendedAt
	})
	f.seedVersion(t, 1, snapshot(t))
	newer := snapshot(t)
	newer.Frontend[0].Content = "export default () => <div>added while suspended</div>"
	f.seedVersion(t, 2, newer)

	result, err := f.svc.ReactivateApp(context.Background(), testAppID, testUserID)
	if err != nil {
		t.Fatalf("ReactivateApp: %v", err)
	}
	if result.URL == "" {
		t.Error("result url is empty")
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusDeployed {
		t.Errorf("status = %q, want deployed", app.DeploymentStatus)
	}
	if app.SuspendedAt != nil {
		t.Error("suspended_at not cleared")
	}
	if app.CurrentVersion != "v1.1" {
		t.Errorf("current_version = %q, want v1.1 (latest version, not the pre-suspension one)", app.CurrentVersion)
	}
	if f.target.lastPublished.Frontend[0].Content != newer.Frontend[0].Content {
		t.Error("reactivation did not publish the latest version")
	}
}

func TestReactivateFailurePreservesSuspendedAt(t *testing.T) {
	f := setup(t)
	suspendedAt := time.Now().UTC().Add(-time.Hour)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusSuspended
		app.CurrentVersion = "v1.0"
		app.SuspendedAt = &suspendedAt
	})
	f.seedVersion(t, 1, snapshot(t))
	f.target.publishErr = errors.New("hosting rejected deployment")

	_, err := f.svc.ReactivateApp(context.Background(), testAppID, testUserID)
	if err == nil {
		t.Fatal("expected error")
	}

	app := f.loadApp(t)
	if app.DeploymentStatus != appdomain.StatusFailed {
		t.Errorf("status = %q, want failed", app.DeploymentStatus)
	}
	if app.SuspendedAt == nil {
		t.Error("suspended_at cleared on failed reactivation")
	}
}

func TestOperationsRejectConcurrentHolder(t *testing.T) {
	f := setup(t)
	f.seedApp(t, nil)
	f.seedVersion(t, 1, snapshot(t))

	release, err := f.locks.Acquire(context.Background(), testAppID)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	defer release()

	if _, err := f.svc.DeployApp(context.Background(), testAppID, testUserID); !errors.Is(err, applock.ErrAppBusy) {
		t.Fatalf("err = %v, want ErrAppBusy", err)
	}
	if f.target.publishCalls != 0 {
		t.Errorf("publishCalls = %d, want 0", f.target.publishCalls)
	}
}

func TestGetDeploymentStatus(t *testing.T) {
	f := setup(t)
	f.seedApp(t, func(app *appdomain.App) {
		app.DeploymentStatus = appdomain.StatusDeployed
		app.CurrentVersion = "v1.2"
		app.DeployURL = "https://app-42.example.test"
		app.HostingDeploymentID = "dpl_9"
	})

	status, err := f.svc.GetDeploymentStatus(context.Background(), testAppID)
	if err != nil {
		t.Fatalf("GetDeploymentStatus: %v", err)
	}
	if status.Status != appdomain.StatusDeployed || status.CurrentVersion != "v1.2" || status.URL != "https://app-42.example.test" {
		t.Errorf("unexpected status result: %+v", status)
	}
}
