// Package github archives code snapshots as private GitHub repositories,
// using the contents API for writes and tags as version bookmarks.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/go-github/v61/github"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
	"github.com/smallbiznis/shipyard/internal/archive/domain"
	"github.com/smallbiznis/shipyard/internal/cache"
	"github.com/smallbiznis/shipyard/internal/config"
	"github.com/smallbiznis/shipyard/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	metadataPath  = ".shipyard/archive.json"
	defaultBranch = "main"
	shortIDLen    = 8
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Archiver struct {
	owner   string
	token   string
	log     *zap.Logger
	clients *cache.ClientCache[*github.Client]

	// newClient is swapped in tests to point at a stub server.
	newClient func(token string) *github.Client
}

func NewArchiver(p Params) domain.Archiver {
	a := &Archiver{
		owner:   p.Cfg.GitHubOwner,
		token:   p.Cfg.GitHubToken,
		log:     p.Log.Named("archive.github"),
		clients: cache.NewClientCache[*github.Client](0),
	}
	a.newClient = func(token string) *github.Client {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient := oauth2.NewClient(context.Background(), src)
		return github.NewClient(tracing.WrapHTTPClient(httpClient))
	}
	return a
}

func (a *Archiver) client(userID snowflake.ID) (*github.Client, error) {
	return a.clients.GetOrCreate(cache.ClientKey{UserID: int64(userID), API: "github"}, func() (*github.Client, error) {
		if strings.TrimSpace(a.token) == "" {
			return nil, domain.ErrArchiveUnavailable
		}
		return a.newClient(a.token), nil
	})
}

type archiveMetadata struct {
	AppID     string `json:"app_id"`
	AppName   string `json:"app_name"`
	Version   string `json:"version"`
	CreatedAt string `json:"created_at"`
}

// CreateArchive provisions a private repository named from the truncated
// app id, the sanitized app name and a timestamp suffix, then writes the
// snapshot and the metadata file.
func (a *Archiver) CreateArchive(ctx context.Context, req domain.CreateRequest) (domain.Handle, domain.WriteSummary, error) {
	client, err := a.client(req.UserID)
	if err != nil {
		return domain.Handle{}, domain.WriteSummary{}, err
	}

	name := archiveRepoName(req.AppID, req.AppName, time.Now().UTC())
	repo, _, err := client.Repositories.Create(ctx, a.owner, &github.Repository{
		Name:        github.String(name),
		Private:     github.Bool(true),
		Description: github.String("Code archive for " + req.AppName),
		AutoInit:    github.Bool(true),
	})
	if err != nil {
		return domain.Handle{}, domain.WriteSummary{}, fmt.Errorf("create archive repo: %w", err)
	}

	handle := domain.Handle{
		RepoName:      repo.GetName(),
		RepoURL:       repo.GetHTMLURL(),
		DefaultBranch: repo.GetDefaultBranch(),
	}
	if handle.DefaultBranch == "" {
		handle.DefaultBranch = defaultBranch
	}

	summary := a.writeFiles(ctx, client, handle, req.Code, req.Version)

	metadata := archiveMetadata{
		AppID:     req.AppID.String(),
		AppName:   req.AppName,
		Version:   req.Version.String(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	encoded, _ := json.MarshalIndent(metadata, "", "  ")
	if err := a.writeFile(ctx, client, handle, metadataPath, string(encoded), req.Version); err != nil {
		// Without metadata the archive cannot be trusted for recovery.
		return handle, summary, fmt.Errorf("%w: %s", domain.ErrMetadataWriteFailed, err)
	}

	a.tagVersion(ctx, client, handle, req.Version)
	return handle, summary, nil
}

// UpdateArchive writes the snapshot into the existing repository and tags
// the new head with the version label.
func (a *Archiver) UpdateArchive(ctx context.Context, userID snowflake.ID, handle domain.Handle, code appdomain.CodeSnapshot, version appdomain.VersionLabel) (domain.WriteSummary, error) {
	client, err := a.client(userID)
	if err != nil {
		return domain.WriteSummary{}, err
	}
	if handle.RepoName == "" {
		return domain.WriteSummary{}, domain.ErrArchiveUnavailable
	}

	summary := a.writeFiles(ctx, client, handle, code, version)

	metadata := archiveMetadata{
		Version:   version.String(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	encoded, _ := json.MarshalIndent(metadata, "", "  ")
	if err := a.writeFile(ctx, client, handle, metadataPath, string(encoded), version); err != nil {
		return summary, fmt.Errorf("%w: %s", domain.ErrMetadataWriteFailed, err)
	}

	a.tagVersion(ctx, client, handle, version)
	return summary, nil
}

// FetchVersion reads the tree at the version's tag and partitions it back
// into tiers.
func (a *Archiver) FetchVersion(ctx context.Context, userID snowflake.ID, handle domain.Handle, version appdomain.VersionLabel) (appdomain.CodeSnapshot, error) {
	client, err := a.client(userID)
	if err != nil {
		return appdomain.CodeSnapshot{}, err
	}

	tree, resp, err := client.Git.GetTree(ctx, a.owner, handle.RepoName, version.String(), true)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return appdomain.CodeSnapshot{}, domain.ErrVersionNotArchived
		}
		return appdomain.CodeSnapshot{}, fmt.Errorf("get archive tree: %w", err)
	}

	var files []appdomain.CodeFile
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		path := entry.GetPath()
		if !strings.HasPrefix(path, "frontend/") && !strings.HasPrefix(path, "backend/") {
			continue
		}
		blob, _, err := client.Git.GetBlob(ctx, a.owner, handle.RepoName, entry.GetSHA())
		if err != nil {
			return appdomain.CodeSnapshot{}, fmt.Errorf("get blob %s: %w", path, err)
		}
		content := blob.GetContent()
		if blob.GetEncoding() == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
			if err != nil {
				return appdomain.CodeSnapshot{}, fmt.Errorf("decode blob %s: %w", path, err)
			}
			content = string(decoded)
		}
		files = append(files, appdomain.CodeFile{Path: path, Content: content})
	}

	snapshot := appdomain.SnapshotFromFiles(files)
	if snapshot.IsEmpty() {
		return appdomain.CodeSnapshot{}, domain.ErrVersionNotArchived
	}
	return snapshot, nil
}

// writeFiles pushes every tier-prefixed file, skipping individual failures
// so one bad file never aborts the whole archive.
func (a *Archiver) writeFiles(ctx context.Context, client *github.Client, handle domain.Handle, code appdomain.CodeSnapshot, version appdomain.VersionLabel) domain.WriteSummary {
	var summary domain.WriteSummary
	for _, file := range code.Flatten() {
		if err := a.writeFile(ctx, client, handle, file.Path, file.Content, version); err != nil {
			a.log.Warn("archive file write failed",
				zap.String("repo", handle.RepoName),
				zap.String("path", file.Path),
				zap.Error(err),
			)
			summary.Failed = append(summary.Failed, domain.WriteFailure{Path: file.Path, Reason: err.Error()})
			continue
		}
		summary.Written++
	}
	return summary
}

// writeFile creates or updates one path. The current blob SHA is read first
// and supplied as a precondition; a mismatch fails loudly instead of
// clobbering a concurrent writer.
func (a *Archiver) writeFile(ctx context.Context, client *github.Client, handle domain.Handle, path, content string, version appdomain.VersionLabel) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(fmt.Sprintf("Archive %s: %s", version, path)),
		Content: []byte(content),
		Branch:  github.String(handle.DefaultBranch),
	}

	existing, _, resp, err := client.Repositories.GetContents(ctx, a.owner, handle.RepoName, path, &github.RepositoryContentGetOptions{
		Ref: handle.DefaultBranch,
	})
	switch {
	case err == nil && existing != nil:
		opts.SHA = github.String(existing.GetSHA())
		if _, _, err := client.Repositories.UpdateFile(ctx, a.owner, handle.RepoName, path, opts); err != nil {
			if isPreconditionError(err) {
				return fmt.Errorf("%w: %s", domain.ErrPreconditionFailed, path)
			}
			return err
		}
		return nil
	case resp != nil && resp.StatusCode == http.StatusNotFound:
		if _, _, err := client.Repositories.CreateFile(ctx, a.owner, handle.RepoName, path, opts); err != nil {
			return err
		}
		return nil
	default:
		return err
	}
}

// tagVersion bookmarks the branch head with the version label. Failures are
// logged and not retried: the files are the source of truth.
func (a *Archiver) tagVersion(ctx context.Context, client *github.Client, handle domain.Handle, version appdomain.VersionLabel) {
	head, _, err := client.Git.GetRef(ctx, a.owner, handle.RepoName, "refs/heads/"+handle.DefaultBranch)
	if err != nil {
		a.log.Warn("archive tag skipped, head unavailable",
			zap.String("repo", handle.RepoName),
			zap.String("version", version.String()),
			zap.Error(err),
		)
		return
	}
	_, _, err = client.Git.CreateRef(ctx, a.owner, handle.RepoName, &github.Reference{
		Ref:    github.String("refs/tags/" + version.String()),
		Object: &github.GitObject{SHA: head.Object.SHA},
	})
	if err != nil {
		a.log.Warn("archive tag creation failed",
			zap.String("repo", handle.RepoName),
			zap.String("version", version.String()),
			zap.Error(err),
		)
	}
}

func isPreconditionError(err error) bool {
	var ghErr *github.ErrorResponse
	if !errors.As(err, &ghErr) || ghErr.Response == nil {
		return false
	}
	return ghErr.Response.StatusCode == http.StatusConflict ||
		ghErr.Response.StatusCode == http.StatusUnprocessableEntity
}

// archiveRepoName builds a collision-resistant repo name from the truncated
// app id, the sanitized app name and a timestamp suffix.
func archiveRepoName(appID snowflake.ID, appName string, now time.Time) string {
	id := appID.String()
	if len(id) > shortIDLen {
		id = id[:shortIDLen]
	}
	return fmt.Sprintf("app-%s-%s-%d", id, sanitizeName(appName), now.Unix())
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "app"
	}
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}
