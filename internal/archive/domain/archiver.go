// Package domain defines the backup archiver contract: a durable external
// copy of every code snapshot, independent of the hosting provider, so any
// version can be recovered even when a deployment fails.
package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/shipyard/internal/app/domain"
)

var (
	ErrMetadataWriteFailed = errors.New("archive_metadata_write_failed")
	ErrVersionNotArchived  = errors.New("archive_version_not_found")
	ErrArchiveUnavailable  = errors.New("archive_unavailable")
	ErrPreconditionFailed  = errors.New("archive_precondition_failed")
)

// Handle references one archive unit. Creation is not idempotent, so
// callers must persist the handle immediately.
type Handle struct {
	RepoName      string `json:"repo_name"`
	RepoURL       string `json:"repo_url"`
	DefaultBranch string `json:"default_branch"`
}

// CreateRequest carries everything needed to open a new archive.
type CreateRequest struct {
	AppID   snowflake.ID
	UserID  snowflake.ID
	AppName string
	Code    appdomain.CodeSnapshot
	Version appdomain.VersionLabel
}

// WriteFailure records one file that could not be archived.
type WriteFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// WriteSummary reports a best-effort archive write. A partially archived
// version is preferable to none, but callers decide whether to publish.
type WriteSummary struct {
	Written int            `json:"written"`
	Failed  []WriteFailure `json:"failed,omitempty"`
}

// Partial reports whether any file writes failed.
func (s WriteSummary) Partial() bool { return len(s.Failed) > 0 }

type Archiver interface {
	// CreateArchive provisions a fresh archive unit and writes the snapshot
	// plus a metadata file. Calling it twice produces two archives.
	CreateArchive(ctx context.Context, req CreateRequest) (Handle, WriteSummary, error)

	// UpdateArchive writes a new snapshot into an existing archive,
	// overwriting changed paths under content preconditions, then tags the
	// result with the version label. Tag failure is non-fatal.
	UpdateArchive(ctx context.Context, userID snowflake.ID, handle Handle, code appdomain.CodeSnapshot, version appdomain.VersionLabel) (WriteSummary, error)

	// FetchVersion retrieves the file tree recorded for a version,
	// partitioned back into tiers.
	FetchVersion(ctx context.Context, userID snowflake.ID, handle Handle, version appdomain.VersionLabel) (appdomain.CodeSnapshot, error)
}
