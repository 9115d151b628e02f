package domain

import (
	"context"

	"github.com/google/uuid"
)

// DeploymentFilter narrows List. Zero values mean "any".
type DeploymentFilter struct {
	ProjectID   int64
	Environment Environment
	Limit       int
}

type ProjectRepository interface {
	Create(ctx context.Context, p *Project) error
	GetByID(ctx context.Context, id int64) (*Project, error)
	List(ctx context.Context) ([]Project, error)
	Update(ctx context.Context, p *Project) error
	Delete(ctx context.Context, id int64) error
}

type ServerRepository interface {
	Create(ctx context.Context, s *Server) error
	GetByID(ctx context.Context, id int64) (*Server, error)
	List(ctx context.Context) ([]Server, error)
	Update(ctx context.Context, s *Server) error
	Delete(ctx context.Context, id int64) error
	UpdateReachability(ctx context.Context, id int64, r Reachability) error

	CreateGroup(ctx context.Context, g *ServerGroup, memberIDs []int64) error
	GetGroup(ctx context.Context, id int64) (*ServerGroup, error)
	ListGroups(ctx context.Context) ([]ServerGroup, error)
	UpdateGroup(ctx context.Context, g *ServerGroup, memberIDs []int64) error
	DeleteGroup(ctx context.Context, id int64) error
}

type DeploymentRepository interface {
	Create(ctx context.Context, d *Deployment) error
	GetByID(ctx context.Context, id int64) (*Deployment, error)
	List(ctx context.Context, f DeploymentFilter) ([]Deployment, error)
	// UpdateStatus persists the status together with its derived progress,
	// the current-step label and, when non-empty, the error message.
	// Rows already in a terminal status are left untouched.
	UpdateStatus(ctx context.Context, id int64, status DeploymentStatus, errorMessage string) error
	SetCommit(ctx context.Context, id int64, hash, message string) error
	// FailNonTerminal marks every non-terminal deployment FAILED with the
	// given error message; used by the startup reconcile pass. Returns the
	// number of rows updated.
	FailNonTerminal(ctx context.Context, errorMessage string) (int64, error)

	CreateArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, deploymentID int64) (*Artifact, error)
	// ListArtifactPathsByProject returns the file paths of every artifact
	// whose deployment belongs to the project, newest first.
	ListArtifactPathsByProject(ctx context.Context, projectID int64) ([]string, error)
}

type LogRepository interface {
	// InsertBatch appends entries in a single transaction, preserving slice
	// order; assigned ids are strictly increasing per deployment.
	InsertBatch(ctx context.Context, deploymentID int64, entries []LogEntry) error
	// ListSince returns entries with id > sinceID in ascending order,
	// capped at limit.
	ListSince(ctx context.Context, deploymentID, sinceID int64, limit int) ([]LogEntry, error)
	// ListRecent returns the most recent limit entries in ascending-id order.
	ListRecent(ctx context.Context, deploymentID int64, limit int) ([]LogEntry, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
}

type AuditRepository interface {
	Create(ctx context.Context, entry *AuditLog) error
	List(ctx context.Context, limit int) ([]AuditLog, error)
}
