package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeploymentStatus is the stage machine state of a deployment. Transitions
// are monotonic: once terminal, a deployment never changes status again.
type DeploymentStatus string

const (
	StatusPending        DeploymentStatus = "pending"
	StatusQueued         DeploymentStatus = "queued"
	StatusCloning        DeploymentStatus = "cloning"
	StatusBuilding       DeploymentStatus = "building"
	StatusUploading      DeploymentStatus = "uploading"
	StatusDeploying      DeploymentStatus = "deploying"
	StatusRestarting     DeploymentStatus = "restarting"
	StatusHealthChecking DeploymentStatus = "health_checking"
	StatusSuccess        DeploymentStatus = "success"
	StatusFailed         DeploymentStatus = "failed"
	StatusCancelled      DeploymentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s DeploymentStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// Progress maps a status to its percent-complete value. Progress is a
// function of status, not of per-server position.
func (s DeploymentStatus) Progress() int {
	switch s {
	case StatusCloning:
		return 10
	case StatusBuilding:
		return 30
	case StatusUploading:
		return 60
	case StatusDeploying:
		return 80
	case StatusRestarting:
		return 90
	case StatusHealthChecking:
		return 95
	case StatusSuccess:
		return 100
	default:
		// PENDING, QUEUED, FAILED, CANCELLED
		return 0
	}
}

// DeploymentKind selects the pipeline a deployment runs.
type DeploymentKind string

const (
	DeployFull        DeploymentKind = "full"
	DeployRestartOnly DeploymentKind = "restart_only"
	DeployUpload      DeploymentKind = "upload"
)

// RestartOnlyBranch is the placeholder branch stored for restart-only
// deployments, which never touch the repository.
const RestartOnlyBranch = "-"

// Deployment is one submission of a project to a set of server groups.
// Environment is copied from the project at creation and immutable after.
type Deployment struct {
	ID             int64            `json:"id"`
	ProjectID      int64            `json:"project_id"`
	Branch         string           `json:"branch"`
	Kind           DeploymentKind   `json:"deployment_type"`
	Status         DeploymentStatus `json:"status"`
	Progress       int              `json:"progress"`
	CurrentStep    string           `json:"current_step,omitempty"`
	CommitHash     string           `json:"commit_hash,omitempty"`
	CommitMessage  string           `json:"commit_message,omitempty"`
	ServerGroupIDs []int64          `json:"server_group_ids"`
	RollbackFrom   *int64           `json:"rollback_from,omitempty"`
	Environment    Environment      `json:"environment"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	CreatedBy      uuid.UUID        `json:"created_by"`
}

// Artifact is the packaged build output (or operator upload) of a
// deployment; at most one per deployment. The file at FilePath exists until
// the reaper deletes it in favor of a newer artifact of the same project.
type Artifact struct {
	ID           int64     `json:"id"`
	DeploymentID int64     `json:"deployment_id"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
}

// LogLevel is advisory; persistence and ordering are unaffected by level.
type LogLevel string

const (
	LevelDebug   LogLevel = "DEBUG"
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
)

// LogEntry is one durable deployment log row. IDs are strictly increasing
// per deployment and define the authoritative replay order.
type LogEntry struct {
	ID           int64     `json:"id"`
	DeploymentID int64     `json:"deployment_id"`
	Level        LogLevel  `json:"level"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}
