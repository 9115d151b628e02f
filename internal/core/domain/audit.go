package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction enumerates the user actions recorded by API handlers.
type AuditAction string

const (
	AuditLogin              AuditAction = "login"
	AuditUserCreate         AuditAction = "user_create"
	AuditProjectCreate      AuditAction = "project_create"
	AuditProjectUpdate      AuditAction = "project_update"
	AuditProjectDelete      AuditAction = "project_delete"
	AuditServerCreate       AuditAction = "server_create"
	AuditServerUpdate       AuditAction = "server_update"
	AuditServerDelete       AuditAction = "server_delete"
	AuditServerGroupCreate  AuditAction = "server_group_create"
	AuditServerGroupUpdate  AuditAction = "server_group_update"
	AuditServerGroupDelete  AuditAction = "server_group_delete"
	AuditDeploymentCreate   AuditAction = "deployment_create"
	AuditDeploymentCancel   AuditAction = "deployment_cancel"
	AuditDeploymentRollback AuditAction = "deployment_rollback"
)

// AuditLog is an append-only record of a user action. Orthogonal to the
// deployment core; written by the API layer.
type AuditLog struct {
	ID           int64           `json:"id" db:"id"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	Action       AuditAction     `json:"action" db:"action"`
	ResourceType string          `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   *int64          `json:"resource_id,omitempty" db:"resource_id"`
	Details      json.RawMessage `json:"details,omitempty" db:"details"`
	IPAddress    string          `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent    string          `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
