package domain

import "time"

// SSHAuthKind names the stored authentication mode for a server.
type SSHAuthKind string

const (
	AuthPassword SSHAuthKind = "password"
	AuthSSHKey   SSHAuthKind = "ssh_key"
)

// Reachability is the last known connection state of a server, updated by
// the on-demand connection test.
type Reachability string

const (
	ReachabilityUntested Reachability = "untested"
	ReachabilityOnline   Reachability = "online"
	ReachabilityOffline  Reachability = "offline"
)

// Server is a deployment target reachable over SSH. AuthSecret holds the
// encrypted password or private key.
type Server struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	Host         string       `json:"host"`
	Port         int          `json:"port"`
	Username     string       `json:"username"`
	AuthKind     SSHAuthKind  `json:"auth_type"`
	AuthSecret   string       `json:"-"`
	Active       bool         `json:"is_active"`
	Reachability Reachability `json:"reachability"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ServerGroup is an ordered set of servers sharing an environment tag.
// Deployments fan out over groups in selection order and over Servers in
// enumeration order.
type ServerGroup struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Environment Environment `json:"environment"`
	Servers     []Server    `json:"servers,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}
