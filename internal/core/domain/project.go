package domain

import "time"

// ProjectKind selects the build and deployment strategy for a project.
type ProjectKind string

const (
	ProjectFrontend ProjectKind = "frontend"
	ProjectBackend  ProjectKind = "backend"
	ProjectJava     ProjectKind = "java"
)

// Environment classifies resources into isolation buckets. A deployment may
// only target server groups whose environment matches its project's.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// HealthCheckKind selects the probe executed after a deployment.
type HealthCheckKind string

const (
	HealthCheckHTTP    HealthCheckKind = "http"
	HealthCheckTCP     HealthCheckKind = "tcp"
	HealthCheckCommand HealthCheckKind = "command"
)

// HealthCheckConfig is the per-project probe configuration block.
// Timeout and Interval are in seconds.
type HealthCheckConfig struct {
	Enabled  bool            `json:"enabled"`
	Kind     HealthCheckKind `json:"kind"`
	URL      string          `json:"url,omitempty"`
	Port     int             `json:"port,omitempty"`
	Command  string          `json:"command,omitempty"`
	Timeout  int             `json:"timeout"`
	Retries  int             `json:"retries"`
	Interval int             `json:"interval"`
}

// Project is a registered deployable unit. Credential columns hold
// ciphertext at rest; DecryptedGitCredentials on the service layer resolves
// them into a GitCredentials variant.
type Project struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	GitURL      string      `json:"git_url"`
	GitToken    string      `json:"-"`
	GitUsername string      `json:"-"`
	GitPassword string      `json:"-"`
	GitSSHKey   string      `json:"-"`
	Kind        ProjectKind `json:"project_type"`

	BuildCommand   string `json:"build_command"`
	InstallCommand string `json:"install_command,omitempty"`
	AutoInstall    bool   `json:"auto_install"`
	OutputDir      string `json:"output_dir"`

	UploadPath            string `json:"upload_path,omitempty"`
	RestartScriptPath     string `json:"restart_script_path,omitempty"`
	RestartOnlyScriptPath string `json:"restart_only_script_path,omitempty"`

	Environment Environment       `json:"environment"`
	HealthCheck HealthCheckConfig `json:"health_check"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasGitCredentials reports whether any authentication mode is configured.
func (p *Project) HasGitCredentials() bool {
	return p.GitToken != "" || p.GitUsername != "" || p.GitSSHKey != ""
}
