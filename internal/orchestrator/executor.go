package orchestrator

import (
	"os"
	"time"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/logstream"
	"github.com/irgordon/slipway/internal/sshx"
)

// Executor is the remote-session surface the fan-out needs from an SSH
// connection. Tests substitute a scripted implementation.
type Executor interface {
	Exec(command string) (exitCode int, stdout, stderr string, err error)
	ExecStreaming(command string, onStdout, onStderr func(string)) (exitCode int, stdout, stderr string, err error)
	Upload(localPath, remotePath string) error
	UploadWithProgress(localPath, remotePath string, log *logstream.Logger) error
	FileExists(path string) (bool, error)
	DirExists(path string) (bool, error)
	Mkdir(path string, mode os.FileMode) error
	Close()
}

// Dialer opens an authenticated session to a server.
type Dialer func(server *domain.Server, auth domain.SSHAuth) (Executor, error)

// SSHDialer adapts sshx.Dial to the Dialer signature with a fixed exec
// timeout.
func SSHDialer(execTimeout time.Duration) Dialer {
	return func(server *domain.Server, auth domain.SSHAuth) (Executor, error) {
		return sshx.Dial(server, auth, execTimeout)
	}
}

// SecretResolver decrypts stored credential ciphertext into usable
// authentication material.
type SecretResolver interface {
	ServerAuth(s *domain.Server) (domain.SSHAuth, error)
	GitCredentials(p *domain.Project) (domain.GitCredentials, error)
}
