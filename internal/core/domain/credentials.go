package domain

// GitCredentials is a tagged variant over the four authentication modes a
// project may configure for its Git remote. Exactly one variant applies to
// a given project.
type GitCredentials interface {
	isGitCredentials()
}

// GitAnonymous performs unauthenticated Git operations.
type GitAnonymous struct{}

// GitToken authenticates HTTPS remotes with an OAuth2-style access token.
// The token is presented as the password with username "oauth2".
type GitToken struct {
	Token string
}

// GitUserPass authenticates HTTPS remotes with basic credentials.
type GitUserPass struct {
	Username string
	Password string
}

// GitSSHKey authenticates SSH-style remotes with a private key in PEM form.
// Passphrase is empty for unencrypted keys.
type GitSSHKey struct {
	Key        []byte
	Passphrase string
}

func (GitAnonymous) isGitCredentials() {}
func (GitToken) isGitCredentials()     {}
func (GitUserPass) isGitCredentials()  {}
func (GitSSHKey) isGitCredentials()    {}

// SSHAuth is the tagged variant for server SSH authentication.
type SSHAuth interface {
	isSSHAuth()
}

// SSHPassword authenticates with a plain password.
type SSHPassword struct {
	Password string
}

// SSHKey authenticates with a private key in PEM form.
type SSHKey struct {
	Key []byte
}

func (SSHPassword) isSSHAuth() {}
func (SSHKey) isSSHAuth()      {}
