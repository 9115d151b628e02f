package services

import (
	"fmt"

	"github.com/irgordon/slipway/internal/core/domain"
	"github.com/irgordon/slipway/internal/infrastructure/crypto"
)

// Associated-data labels binding ciphertexts to their resource kind.
var (
	aadProject = []byte("slipway:project")
	aadServer  = []byte("slipway:server")
)

// SecretService seals credentials before they reach the database and
// resolves stored ciphertext back into usable authentication material.
type SecretService struct {
	crypto crypto.Service
}

func NewSecretService(c crypto.Service) *SecretService {
	return &SecretService{crypto: c}
}

// SealProjectSecret encrypts one project credential field.
func (s *SecretService) SealProjectSecret(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return s.crypto.Encrypt([]byte(plaintext), aadProject)
}

// SealServerSecret encrypts a server password or private key.
func (s *SecretService) SealServerSecret(plaintext string) (string, error) {
	return s.crypto.Encrypt([]byte(plaintext), aadServer)
}

// GitCredentials resolves the project's stored credential ciphertext into a
// GitCredentials variant. Token wins over username/password wins over SSH
// key; a project with none deploys anonymously.
func (s *SecretService) GitCredentials(p *domain.Project) (domain.GitCredentials, error) {
	openField := func(name, ciphertext string) (string, error) {
		if ciphertext == "" {
			return "", nil
		}
		plain, err := s.crypto.Decrypt(ciphertext, aadProject)
		if err != nil {
			return "", fmt.Errorf("decrypt project %s: %w", name, err)
		}
		return string(plain), nil
	}

	if p.GitToken != "" {
		token, err := openField("token", p.GitToken)
		if err != nil {
			return nil, err
		}
		return domain.GitToken{Token: token}, nil
	}
	if p.GitUsername != "" {
		password, err := openField("password", p.GitPassword)
		if err != nil {
			return nil, err
		}
		return domain.GitUserPass{Username: p.GitUsername, Password: password}, nil
	}
	if p.GitSSHKey != "" {
		key, err := openField("ssh key", p.GitSSHKey)
		if err != nil {
			return nil, err
		}
		return domain.GitSSHKey{Key: []byte(key)}, nil
	}
	return domain.GitAnonymous{}, nil
}

// ServerAuth resolves the server's stored secret into an SSHAuth variant
// matching its configured auth kind.
func (s *SecretService) ServerAuth(server *domain.Server) (domain.SSHAuth, error) {
	plain, err := s.crypto.Decrypt(server.AuthSecret, aadServer)
	if err != nil {
		return nil, fmt.Errorf("decrypt server secret: %w", err)
	}
	switch server.AuthKind {
	case domain.AuthPassword:
		return domain.SSHPassword{Password: string(plain)}, nil
	case domain.AuthSSHKey:
		return domain.SSHKey{Key: plain}, nil
	default:
		return nil, fmt.Errorf("unknown server auth kind %q", server.AuthKind)
	}
}
