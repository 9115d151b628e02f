package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Service seals and opens the credential material stored with projects and
// servers: git tokens, passwords and SSH private keys.
type Service interface {
	Encrypt(plaintext []byte, associatedData []byte) (string, error)
	Decrypt(ciphertextBase64 string, associatedData []byte) ([]byte, error)
}

// AESService is an AES-256-GCM Service. The associated data binds each
// ciphertext to its owning row, so a secret copied between rows fails to
// decrypt.
type AESService struct {
	aead cipher.AEAD
}

func NewAESService(hexKey string) (*AESService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, errors.New("crypto: key must be 32 bytes for AES-256")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: block cipher failure: %w", err)
	}
	defer func() {
		for i := range key {
			key[i] = 0
		}
	}()

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: GCM failure: %w", err)
	}
	return &AESService{aead: aead}, nil
}

func (s *AESService) Encrypt(plaintext []byte, associatedData []byte) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce generation failure: %w", err)
	}

	ciphertext := s.aead.Seal(nonce, nonce, plaintext, associatedData)
	return base64.URLEncoding.EncodeToString(ciphertext), nil
}

func (s *AESService) Decrypt(ciphertextBase64 string, associatedData []byte) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return nil, fmt.Errorf("crypto: base64 decode failure: %w", err)
	}

	ns := s.aead.NonceSize()
	if len(data) < ns {
		return nil, errors.New("crypto: ciphertext too short")
	}
	nonce, sealed := data[:ns], data[ns:]

	plaintext, err := s.aead.Open(nil, nonce, sealed, associatedData)
	if err != nil {
		return nil, errors.New("crypto: integrity check failed")
	}
	return plaintext, nil
}
