package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0000000000000000000000000000000000000000000000000000000000000000"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, err := NewAESService(testKey)
	require.NoError(t, err)

	aad := []byte("project:42")
	sealed, err := svc.Encrypt([]byte("ghp_secrettoken"), aad)
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secrettoken")

	plain, err := svc.Decrypt(sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secrettoken", string(plain))
}

func TestDecryptRejectsWrongAssociatedData(t *testing.T) {
	svc, err := NewAESService(testKey)
	require.NoError(t, err)

	sealed, err := svc.Encrypt([]byte("secret"), []byte("server:1"))
	require.NoError(t, err)

	_, err = svc.Decrypt(sealed, []byte("server:2"))
	assert.Error(t, err, "ciphertext must be bound to its owning row")
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	svc, err := NewAESService(testKey)
	require.NoError(t, err)

	sealed, err := svc.Encrypt([]byte("secret"), nil)
	require.NoError(t, err)

	tampered := strings.Replace(sealed, sealed[len(sealed)-5:], "AAAA=", 1)
	_, err = svc.Decrypt(tampered, nil)
	assert.Error(t, err)
}

func TestNewAESServiceValidatesKey(t *testing.T) {
	_, err := NewAESService("not-hex")
	assert.Error(t, err)

	_, err = NewAESService("deadbeef")
	assert.Error(t, err, "short keys rejected")
}

func TestNonceIsRandomPerCall(t *testing.T) {
	svc, err := NewAESService(testKey)
	require.NoError(t, err)

	a, err := svc.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	b, err := svc.Encrypt([]byte("same"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
