package credentials

import (
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockVault lets individual operations fail.
type mockVault struct {
	putFunc    func(id, secret string) error
	getFunc    func(id string) (string, error)
	deleteFunc func(id string) error
}

func (m *mockVault) Put(id, secret string) error {
	if m.putFunc != nil {
		return m.putFunc(id, secret)
	}
	return nil
}

func (m *mockVault) Get(id string) (string, error) {
	if m.getFunc != nil {
		return m.getFunc(id)
	}
	return "", nil
}

func (m *mockVault) Delete(id string) error {
	if m.deleteFunc != nil {
		return m.deleteFunc(id)
	}
	return nil
}

func TestResolve_LegacyPassword(t *testing.T) {
	svc := New(testLogger(), vault.NewMemory())

	secret, kind, err := svc.Resolve(models.AuthMethod{
		Type:     models.AuthTypePassword,
		Password: "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
	assert.Equal(t, models.SecretKindPassword, kind)
}

func TestResolve_LegacyKey(t *testing.T) {
	svc := New(testLogger(), vault.NewMemory())

	secret, kind, err := svc.Resolve(models.AuthMethod{
		Type:       models.AuthTypeKey,
		PrivateKey: "PEM DATA",
	})
	require.NoError(t, err)
	assert.Equal(t, "PEM DATA", secret)
	assert.Equal(t, models.SecretKindPrivateKey, kind)
}

func TestResolve_SecretRef(t *testing.T) {
	v := vault.NewMemory()
	require.NoError(t, v.Put("server:abc:password", "stored-secret"))
	svc := New(testLogger(), v)

	secret, kind, err := svc.Resolve(models.AuthMethod{
		Type:     models.AuthTypeSecretRef,
		SecretID: "server:abc:password",
		Kind:     models.SecretKindPassword,
	})
	require.NoError(t, err)
	assert.Equal(t, "stored-secret", secret)
	assert.Equal(t, models.SecretKindPassword, kind)
}

func TestResolve_SecretRefMissing(t *testing.T) {
	svc := New(testLogger(), vault.NewMemory())

	_, _, err := svc.Resolve(models.AuthMethod{
		Type:     models.AuthTypeSecretRef,
		SecretID: "server:missing:password",
		Kind:     models.SecretKindPassword,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestResolve_UnknownType(t *testing.T) {
	svc := New(testLogger(), vault.NewMemory())

	_, _, err := svc.Resolve(models.AuthMethod{Type: "Bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown auth type")
}

func TestMigrate_Password(t *testing.T) {
	v := vault.NewMemory()
	svc := New(testLogger(), v)

	server := models.ServerConnection{
		ID:   "abc",
		Host: "10.0.0.5",
		Port: 22,
		User: "alice",
		Auth: models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	}

	changed, err := svc.Migrate(&server)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, models.AuthTypeSecretRef, server.Auth.Type)
	assert.Equal(t, "server:abc:password", server.Auth.SecretID)
	assert.Equal(t, models.SecretKindPassword, server.Auth.Kind)
	assert.Empty(t, server.Auth.Password)

	// The original secret is retrievable under the derived id.
	secret, err := v.Get("server:abc:password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestMigrate_Key(t *testing.T) {
	v := vault.NewMemory()
	svc := New(testLogger(), v)

	server := models.ServerConnection{
		ID:   "abc",
		Auth: models.AuthMethod{Type: models.AuthTypeKey, PrivateKey: "PEM DATA"},
	}

	changed, err := svc.Migrate(&server)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "server:abc:private_key", server.Auth.SecretID)
	assert.Equal(t, models.SecretKindPrivateKey, server.Auth.Kind)

	secret, err := v.Get("server:abc:private_key")
	require.NoError(t, err)
	assert.Equal(t, "PEM DATA", secret)
}

func TestMigrate_Idempotent(t *testing.T) {
	v := vault.NewMemory()
	svc := New(testLogger(), v)

	server := models.ServerConnection{
		ID:   "abc",
		Auth: models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	}

	changed, err := svc.Migrate(&server)
	require.NoError(t, err)
	require.True(t, changed)

	migrated := server.Auth

	changed, err = svc.Migrate(&server)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, migrated, server.Auth)
}

func TestMigrate_VaultFailureLeavesRecordUntouched(t *testing.T) {
	svc := New(testLogger(), &mockVault{
		putFunc: func(id, secret string) error {
			return errors.New("vault unavailable")
		},
	})

	server := models.ServerConnection{
		ID:   "abc",
		Auth: models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	}

	_, err := svc.Migrate(&server)
	require.Error(t, err)
	assert.Equal(t, models.AuthTypePassword, server.Auth.Type)
	assert.Equal(t, "hunter2", server.Auth.Password)
}

func TestDeleteFor_RemovesDerivedIDs(t *testing.T) {
	v := vault.NewMemory()
	require.NoError(t, v.Put("server:abc:password", "s1"))
	require.NoError(t, v.Put("server:abc:private_key", "s2"))
	svc := New(testLogger(), v)

	svc.DeleteFor(models.ServerConnection{ID: "abc"})

	_, err := v.Get("server:abc:password")
	assert.ErrorIs(t, err, vault.ErrNotFound)
	_, err = v.Get("server:abc:private_key")
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestDeleteFor_VaultFailureIsNotFatal(t *testing.T) {
	calls := 0
	svc := New(testLogger(), &mockVault{
		deleteFunc: func(id string) error {
			calls++
			return errors.New("vault unavailable")
		},
	})

	// Must not panic or abort; failures are logged only.
	svc.DeleteFor(models.ServerConnection{ID: "abc"})
	assert.Equal(t, 2, calls)
}
