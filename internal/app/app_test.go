package app

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/credentials"
	"github.com/shelldeck/shelldeck/internal/services/vault"
	"github.com/shelldeck/shelldeck/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T) (*App, vault.Service) {
	t.Helper()

	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	vlt := vault.NewMemory()
	cfg := models.AppConfig{
		DataDir:           st.Dir(),
		Pty:               models.DefaultPtyConfig(),
		DialTimeout:       time.Second,
		DisconnectTimeout: time.Second,
	}
	a, err := NewWithCollaborators(zerolog.New(io.Discard), cfg, st, vlt)
	require.NoError(t, err)
	return a, vlt
}

func TestSaveServer_AssignsIDAndDefaultsPort(t *testing.T) {
	a, _ := newTestApp(t)

	saved, err := a.SaveServer(models.ServerConnection{
		Nickname: "web",
		Host:     "10.0.0.5",
		User:     "deploy",
		Auth:     models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, uint16(22), saved.Port)
}

func TestSaveServer_MigratesInlineSecret(t *testing.T) {
	a, vlt := newTestApp(t)

	saved, err := a.SaveServer(models.ServerConnection{
		ID:   "srv-1",
		Host: "10.0.0.5",
		User: "deploy",
		Auth: models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	})
	require.NoError(t, err)

	// The record on disk carries a vault reference, never the plaintext.
	assert.Equal(t, models.AuthTypeSecretRef, saved.Auth.Type)
	assert.Empty(t, saved.Auth.Password)

	servers, err := a.Servers()
	require.NoError(t, err)
	require.Len(t, servers, 1)
	assert.Empty(t, servers[0].Auth.Password)

	secret, err := vlt.Get(credentials.SecretID("srv-1", models.SecretKindPassword))
	require.NoError(t, err)
	assert.Equal(t, "hunter2", secret)
}

func TestSaveServer_RejectsIncompleteRecord(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.SaveServer(models.ServerConnection{Host: "10.0.0.5"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host and user are required")

	_, err = a.SaveServer(models.ServerConnection{Host: "10.0.0.5", User: "deploy"})
	require.Error(t, err, "auth method must validate")
}

func TestDeleteServer_RemovesRecordAndSecrets(t *testing.T) {
	a, vlt := newTestApp(t)

	saved, err := a.SaveServer(models.ServerConnection{
		ID:   "srv-1",
		Host: "10.0.0.5",
		User: "deploy",
		Auth: models.AuthMethod{Type: models.AuthTypePassword, Password: "hunter2"},
	})
	require.NoError(t, err)

	require.NoError(t, a.DeleteServer(saved.ID))

	servers, err := a.Servers()
	require.NoError(t, err)
	assert.Empty(t, servers)

	_, err = vlt.Get(credentials.SecretID("srv-1", models.SecretKindPassword))
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestDeleteServer_Unknown(t *testing.T) {
	a, _ := newTestApp(t)

	err := a.DeleteServer("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConnect_UnknownServer(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.Connect(context.Background(), "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUpsertSecret(t *testing.T) {
	a, vlt := newTestApp(t)

	require.Error(t, a.UpsertSecret("", "x"))

	require.NoError(t, a.UpsertSecret("custom:token", "s3cret"))
	got, err := vlt.Get("custom:token")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestSnippets_CRUD(t *testing.T) {
	a, _ := newTestApp(t)

	saved, err := a.SaveSnippet(models.Snippet{Name: "uptime", Command: "uptime"})
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)

	saved.Command = "uptime -p"
	_, err = a.SaveSnippet(saved)
	require.NoError(t, err)

	snippets, err := a.Snippets()
	require.NoError(t, err)
	require.Len(t, snippets, 1)
	assert.Equal(t, "uptime -p", snippets[0].Command)

	require.NoError(t, a.DeleteSnippet(saved.ID))
	snippets, err = a.Snippets()
	require.NoError(t, err)
	assert.Empty(t, snippets)

	err = a.DeleteSnippet(saved.ID)
	require.Error(t, err)
}

func TestSaveSnippet_RequiresNameAndCommand(t *testing.T) {
	a, _ := newTestApp(t)

	_, err := a.SaveSnippet(models.Snippet{Name: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name and command are required")
}

func TestKnownHosts_ListAndForget(t *testing.T) {
	a, _ := newTestApp(t)

	assert.Empty(t, a.KnownHosts())

	err := a.ForgetKnownHost("10.0.0.5", 22)
	require.Error(t, err)
}

func TestTrustHostKey_NoPendingPrompt(t *testing.T) {
	a, _ := newTestApp(t)

	require.Error(t, a.TrustHostKey("10.0.0.5", 22))
	require.Error(t, a.RejectHostKey("10.0.0.5", 22))
}
