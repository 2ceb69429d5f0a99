// Package app wires the services together and exposes the command surface
// a frontend drives: connect/disconnect, shell input, host-key decisions
// and the server/snippet record operations.
package app

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/credentials"
	"github.com/shelldeck/shelldeck/internal/services/hostkeys"
	"github.com/shelldeck/shelldeck/internal/services/knownhosts"
	"github.com/shelldeck/shelldeck/internal/services/session"
	"github.com/shelldeck/shelldeck/internal/services/shell"
	"github.com/shelldeck/shelldeck/internal/services/vault"
	"github.com/shelldeck/shelldeck/internal/services/wake"
	"github.com/shelldeck/shelldeck/internal/store"
)

// App owns the registries and stores for the process lifetime. It is
// constructed once at startup; there is no ambient global state.
type App struct {
	cfg      models.AppConfig
	bus      *events.Bus
	store    *store.Store
	vault    vault.Service
	creds    credentials.Service
	known    knownhosts.Service
	keys     hostkeys.Service
	shells   *shell.Registry
	sessions *session.Registry
	logger   zerolog.Logger
}

// New builds the full service graph from configuration.
func New(logger zerolog.Logger, cfg models.AppConfig) (*App, error) {
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	vlt, err := vault.NewFileVault(logger, filepath.Join(cfg.DataDir, "secrets.vault"), cfg.VaultKeyFile)
	if err != nil {
		return nil, err
	}

	return NewWithCollaborators(logger, cfg, st, vlt)
}

// NewWithCollaborators builds an App on explicit persistence and vault
// collaborators (for testing).
func NewWithCollaborators(logger zerolog.Logger, cfg models.AppConfig, st *store.Store, vlt vault.Service) (*App, error) {
	bus := events.NewBus(logger)

	known, err := knownhosts.New(logger, st)
	if err != nil {
		return nil, err
	}

	creds := credentials.New(logger, vlt)
	keys := hostkeys.New(logger, known, bus)
	shells := shell.NewRegistry(logger, bus)
	sessions := session.New(logger, cfg, creds, keys, wake.New(logger), shells, st, bus)

	return &App{
		cfg:      cfg,
		bus:      bus,
		store:    st,
		vault:    vlt,
		creds:    creds,
		known:    known,
		keys:     keys,
		shells:   shells,
		sessions: sessions,
		logger:   logger,
	}, nil
}

// Events returns the bus frontends subscribe to.
func (a *App) Events() *events.Bus { return a.bus }

// Connect looks the server up by id or nickname, establishes a session and
// returns the id of its first shell.
func (a *App) Connect(ctx context.Context, idOrNickname string) (string, error) {
	server, err := a.store.FindServer(idOrNickname)
	if err != nil {
		return "", err
	}
	return a.sessions.Connect(ctx, *server)
}

// Disconnect tears down the server's session and all its shells.
func (a *App) Disconnect(serverID string) error {
	return a.sessions.Disconnect(serverID)
}

// OpenShell opens an additional PTY shell on a connected server.
func (a *App) OpenShell(serverID string) (string, error) {
	return a.sessions.OpenShell(serverID, a.cfg.Pty)
}

// SendInput routes input bytes to a shell.
func (a *App) SendInput(shellID string, input []byte) error {
	return a.shells.SendInput(shellID, input)
}

// Resize routes a window-change request to a shell.
func (a *App) Resize(shellID string, width, height uint32) error {
	return a.shells.Resize(shellID, width, height)
}

// CloseShell terminates one shell without disconnecting the session.
func (a *App) CloseShell(shellID string) error {
	return a.shells.Close(shellID)
}

// TrustHostKey delivers an accept decision for an outstanding prompt.
func (a *App) TrustHostKey(host string, port uint16) error {
	return a.keys.Accept(host, port)
}

// RejectHostKey delivers a reject decision for an outstanding prompt.
func (a *App) RejectHostKey(host string, port uint16) error {
	return a.keys.Reject(host, port)
}

// KnownHosts lists the pinned host keys.
func (a *App) KnownHosts() []models.KnownHost {
	return a.known.List()
}

// ForgetKnownHost removes the pinned key for an endpoint.
func (a *App) ForgetKnownHost(host string, port uint16) error {
	return a.known.Remove(host, port)
}

// Servers lists the stored server records.
func (a *App) Servers() ([]models.ServerConnection, error) {
	return a.store.LoadServers()
}

// SaveServer validates, migrates and persists a server record. A record is
// never written with an inline secret.
func (a *App) SaveServer(server models.ServerConnection) (models.ServerConnection, error) {
	if server.ID == "" {
		server.ID = uuid.NewString()
	}
	if server.Host == "" || server.User == "" {
		return server, fmt.Errorf("server host and user are required")
	}
	if server.Port == 0 {
		server.Port = 22
	}
	if err := server.Auth.Validate(); err != nil {
		return server, err
	}
	if _, err := a.creds.Migrate(&server); err != nil {
		return server, err
	}
	if err := a.store.UpsertServer(server); err != nil {
		return server, err
	}
	return server, nil
}

// DeleteServer disconnects the server if live, removes its record and
// best-effort deletes its vault secrets.
func (a *App) DeleteServer(id string) error {
	server, err := a.store.FindServer(id)
	if err != nil {
		return err
	}
	if a.sessions.Connected(server.ID) {
		if err := a.sessions.Disconnect(server.ID); err != nil {
			a.logger.Warn().Err(err).Str("server_id", server.ID).Msg("disconnect before delete failed")
		}
	}
	if err := a.store.DeleteServer(server.ID); err != nil {
		return err
	}
	a.creds.DeleteFor(*server)
	return nil
}

// UpsertSecret writes a secret into the vault under an opaque id.
func (a *App) UpsertSecret(id, secret string) error {
	if id == "" {
		return fmt.Errorf("secret id is required")
	}
	return a.vault.Put(id, secret)
}

// Snippets lists the stored snippets.
func (a *App) Snippets() ([]models.Snippet, error) {
	return a.store.LoadSnippets()
}

// SaveSnippet inserts or replaces a snippet by id.
func (a *App) SaveSnippet(snippet models.Snippet) (models.Snippet, error) {
	if snippet.ID == "" {
		snippet.ID = uuid.NewString()
	}
	if snippet.Name == "" || snippet.Command == "" {
		return snippet, fmt.Errorf("snippet name and command are required")
	}

	snippets, err := a.store.LoadSnippets()
	if err != nil {
		return snippet, err
	}
	replaced := false
	for i := range snippets {
		if snippets[i].ID == snippet.ID {
			snippets[i] = snippet
			replaced = true
			break
		}
	}
	if !replaced {
		snippets = append(snippets, snippet)
	}
	return snippet, a.store.SaveSnippets(snippets)
}

// DeleteSnippet removes a snippet by id.
func (a *App) DeleteSnippet(id string) error {
	snippets, err := a.store.LoadSnippets()
	if err != nil {
		return err
	}
	for i := range snippets {
		if snippets[i].ID == id {
			snippets = append(snippets[:i], snippets[i+1:]...)
			return a.store.SaveSnippets(snippets)
		}
	}
	return fmt.Errorf("snippet %q not found", id)
}

// Shutdown disconnects every live session.
func (a *App) Shutdown() {
	a.sessions.DisconnectAll()
}
