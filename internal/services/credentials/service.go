// Package credentials resolves stored authentication references to usable
// secrets and migrates legacy inline secrets into the vault.
package credentials

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/vault"
)

// Service defines the interface for credential resolution.
type Service interface {
	Resolve(auth models.AuthMethod) (secret string, kind models.SecretKind, err error)
	Migrate(server *models.ServerConnection) (changed bool, err error)
	DeleteFor(server models.ServerConnection)
}

// Impl implements the credentials Service interface.
type Impl struct {
	vault  vault.Service
	logger zerolog.Logger
}

// New creates a new credentials service.
func New(logger zerolog.Logger, v vault.Service) *Impl {
	return &Impl{vault: v, logger: logger}
}

// SecretID derives the vault id for a server's secret. It is deterministic
// in the server id and secret kind so migration and deletion agree.
func SecretID(serverID string, kind models.SecretKind) string {
	return fmt.Sprintf("server:%s:%s", serverID, kind)
}

// Resolve maps an auth method to its plaintext secret and kind. Legacy
// inline variants resolve without touching the vault; they are expected to
// be migrated before the record is persisted again.
func (s *Impl) Resolve(auth models.AuthMethod) (string, models.SecretKind, error) {
	switch auth.Type {
	case models.AuthTypePassword:
		return auth.Password, models.SecretKindPassword, nil
	case models.AuthTypeKey:
		return auth.PrivateKey, models.SecretKindPrivateKey, nil
	case models.AuthTypeSecretRef:
		secret, err := s.vault.Get(auth.SecretID)
		if err != nil {
			return "", "", fmt.Errorf("resolving secret %s: %w", auth.SecretID, err)
		}
		return secret, auth.Kind, nil
	default:
		return "", "", fmt.Errorf("unknown auth type %q", auth.Type)
	}
}

// Migrate moves a legacy inline secret into the vault and rewrites
// server.Auth to reference it. Idempotent: a record already carrying a
// SecretRef is left untouched.
func (s *Impl) Migrate(server *models.ServerConnection) (bool, error) {
	if !server.Auth.IsLegacy() {
		return false, nil
	}

	var secret string
	var kind models.SecretKind
	switch server.Auth.Type {
	case models.AuthTypePassword:
		secret, kind = server.Auth.Password, models.SecretKindPassword
	case models.AuthTypeKey:
		secret, kind = server.Auth.PrivateKey, models.SecretKindPrivateKey
	default:
		return false, fmt.Errorf("unknown legacy auth type %q", server.Auth.Type)
	}

	id := SecretID(server.ID, kind)
	if err := s.vault.Put(id, secret); err != nil {
		return false, fmt.Errorf("storing migrated secret: %w", err)
	}

	server.Auth = models.AuthMethod{
		Type:     models.AuthTypeSecretRef,
		SecretID: id,
		Kind:     kind,
	}

	s.logger.Info().
		Str("server_id", server.ID).
		Str("kind", string(kind)).
		Msg("migrated inline secret to vault")
	return true, nil
}

// DeleteFor removes the secrets associated with a server. Failures are
// logged, not returned: vault unavailability must not block removing the
// server record.
func (s *Impl) DeleteFor(server models.ServerConnection) {
	ids := []string{
		SecretID(server.ID, models.SecretKindPassword),
		SecretID(server.ID, models.SecretKindPrivateKey),
	}
	if server.Auth.Type == models.AuthTypeSecretRef && server.Auth.SecretID != "" {
		ids = append(ids, server.Auth.SecretID)
	}

	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := s.vault.Delete(id); err != nil {
			s.logger.Warn().
				Err(err).
				Str("server_id", server.ID).
				Str("secret_id", id).
				Msg("failed to delete secret for removed server")
		}
	}
}
