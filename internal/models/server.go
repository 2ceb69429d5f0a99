// Package models contains the data structures used throughout shelldeck.
package models

import "fmt"

// AuthType discriminates the variants of AuthMethod.
type AuthType string

const (
	// AuthTypePassword is a legacy inline password. Records carrying it are
	// migrated to AuthTypeSecretRef before first use.
	AuthTypePassword AuthType = "Password"
	// AuthTypeKey is a legacy inline private key, migrated like passwords.
	AuthTypeKey AuthType = "Key"
	// AuthTypeSecretRef references a secret held in the vault.
	AuthTypeSecretRef AuthType = "SecretRef"
)

// SecretKind says how a resolved secret is used during authentication.
type SecretKind string

const (
	SecretKindPassword   SecretKind = "password"
	SecretKindPrivateKey SecretKind = "private_key"
)

// AuthMethod is a closed tagged variant. Exactly one payload field is
// populated depending on Type. The JSON shape is backward compatible with
// records written before secret migration existed.
type AuthMethod struct {
	Type       AuthType   `json:"type"`
	Password   string     `json:"password,omitempty"`
	PrivateKey string     `json:"private_key,omitempty"`
	SecretID   string     `json:"secret_id,omitempty"`
	Kind       SecretKind `json:"kind,omitempty"`
}

// IsLegacy reports whether the auth method still carries an inline secret.
func (a AuthMethod) IsLegacy() bool {
	return a.Type == AuthTypePassword || a.Type == AuthTypeKey
}

// Validate checks the variant invariants.
func (a AuthMethod) Validate() error {
	switch a.Type {
	case AuthTypePassword:
		if a.Password == "" {
			return fmt.Errorf("password auth requires a password")
		}
	case AuthTypeKey:
		if a.PrivateKey == "" {
			return fmt.Errorf("key auth requires a private key")
		}
	case AuthTypeSecretRef:
		if a.SecretID == "" {
			return fmt.Errorf("secret ref auth requires a secret id")
		}
		if a.Kind != SecretKindPassword && a.Kind != SecretKindPrivateKey {
			return fmt.Errorf("secret ref auth has unknown kind %q", a.Kind)
		}
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	return nil
}

// WakeConfig holds optional Wake-on-LAN settings for a server.
type WakeConfig struct {
	MACAddress  string `json:"mac_address"`
	BroadcastIP string `json:"broadcast_ip,omitempty"`
}

// ServerConnection is a stored server record. ID is a stable opaque
// identifier; the endpoint may change without changing identity.
type ServerConnection struct {
	ID       string      `json:"id"`
	Nickname string      `json:"nickname,omitempty"`
	Host     string      `json:"host"`
	Port     uint16      `json:"port"`
	User     string      `json:"user"`
	Auth     AuthMethod  `json:"auth"`
	Wake     *WakeConfig `json:"wake,omitempty"`
}

// Addr returns the dial address for the server.
func (s ServerConnection) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
