package models

import "time"

// AppConfig holds the complete configuration for a shelldeck run.
type AppConfig struct {
	// DataDir is where servers.json, known_hosts.json, snippets.toml and
	// the vault live.
	DataDir string

	// VaultKeyFile is the path to the vault key material.
	VaultKeyFile string

	// Pty is the default terminal geometry for new shells.
	Pty PtyConfig

	// DialTimeout bounds TCP connect and SSH handshake establishment. It
	// does not bound the host-key prompt, which is unbounded by design.
	DialTimeout time.Duration

	// DisconnectTimeout bounds graceful shutdown of a session and its
	// shells.
	DisconnectTimeout time.Duration

	// WakeWait is how long to pause after sending a Wake-on-LAN packet
	// before dialing, for servers that have wake settings.
	WakeWait time.Duration
}
