// Package session owns zero-or-one live SSH session per server id and
// drives the connect / authenticate / disconnect lifecycle.
package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/credentials"
	"github.com/shelldeck/shelldeck/internal/services/hostkeys"
	"github.com/shelldeck/shelldeck/internal/services/shell"
	"github.com/shelldeck/shelldeck/internal/services/wake"
	"golang.org/x/crypto/ssh"
)

// Client wraps ssh.Client for mocking.
type Client interface {
	NewShellSession() (shell.Session, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(ctx context.Context, addr string, config *ssh.ClientConfig) (Client, error)
}

// DefaultClientFactory dials over TCP and runs the SSH handshake. The
// handshake has no deadline of its own: a host-key prompt may suspend it
// for as long as the human takes, bounded only by ctx.
type DefaultClientFactory struct {
	Dialer net.Dialer
}

// NewClient establishes a client connection to addr.
func (f *DefaultClientFactory) NewClient(ctx context.Context, addr string, config *ssh.ClientConfig) (Client, error) {
	dialer := f.Dialer
	dialer.Timeout = config.Timeout

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}

	// The ssh handshake takes no context of its own; closing the transport
	// on cancellation is what aborts it, so a peer that accepts TCP and
	// then stalls cannot block the attempt past ctx.
	handshakeDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-handshakeDone:
		}
	}()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	close(handshakeDone)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &defaultClient{client: ssh.NewClient(sshConn, chans, reqs)}, nil
}

type defaultClient struct {
	client *ssh.Client
}

func (c *defaultClient) NewShellSession() (shell.Session, error) {
	return c.client.NewSession()
}

func (c *defaultClient) Close() error {
	return c.client.Close()
}

// RecordWriter persists server records. Needed so a migrated record (inline
// secret replaced by a vault reference) reaches disk.
type RecordWriter interface {
	UpsertServer(server models.ServerConnection) error
}

// Service defines the interface for session lifecycle operations.
type Service interface {
	Connect(ctx context.Context, server models.ServerConnection) (shellID string, err error)
	OpenShell(serverID string, cfg models.PtyConfig) (shellID string, err error)
	Disconnect(serverID string) error
	DisconnectAll()
	Connected(serverID string) bool
}

// Registry implements the session Service. The mutex guards the session
// map only; no network I/O happens under it.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Client

	factory ClientFactory
	creds   credentials.Service
	keys    hostkeys.Service
	wake    wake.Service
	shells  *shell.Registry
	records RecordWriter
	emitter events.Emitter
	logger  zerolog.Logger
	cfg     models.AppConfig
}

// New creates a session registry.
func New(
	logger zerolog.Logger,
	cfg models.AppConfig,
	creds credentials.Service,
	keys hostkeys.Service,
	wakeSvc wake.Service,
	shells *shell.Registry,
	records RecordWriter,
	emitter events.Emitter,
) *Registry {
	return &Registry{
		sessions: make(map[string]Client),
		factory:  &DefaultClientFactory{},
		creds:    creds,
		keys:     keys,
		wake:     wakeSvc,
		shells:   shells,
		records:  records,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
	}
}

// NewWithFactory creates a session registry with a custom client factory
// (for testing).
func NewWithFactory(
	logger zerolog.Logger,
	cfg models.AppConfig,
	factory ClientFactory,
	creds credentials.Service,
	keys hostkeys.Service,
	wakeSvc wake.Service,
	shells *shell.Registry,
	records RecordWriter,
	emitter events.Emitter,
) *Registry {
	r := New(logger, cfg, creds, keys, wakeSvc, shells, records, emitter)
	r.factory = factory
	return r
}

// Connected reports whether a live session exists for the server.
func (r *Registry) Connected(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[serverID]
	return ok
}

// reserve claims the server id for a connect attempt so two concurrent
// connects cannot race past the exists check.
func (r *Registry) reserve(serverID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[serverID]; ok {
		return fmt.Errorf("server %q is already connected, disconnect first", serverID)
	}
	r.sessions[serverID] = nil
	return nil
}

func (r *Registry) release(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[serverID]; ok && c == nil {
		delete(r.sessions, serverID)
	}
}

func (r *Registry) emitError(serverID, msg string) {
	r.emitter.Emit(events.ConnectionState{
		ServerID: serverID,
		State:    models.StateError,
		Message:  msg,
	})
}

// Connect establishes a session for the server and opens its first PTY
// shell, returning the shell id. The host-key trust decision happens
// inside the handshake; authentication uses the resolved credential.
func (r *Registry) Connect(ctx context.Context, server models.ServerConnection) (string, error) {
	if err := r.reserve(server.ID); err != nil {
		return "", err
	}

	shellID, err := r.connect(ctx, server)
	if err != nil {
		r.release(server.ID)
		return "", err
	}
	return shellID, nil
}

func (r *Registry) connect(ctx context.Context, server models.ServerConnection) (string, error) {
	logger := r.logger.With().Str("server_id", server.ID).Str("addr", server.Addr()).Logger()

	// Migrate a legacy inline secret before anything else so plaintext
	// never outlives this attempt on disk.
	if server.Auth.IsLegacy() {
		changed, err := r.creds.Migrate(&server)
		if err != nil {
			msg := fmt.Sprintf("credential migration failed: %v", err)
			r.emitError(server.ID, msg)
			return "", fmt.Errorf("migrating credential: %w", err)
		}
		if changed {
			if err := r.records.UpsertServer(server); err != nil {
				logger.Warn().Err(err).Msg("failed to persist migrated server record")
			}
		}
	}

	if server.Wake != nil {
		if err := r.wake.Wake(ctx, *server.Wake, r.cfg.WakeWait); err != nil {
			// The host may simply already be up.
			logger.Warn().Err(err).Msg("wake-on-lan failed, dialing anyway")
		}
	}

	r.emitter.Emit(events.ConnectionState{
		ServerID: server.ID,
		State:    models.StateConnecting,
	})
	logger.Info().Str("user", server.User).Msg("connecting")

	secret, kind, err := r.creds.Resolve(server.Auth)
	if err != nil {
		msg := fmt.Sprintf("credential resolution failed: %v", err)
		r.emitError(server.ID, msg)
		return "", fmt.Errorf("resolving credential: %w", err)
	}

	auth, err := buildAuthMethod(secret, kind)
	if err != nil {
		msg := fmt.Sprintf("authentication setup failed: %v", err)
		r.emitError(server.ID, msg)
		return "", err
	}

	config := &ssh.ClientConfig{
		User:            server.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: r.keys.Callback(ctx, server.Host, server.Port),
		Timeout:         r.cfg.DialTimeout,
	}

	client, err := r.factory.NewClient(ctx, server.Addr(), config)
	if err != nil {
		msg := classifyConnectError(err)
		r.emitError(server.ID, msg)
		logger.Warn().Err(err).Msg("connect failed")
		return "", fmt.Errorf("%s", msg)
	}

	r.mu.Lock()
	r.sessions[server.ID] = client
	r.mu.Unlock()

	shellID, err := r.openShell(client, server.ID, r.cfg.Pty)
	if err != nil {
		r.teardown(server.ID)
		msg := fmt.Sprintf("opening shell failed: %v", err)
		r.emitError(server.ID, msg)
		return "", err
	}

	r.emitter.Emit(events.ConnectionState{
		ServerID: server.ID,
		ShellID:  shellID,
		State:    models.StateConnected,
	})
	logger.Info().Str("shell_id", shellID).Msg("connected")
	return shellID, nil
}

// buildAuthMethod maps a resolved secret to the ssh auth method for its
// kind. The kind set is closed; this switch is the one place resolution
// happens.
func buildAuthMethod(secret string, kind models.SecretKind) (ssh.AuthMethod, error) {
	switch kind {
	case models.SecretKindPassword:
		return ssh.Password(secret), nil
	case models.SecretKindPrivateKey:
		signer, err := ssh.ParsePrivateKey([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		return ssh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unknown secret kind %q", kind)
	}
}

// classifyConnectError distinguishes trust, authentication and transport
// failures in the reported message. None are retried here; retry is a
// frontend decision.
func classifyConnectError(err error) string {
	switch {
	case hostkeys.IsTrustError(err):
		return fmt.Sprintf("host key verification failed: %v", err)
	case strings.Contains(err.Error(), "unable to authenticate"):
		return fmt.Sprintf("authentication failed: %v", err)
	default:
		return fmt.Sprintf("connection failed: %v", err)
	}
}

// OpenShell opens an additional PTY shell on an existing session.
func (r *Registry) OpenShell(serverID string, cfg models.PtyConfig) (string, error) {
	r.mu.Lock()
	client, ok := r.sessions[serverID]
	r.mu.Unlock()
	if !ok || client == nil {
		return "", fmt.Errorf("no session for server %q", serverID)
	}

	shellID, err := r.openShell(client, serverID, cfg)
	if err != nil {
		return "", err
	}
	r.emitter.Emit(events.ConnectionState{
		ServerID: serverID,
		ShellID:  shellID,
		State:    models.StateConnected,
	})
	return shellID, nil
}

func (r *Registry) openShell(client Client, serverID string, cfg models.PtyConfig) (string, error) {
	if cfg.Term == "" {
		cfg = models.DefaultPtyConfig()
	}
	sess, err := client.NewShellSession()
	if err != nil {
		return "", fmt.Errorf("opening channel: %w", err)
	}
	shellID, err := r.shells.Open(sess, cfg, serverID)
	if err != nil {
		_ = sess.Close()
		return "", err
	}
	return shellID, nil
}

func (r *Registry) teardown(serverID string) {
	r.mu.Lock()
	client := r.sessions[serverID]
	delete(r.sessions, serverID)
	r.mu.Unlock()

	if client != nil {
		_ = client.Close()
	}
}

// Disconnect closes the server's shells and transport. Graceful shutdown
// is bounded by the configured disconnect timeout; Disconnected is emitted
// regardless of whether it completed.
func (r *Registry) Disconnect(serverID string) error {
	r.mu.Lock()
	client, ok := r.sessions[serverID]
	if ok && client == nil {
		// A nil entry is a connect attempt still inside the handshake.
		// Deleting it here would let the attempt re-register after we
		// reported Disconnected.
		r.mu.Unlock()
		return fmt.Errorf("connect for server %q is still in progress", serverID)
	}
	delete(r.sessions, serverID)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("no session for server %q", serverID)
	}

	r.shells.CloseAllFor(serverID, r.cfg.DisconnectTimeout)

	if client != nil {
		if err := client.Close(); err != nil {
			r.logger.Warn().Err(err).Str("server_id", serverID).Msg("transport close failed")
		}
	}

	r.emitter.Emit(events.ConnectionState{
		ServerID: serverID,
		State:    models.StateDisconnected,
	})
	r.logger.Info().Str("server_id", serverID).Msg("disconnected")
	return nil
}

// DisconnectAll tears down every live session, for shutdown.
func (r *Registry) DisconnectAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		if err := r.Disconnect(id); err != nil {
			r.logger.Debug().Err(err).Str("server_id", id).Msg("disconnect during shutdown")
		}
	}
}
