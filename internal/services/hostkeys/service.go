// Package hostkeys implements the trust-on-first-use workflow that gates
// connection establishment on a known-hosts decision. The verification
// callback runs inside the SSH handshake, so an unseen key suspends the
// handshake until the decision surface answers.
package hostkeys

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/shelldeck/shelldeck/internal/services/knownhosts"
	"golang.org/x/crypto/ssh"
)

// Sentinel trust failures. The ssh library flattens callback errors into
// handshake error text, so classification also works on message substrings
// via IsTrustError.
var (
	ErrHostKeyMismatch = errors.New("host key mismatch")
	ErrHostKeyRejected = errors.New("host key rejected")
	ErrPromptAbandoned = errors.New("host key prompt abandoned")
	ErrNoPendingPrompt = errors.New("no pending host key prompt")
)

// IsTrustError reports whether err (possibly flattened by the ssh
// handshake) stems from a trust decision rather than transport or auth.
func IsTrustError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrHostKeyMismatch) || errors.Is(err, ErrHostKeyRejected) || errors.Is(err, ErrPromptAbandoned) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, ErrHostKeyMismatch.Error()) ||
		strings.Contains(msg, ErrHostKeyRejected.Error()) ||
		strings.Contains(msg, ErrPromptAbandoned.Error())
}

// Service defines the interface for host key verification and the
// accept/reject decision surface.
type Service interface {
	Callback(ctx context.Context, host string, port uint16) ssh.HostKeyCallback
	Accept(host string, port uint16) error
	Reject(host string, port uint16) error
	Pending() []string
}

// prompt is the ephemeral record of an outstanding first-use decision.
// At most one exists per host:port; concurrent connection attempts to the
// same endpoint join it and share the outcome.
type prompt struct {
	decided         chan struct{}
	accepted        bool
	waiters         int
	keyType         string
	fingerprint     string
	publicKeyBase64 string
}

// Verifier implements the trust workflow Service.
type Verifier struct {
	mu      sync.Mutex
	pending map[string]*prompt
	known   knownhosts.Service
	emitter events.Emitter
	logger  zerolog.Logger
}

// New creates a verifier backed by the known-hosts store.
func New(logger zerolog.Logger, known knownhosts.Service, emitter events.Emitter) *Verifier {
	return &Verifier{
		pending: make(map[string]*prompt),
		known:   known,
		emitter: emitter,
		logger:  logger,
	}
}

// Callback returns the ssh.HostKeyCallback for one connection attempt to
// (host, port). ctx cancellation abandons an outstanding prompt for this
// attempt; other attempts joined on the same prompt keep waiting.
func (v *Verifier) Callback(ctx context.Context, host string, port uint16) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		return v.verify(ctx, host, port, key)
	}
}

func (v *Verifier) verify(ctx context.Context, host string, port uint16, key ssh.PublicKey) error {
	keyType := key.Type()
	fingerprint := ssh.FingerprintSHA256(key)
	publicKeyBase64 := base64.StdEncoding.EncodeToString(key.Marshal())
	id := models.HostKeyID(host, port)

	if stored, ok := v.known.Find(host, port); ok {
		if stored.Fingerprint == fingerprint && stored.KeyType == keyType {
			v.logger.Debug().Str("host_key_id", id).Msg("host key matches pinned entry")
			return nil
		}
		// A differing key is a potential active attack, never a first-use
		// decision: surface it and deny without prompting.
		v.logger.Warn().
			Str("host_key_id", id).
			Str("stored_fingerprint", stored.Fingerprint).
			Str("presented_fingerprint", fingerprint).
			Msg("host key mismatch")
		v.emitter.Emit(events.HostKeyMismatch{
			Host:              host,
			Port:              port,
			KeyType:           keyType,
			Fingerprint:       fingerprint,
			StoredFingerprint: stored.Fingerprint,
		})
		return fmt.Errorf("%w for %s: stored %s, presented %s",
			ErrHostKeyMismatch, id, stored.Fingerprint, fingerprint)
	}

	v.mu.Lock()
	p, joined := v.pending[id]
	if !joined {
		p = &prompt{
			decided:         make(chan struct{}),
			keyType:         keyType,
			fingerprint:     fingerprint,
			publicKeyBase64: publicKeyBase64,
		}
		v.pending[id] = p
	}
	p.waiters++
	v.mu.Unlock()

	if joined {
		v.logger.Debug().Str("host_key_id", id).Msg("joining outstanding host key prompt")
	} else {
		v.logger.Info().
			Str("host_key_id", id).
			Str("fingerprint", fingerprint).
			Msg("unseen host key, prompting")
		v.emitter.Emit(events.HostKeyPrompt{
			Host:            host,
			Port:            port,
			KeyType:         keyType,
			Fingerprint:     fingerprint,
			PublicKeyBase64: publicKeyBase64,
		})
	}

	select {
	case <-p.decided:
		v.leave(id, p)
		if p.accepted {
			return nil
		}
		return fmt.Errorf("%w for %s", ErrHostKeyRejected, id)
	case <-ctx.Done():
		v.leave(id, p)
		return fmt.Errorf("%w for %s: %v", ErrPromptAbandoned, id, ctx.Err())
	}
}

// leave drops one waiter; the last waiter out removes an undecided prompt
// so an abandoned attempt does not leak a pending entry.
func (v *Verifier) leave(id string, p *prompt) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p.waiters--
	if current, ok := v.pending[id]; ok && current == p && p.waiters <= 0 {
		delete(v.pending, id)
	}
}

func (v *Verifier) resolve(host string, port uint16, accepted bool) (*prompt, error) {
	id := models.HostKeyID(host, port)

	v.mu.Lock()
	p, ok := v.pending[id]
	if !ok {
		v.mu.Unlock()
		return nil, fmt.Errorf("%w for %s", ErrNoPendingPrompt, id)
	}
	delete(v.pending, id)
	p.accepted = accepted
	close(p.decided)
	v.mu.Unlock()

	return p, nil
}

// Accept grants trust for an outstanding prompt: the key is pinned in the
// known-hosts store and every suspended handshake for this endpoint
// proceeds.
func (v *Verifier) Accept(host string, port uint16) error {
	p, err := v.resolve(host, port, true)
	if err != nil {
		return err
	}
	if err := v.known.Trust(host, port, p.keyType, p.fingerprint, p.publicKeyBase64); err != nil {
		// The human decision stands; the suspended handshakes were already
		// released. Surface the persistence failure to the decision caller.
		v.logger.Error().Err(err).
			Str("host_key_id", models.HostKeyID(host, port)).
			Msg("failed to persist trusted host key")
		return fmt.Errorf("persisting trusted host key: %w", err)
	}
	return nil
}

// Reject denies trust for an outstanding prompt; every suspended handshake
// for this endpoint fails.
func (v *Verifier) Reject(host string, port uint16) error {
	_, err := v.resolve(host, port, false)
	return err
}

// Pending returns the host:port ids with outstanding prompts.
func (v *Verifier) Pending() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, 0, len(v.pending))
	for id := range v.pending {
		ids = append(ids, id)
	}
	return ids
}
