// Package events defines the signals the core emits toward a frontend and
// a small fan-out bus for delivering them.
package events

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
)

// Event is implemented by every signal the core emits.
type Event interface {
	// Name returns the wire name of the signal.
	Name() string
}

// ConnectionState reports a lifecycle transition. ServerID is set once a
// connect attempt has an identity, ShellID once a PTY has been opened.
type ConnectionState struct {
	ServerID string           `json:"server_id,omitempty"`
	ShellID  string           `json:"shell_id,omitempty"`
	State    models.ConnState `json:"state"`
	Message  string           `json:"message,omitempty"`
}

func (ConnectionState) Name() string { return "connection-state" }

// TerminalOutput carries one chunk of shell output, in arrival order, never
// interleaved with another shell's output.
type TerminalOutput struct {
	ShellID string `json:"shell_id"`
	Data    string `json:"output"`
}

func (TerminalOutput) Name() string { return "terminal-output" }

// HostKeyPrompt asks the decision surface to accept or reject a key seen
// for the first time.
type HostKeyPrompt struct {
	Host            string `json:"host"`
	Port            uint16 `json:"port"`
	KeyType         string `json:"key_type"`
	Fingerprint     string `json:"fingerprint"`
	PublicKeyBase64 string `json:"public_key_base64"`
}

func (HostKeyPrompt) Name() string { return "host-key-prompt" }

// HostKeyMismatch reports that a host presented a key differing from the
// pinned one. This is never auto-trusted.
type HostKeyMismatch struct {
	Host              string `json:"host"`
	Port              uint16 `json:"port"`
	KeyType           string `json:"key_type"`
	Fingerprint       string `json:"fingerprint"`
	StoredFingerprint string `json:"stored_fingerprint"`
}

func (HostKeyMismatch) Name() string { return "host-key-mismatch" }

// Emitter delivers events to whoever is listening.
type Emitter interface {
	Emit(ev Event)
}

// Bus is an in-process Emitter fanning events out to subscribers. Emit
// never blocks: a subscriber that cannot keep up has events dropped.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	logger zerolog.Logger
}

// NewBus creates an event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger,
	}
}

// Subscribe registers a listener. The returned cancel func removes it and
// closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 256)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Emit delivers ev to all subscribers without blocking.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Warn().
				Int("subscriber", id).
				Str("event", ev.Name()).
				Msg("subscriber queue full, dropping event")
		}
	}
}
