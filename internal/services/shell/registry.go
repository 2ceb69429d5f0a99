package shell

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
	"golang.org/x/crypto/ssh"
)

// Session is the subset of ssh.Session used to set up a PTY shell.
// *ssh.Session satisfies it.
type Session interface {
	RequestPty(term string, h, w int, modes ssh.TerminalModes) error
	Shell() error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	WindowChange(h, w int) error
	Wait() error
	Close() error
}

// Handle routes commands to a live shell actor. It never exposes the
// underlying channel.
type Handle struct {
	ID       string
	ServerID string
	commands chan Command
	done     chan struct{}
}

// Registry maps shell id -> command-sending handle. The mutex covers map
// access only, never channel I/O.
type Registry struct {
	mu      sync.Mutex
	shells  map[string]*Handle
	emitter events.Emitter
	logger  zerolog.Logger
}

// NewRegistry creates an empty shell registry.
func NewRegistry(logger zerolog.Logger, emitter events.Emitter) *Registry {
	return &Registry{
		shells:  make(map[string]*Handle),
		emitter: emitter,
		logger:  logger,
	}
}

// sshChannel adapts a PTY session plus its stdin pipe to the actor's
// Channel interface.
type sshChannel struct {
	sess  Session
	stdin io.WriteCloser
}

func (c *sshChannel) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshChannel) WindowChange(h, w int) error { return c.sess.WindowChange(h, w) }

func (c *sshChannel) Close() error {
	_ = c.stdin.Close()
	return c.sess.Close()
}

// Open allocates a PTY with the requested geometry, starts the remote
// shell and spawns the owning actor. It returns the new shell id.
func (r *Registry) Open(sess Session, cfg models.PtyConfig, serverID string) (string, error) {
	stdin, err := sess.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("opening stdout pipe: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty(cfg.Term, int(cfg.Height), int(cfg.Width), modes); err != nil {
		return "", fmt.Errorf("requesting pty: %w", err)
	}
	if err := sess.Shell(); err != nil {
		return "", fmt.Errorf("starting shell: %w", err)
	}

	data := make(chan []byte, 64)
	exit := make(chan uint32, 1)
	h := r.spawn(serverID, &sshChannel{sess: sess, stdin: stdin}, data, exit)

	// Pump remote output into the actor's data channel, preserving arrival
	// order. Once the actor is gone the pump stops consuming instead of
	// buffering into a channel nobody reads.
	go func() {
		defer close(data)
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				select {
				case <-h.done:
					return
				default:
				}
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case data <- chunk:
				case <-h.done:
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Report the remote exit status once the session ends.
	go func() {
		err := sess.Wait()
		var code uint32
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			code = uint32(exitErr.ExitStatus())
		}
		exit <- code
	}()

	return h.ID, nil
}

// spawn registers a handle and starts the actor goroutine that owns ch for
// its lifetime.
func (r *Registry) spawn(serverID string, ch Channel, data <-chan []byte, exit <-chan uint32) *Handle {
	h := &Handle{
		ID:       uuid.NewString(),
		ServerID: serverID,
		commands: make(chan Command, 64),
		done:     make(chan struct{}),
	}

	r.mu.Lock()
	r.shells[h.ID] = h
	r.mu.Unlock()

	a := &actor{
		id:       h.ID,
		serverID: serverID,
		ch:       ch,
		commands: h.commands,
		data:     data,
		exit:     exit,
		emitter:  r.emitter,
		registry: r,
		logger:   r.logger,
		done:     h.done,
	}
	go a.run()

	return h
}

func (r *Registry) lookup(shellID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.shells[shellID]
	if !ok {
		return nil, fmt.Errorf("shell %q not found", shellID)
	}
	return h, nil
}

func (r *Registry) remove(shellID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shells, shellID)
}

// send delivers a command unless the shell has already terminated.
func (r *Registry) send(shellID string, cmd Command) error {
	h, err := r.lookup(shellID)
	if err != nil {
		return err
	}
	select {
	case h.commands <- cmd:
		return nil
	case <-h.done:
		return fmt.Errorf("shell %q is closed", shellID)
	}
}

// SendInput queues input bytes for delivery to the remote shell, FIFO with
// every other command sent to this shell.
func (r *Registry) SendInput(shellID string, input []byte) error {
	data := make([]byte, len(input))
	copy(data, input)
	return r.send(shellID, SendInput{Data: data})
}

// Resize queues a window-change request.
func (r *Registry) Resize(shellID string, width, height uint32) error {
	return r.send(shellID, Resize{Width: width, Height: height})
}

// Close asks the shell actor to terminate. The shell is deregistered
// immediately: once Close returns, further sends to this id fail rather
// than queueing behind a shutdown.
func (r *Registry) Close(shellID string) error {
	r.mu.Lock()
	h, ok := r.shells[shellID]
	if ok {
		delete(r.shells, shellID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("shell %q not found", shellID)
	}

	select {
	case h.commands <- Close{}:
	case <-h.done:
	}
	return nil
}

// ShellsFor lists the shell ids currently open for a server.
func (r *Registry) ShellsFor(serverID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, h := range r.shells {
		if h.ServerID == serverID {
			ids = append(ids, id)
		}
	}
	return ids
}

// CloseAllFor terminates every shell belonging to a server, waiting up to
// timeout overall for the actors to stop. A non-responding actor does not
// block the disconnect beyond the deadline.
func (r *Registry) CloseAllFor(serverID string, timeout time.Duration) {
	r.mu.Lock()
	var handles []*Handle
	for id, h := range r.shells {
		if h.ServerID == serverID {
			handles = append(handles, h)
			delete(r.shells, id)
		}
	}
	r.mu.Unlock()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, h := range handles {
		select {
		case h.commands <- Close{}:
		case <-h.done:
		case <-deadline.C:
			r.logger.Warn().
				Str("server_id", serverID).
				Str("shell_id", h.ID).
				Msg("timed out delivering close to shell")
			return
		}
	}
	for _, h := range handles {
		select {
		case <-h.done:
		case <-deadline.C:
			r.logger.Warn().
				Str("server_id", serverID).
				Str("shell_id", h.ID).
				Msg("timed out waiting for shell to stop")
			return
		}
	}
}
