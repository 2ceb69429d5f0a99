// Package shell runs one actor goroutine per open PTY shell. The actor
// exclusively owns its channel: every other component talks to the shell by
// sending commands through the registry.
package shell

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
)

// Command is a closed variant of requests a shell actor accepts. Commands
// are applied in the order sent.
type Command interface {
	isCommand()
}

// SendInput writes bytes to the remote shell.
type SendInput struct {
	Data []byte
}

// Resize forwards a window-change request to the remote PTY.
type Resize struct {
	Width  uint32
	Height uint32
}

// Close terminates the shell.
type Close struct{}

func (SendInput) isCommand() {}
func (Resize) isCommand()    {}
func (Close) isCommand()     {}

// Channel is the subset of PTY channel operations the actor drives.
type Channel interface {
	Write(p []byte) (int, error)
	WindowChange(height, width int) error
	Close() error
}

type actor struct {
	id       string
	serverID string
	ch       Channel
	commands <-chan Command
	data     <-chan []byte
	exit     <-chan uint32
	emitter  events.Emitter
	registry *Registry
	logger   zerolog.Logger
	done     chan struct{}
}

// run is the actor event loop: a single task multiplexing inbound remote
// data against inbound commands, race-free between the two.
func (a *actor) run() {
	defer func() {
		_ = a.ch.Close()
		a.registry.remove(a.id)
		a.emitter.Emit(events.ConnectionState{
			ServerID: a.serverID,
			ShellID:  a.id,
			State:    models.StateDisconnected,
		})
		close(a.done)
		a.logger.Debug().Str("shell_id", a.id).Msg("shell actor stopped")
	}()

	a.logger.Debug().Str("shell_id", a.id).Msg("shell actor started")

	for {
		select {
		case data, ok := <-a.data:
			if !ok {
				// Remote output stream ended; the exit notification (or a
				// Close command) terminates the loop.
				a.data = nil
				continue
			}
			a.emitOutput(data)

		case code := <-a.exit:
			a.drainOutput()
			a.emitter.Emit(events.TerminalOutput{
				ShellID: a.id,
				Data:    fmt.Sprintf("\r\n\r\nConnection closed (exit code: %d)\r\n", code),
			})
			a.logger.Debug().
				Str("shell_id", a.id).
				Uint32("exit_status", code).
				Msg("shell closed with exit status")
			return

		case cmd, ok := <-a.commands:
			if !ok {
				return
			}
			switch c := cmd.(type) {
			case SendInput:
				if _, err := a.ch.Write(c.Data); err != nil {
					// Surface the failure where the user is looking instead
					// of letting the shell go silently quiet.
					a.logger.Warn().Err(err).Str("shell_id", a.id).Msg("input write failed")
					a.emitter.Emit(events.TerminalOutput{
						ShellID: a.id,
						Data:    fmt.Sprintf("\r\n[input write failed: %v]\r\n", err),
					})
				}
			case Resize:
				if err := a.ch.WindowChange(int(c.Height), int(c.Width)); err != nil {
					// A failed resize should not kill an otherwise healthy
					// shell.
					a.logger.Warn().Err(err).Str("shell_id", a.id).Msg("resize failed")
				}
			case Close:
				return
			}
		}
	}
}

// drainOutput flushes output that arrived before the exit notification so
// final shell output is not lost on close.
func (a *actor) drainOutput() {
	if a.data == nil {
		return
	}
	for {
		select {
		case data, ok := <-a.data:
			if !ok {
				return
			}
			a.emitOutput(data)
		default:
			return
		}
	}
}

// emitOutput forwards one chunk of remote data, in arrival order. Invalid
// UTF-8 sequences are dropped from display rather than crashing or
// mangling the stream.
func (a *actor) emitOutput(data []byte) {
	if !utf8.Valid(data) {
		data = bytes.ToValidUTF8(data, nil)
	}
	if len(data) == 0 {
		return
	}
	a.emitter.Emit(events.TerminalOutput{ShellID: a.id, Data: string(data)})
}
