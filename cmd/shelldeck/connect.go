package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/shelldeck/shelldeck/internal/app"
	"github.com/shelldeck/shelldeck/internal/events"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var connectCmd = &cobra.Command{
	Use:   "connect <server-id|nickname>",
	Short: "Open an interactive shell on a saved server",
	Long: `Connect to a saved server and attach the local terminal to a remote
PTY shell. On first contact the server's host key fingerprint is shown and
must be accepted before the connection proceeds.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	evs, unsubscribe := a.Events().Subscribe()
	defer unsubscribe()

	// Host-key prompts arrive while Connect is suspended inside the
	// handshake, so they are answered from the event loop.
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeEvents(a, evs)
	}()

	shellID, err := a.Connect(ctx, args[0])
	if err != nil {
		log.Error().Err(err).Msg("connect failed")
		return err
	}

	if err := attachTerminal(ctx, a, shellID); err != nil {
		return err
	}

	unsubscribe()
	<-done
	return nil
}

// consumeEvents renders signals on the local terminal: shell output goes to
// stdout, host-key decisions are answered interactively.
func consumeEvents(a *app.App, evs <-chan events.Event) {
	stdin := bufio.NewReader(os.Stdin)
	for ev := range evs {
		switch e := ev.(type) {
		case events.TerminalOutput:
			fmt.Print(e.Data)
		case events.HostKeyPrompt:
			fmt.Fprintf(os.Stderr, "\nThe authenticity of host %s:%d can't be established.\n", e.Host, e.Port)
			fmt.Fprintf(os.Stderr, "%s key fingerprint is %s.\n", e.KeyType, e.Fingerprint)
			fmt.Fprint(os.Stderr, "Are you sure you want to continue connecting (yes/no)? ")
			answer, _ := stdin.ReadString('\n')
			if strings.TrimSpace(strings.ToLower(answer)) == "yes" {
				if err := a.TrustHostKey(e.Host, e.Port); err != nil {
					log.Error().Err(err).Msg("failed to record trust decision")
				}
			} else {
				if err := a.RejectHostKey(e.Host, e.Port); err != nil {
					log.Error().Err(err).Msg("failed to record reject decision")
				}
			}
		case events.HostKeyMismatch:
			fmt.Fprintf(os.Stderr, "\nWARNING: host key for %s:%d has changed!\n", e.Host, e.Port)
			fmt.Fprintf(os.Stderr, "stored fingerprint:    %s\n", e.StoredFingerprint)
			fmt.Fprintf(os.Stderr, "presented fingerprint: %s\n", e.Fingerprint)
		case events.ConnectionState:
			if e.State == models.StateError {
				fmt.Fprintf(os.Stderr, "\nconnection error: %s\n", e.Message)
			}
		}
	}
}

// attachTerminal puts the local terminal in raw mode and bridges stdin to
// the shell until the remote side closes or the context is canceled.
func attachTerminal(ctx context.Context, a *app.App, shellID string) error {
	// Watch for the shell's own Disconnected event so the attach ends when
	// the remote side closes, not only on local input.
	stateEvs, cancelStates := a.Events().Subscribe()
	defer cancelStates()
	shellGone := make(chan struct{})
	go func() {
		for ev := range stateEvs {
			if st, ok := ev.(events.ConnectionState); ok &&
				st.ShellID == shellID && st.State == models.StateDisconnected {
				close(shellGone)
				return
			}
		}
	}()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		oldState, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("entering raw mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, oldState) }()

		if w, h, err := term.GetSize(fd); err == nil {
			_ = a.Resize(shellID, uint32(w), uint32(h))
		}
	}

	// Track terminal resizes.
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			if w, h, err := term.GetSize(fd); err == nil {
				_ = a.Resize(shellID, uint32(w), uint32(h))
			}
		}
	}()

	// Pump local keystrokes into the shell. The pump stops on stdin EOF or
	// once the shell is gone and SendInput starts failing.
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if sendErr := a.SendInput(shellID, buf[:n]); sendErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = a.CloseShell(shellID)
	case <-inputDone:
		_ = a.CloseShell(shellID)
	case <-shellGone:
	}
	return nil
}
