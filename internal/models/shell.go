package models

// PtyConfig holds the terminal parameters requested for a PTY shell.
type PtyConfig struct {
	Term   string `json:"term"`
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

// DefaultPtyConfig returns the default PTY parameters.
func DefaultPtyConfig() PtyConfig {
	return PtyConfig{
		Term:   "xterm-256color",
		Width:  80,
		Height: 24,
	}
}

// ConnState is the lifecycle state of a connection or shell.
type ConnState string

const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
	StateError        ConnState = "error"
)
