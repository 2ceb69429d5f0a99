// Package wake sends Wake-on-LAN packets for servers configured with a MAC
// address, so a sleeping target can be brought up before dialing.
package wake

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
	"github.com/shelldeck/shelldeck/internal/models"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WakeConfig, wait time.Duration) error
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("creating wol client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(ip.String()+":9", mac); err != nil {
		return fmt.Errorf("sending magic packet: %w", err)
	}
	return nil
}

// Impl implements the wake Service interface.
type Impl struct {
	client Client
	logger zerolog.Logger
}

// New creates a new wake service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{client: &DefaultClient{}, logger: logger}
}

// NewWithClient creates a new wake service with a custom client (for
// testing).
func NewWithClient(logger zerolog.Logger, client Client) *Impl {
	return &Impl{client: client, logger: logger}
}

// Wake sends a magic packet and then pauses for wait to give the target
// time to boot. A zero wait returns immediately after sending.
func (s *Impl) Wake(ctx context.Context, cfg models.WakeConfig, wait time.Duration) error {
	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
	}

	broadcast := cfg.BroadcastIP
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}

	s.logger.Info().
		Str("mac", cfg.MACAddress).
		Str("broadcast", broadcast).
		Msg("sending wake packet")

	if err := s.client.Wake(broadcast, mac); err != nil {
		return err
	}

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}
