// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/spf13/viper"
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// Default returns the configuration used when no config file is given.
func Default() *models.AppConfig {
	cfg := &models.AppConfig{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *models.AppConfig) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			cfg.DataDir = ".shelldeck"
		} else {
			cfg.DataDir = filepath.Join(home, ".shelldeck")
		}
	}
	if cfg.VaultKeyFile == "" {
		cfg.VaultKeyFile = filepath.Join(cfg.DataDir, "vault.key")
	}
	if cfg.Pty.Term == "" {
		cfg.Pty = models.DefaultPtyConfig()
	}
	if cfg.Pty.Width == 0 {
		cfg.Pty.Width = 80
	}
	if cfg.Pty.Height == 0 {
		cfg.Pty.Height = 24
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	if cfg.DisconnectTimeout == 0 {
		cfg.DisconnectTimeout = 2 * time.Second
	}
	if cfg.WakeWait == 0 {
		cfg.WakeWait = 10 * time.Second
	}
}

func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{
		DataDir:           os.ExpandEnv(p.v.GetString("data_dir")),
		VaultKeyFile:      os.ExpandEnv(p.v.GetString("vault.key_file")),
		DialTimeout:       p.v.GetDuration("timeouts.dial"),
		DisconnectTimeout: p.v.GetDuration("timeouts.disconnect"),
		WakeWait:          p.v.GetDuration("timeouts.wake_wait"),
	}

	if p.v.IsSet("pty") {
		cfg.Pty = models.PtyConfig{
			Term:   p.v.GetString("pty.term"),
			Width:  p.v.GetUint32("pty.width"),
			Height: p.v.GetUint32("pty.height"),
		}
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if cfg.Pty.Width == 0 || cfg.Pty.Height == 0 {
		return fmt.Errorf("pty.width and pty.height must be positive")
	}
	if cfg.DisconnectTimeout <= 0 {
		return fmt.Errorf("timeouts.disconnect must be positive")
	}
	return nil
}
