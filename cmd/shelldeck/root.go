package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shelldeck/shelldeck/internal/app"
	"github.com/shelldeck/shelldeck/internal/config"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "shelldeck",
	Short: "An interactive SSH client backend and terminal",
	Long: `shelldeck manages SSH servers and interactive PTY shells:
  - Trust-on-first-use host key verification
  - Secrets stored in an encrypted vault, never inline on disk
  - One or more PTY shells per connection
  - Saved command snippets
  - Optional Wake-on-LAN before connecting`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(snippetsCmd)
	rootCmd.AddCommand(knownHostsCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the config file when given, defaults otherwise.
func loadConfig() (*models.AppConfig, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.NewParser().LoadFile(configFile)
}

// buildApp constructs the service graph for a command invocation.
func buildApp() (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}
	return app.New(log.Logger, *cfg)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
