package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/spf13/cobra"
)

var (
	serverNickname string
	serverHost     string
	serverPort     uint16
	serverUser     string
	serverPassword string
	serverKeyFile  string
	serverWakeMAC  string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Manage saved servers",
}

var serversListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		servers, err := a.Servers()
		if err != nil {
			return err
		}
		if len(servers) == 0 {
			fmt.Println("no servers saved")
			return nil
		}
		for _, s := range servers {
			nick := s.Nickname
			if nick == "" {
				nick = "-"
			}
			fmt.Printf("%s  %-16s %s@%s:%d\n", s.ID, nick, s.User, s.Host, s.Port)
		}
		return nil
	},
}

var serversAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a server",
	Long: `Add a server record. The given password or private key is stored in
the encrypted vault, never in the server list itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		auth, err := authFromFlags()
		if err != nil {
			return err
		}

		server := models.ServerConnection{
			Nickname: serverNickname,
			Host:     serverHost,
			Port:     serverPort,
			User:     serverUser,
			Auth:     auth,
		}
		if serverWakeMAC != "" {
			server.Wake = &models.WakeConfig{MACAddress: serverWakeMAC}
		}

		saved, err := a.SaveServer(server)
		if err != nil {
			log.Error().Err(err).Msg("failed to save server")
			return err
		}
		fmt.Printf("saved server %s\n", saved.ID)
		return nil
	},
}

var serversRemoveCmd = &cobra.Command{
	Use:   "remove <server-id|nickname>",
	Short: "Remove a server and its stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		if err := a.DeleteServer(args[0]); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	},
}

// authFromFlags builds a legacy inline auth method from the add flags; it
// is migrated into the vault on save.
func authFromFlags() (models.AuthMethod, error) {
	switch {
	case serverPassword != "" && serverKeyFile != "":
		return models.AuthMethod{}, fmt.Errorf("give either --password or --key-file, not both")
	case serverPassword != "":
		return models.AuthMethod{Type: models.AuthTypePassword, Password: serverPassword}, nil
	case serverKeyFile != "":
		key, err := os.ReadFile(serverKeyFile)
		if err != nil {
			return models.AuthMethod{}, fmt.Errorf("reading key file: %w", err)
		}
		return models.AuthMethod{Type: models.AuthTypeKey, PrivateKey: string(key)}, nil
	default:
		return models.AuthMethod{}, fmt.Errorf("either --password or --key-file is required")
	}
}

func init() {
	serversAddCmd.Flags().StringVar(&serverNickname, "nickname", "", "display name")
	serversAddCmd.Flags().StringVar(&serverHost, "host", "", "host name or address (required)")
	serversAddCmd.Flags().Uint16Var(&serverPort, "port", 22, "SSH port")
	serversAddCmd.Flags().StringVar(&serverUser, "user", "", "login user (required)")
	serversAddCmd.Flags().StringVar(&serverPassword, "password", "", "password to store in the vault")
	serversAddCmd.Flags().StringVar(&serverKeyFile, "key-file", "", "private key file to store in the vault")
	serversAddCmd.Flags().StringVar(&serverWakeMAC, "wake-mac", "", "MAC address for Wake-on-LAN before connecting")

	serversCmd.AddCommand(serversListCmd)
	serversCmd.AddCommand(serversAddCmd)
	serversCmd.AddCommand(serversRemoveCmd)
}
