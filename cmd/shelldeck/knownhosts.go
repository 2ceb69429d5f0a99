package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var knownHostsCmd = &cobra.Command{
	Use:   "known-hosts",
	Short: "Manage pinned host keys",
}

var knownHostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pinned host keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		hosts := a.KnownHosts()
		if len(hosts) == 0 {
			fmt.Println("no host keys pinned")
			return nil
		}
		for _, h := range hosts {
			added := time.Unix(h.AddedAt, 0).Format("2006-01-02")
			fmt.Printf("%s:%d  %-12s %s  (added %s)\n", h.Host, h.Port, h.KeyType, h.Fingerprint, added)
		}
		return nil
	},
}

var knownHostsRemoveCmd = &cobra.Command{
	Use:   "remove <host> <port>",
	Short: "Forget a pinned host key",
	Long: `Forget a pinned host key. The next connection to this endpoint will
prompt for a fresh trust decision.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		port, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		if err := a.ForgetKnownHost(args[0], uint16(port)); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	},
}

func init() {
	knownHostsCmd.AddCommand(knownHostsListCmd)
	knownHostsCmd.AddCommand(knownHostsRemoveCmd)
}
