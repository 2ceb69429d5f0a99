package main

import (
	"fmt"

	"github.com/shelldeck/shelldeck/internal/models"
	"github.com/spf13/cobra"
)

var (
	snippetName        string
	snippetCommand     string
	snippetDescription string
)

var snippetsCmd = &cobra.Command{
	Use:   "snippets",
	Short: "Manage saved command snippets",
}

var snippetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snippets",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		snippets, err := a.Snippets()
		if err != nil {
			return err
		}
		if len(snippets) == 0 {
			fmt.Println("no snippets saved")
			return nil
		}
		for _, s := range snippets {
			fmt.Printf("%s  %-20s %s\n", s.ID, s.Name, s.Command)
		}
		return nil
	},
}

var snippetsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a snippet",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		saved, err := a.SaveSnippet(models.Snippet{
			Name:        snippetName,
			Command:     snippetCommand,
			Description: snippetDescription,
		})
		if err != nil {
			return err
		}
		fmt.Printf("saved snippet %s\n", saved.ID)
		return nil
	},
}

var snippetsRemoveCmd = &cobra.Command{
	Use:   "remove <snippet-id>",
	Short: "Remove a snippet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		if err := a.DeleteSnippet(args[0]); err != nil {
			return err
		}
		fmt.Println("removed")
		return nil
	},
}

func init() {
	snippetsAddCmd.Flags().StringVar(&snippetName, "name", "", "snippet name (required)")
	snippetsAddCmd.Flags().StringVar(&snippetCommand, "command", "", "command text (required)")
	snippetsAddCmd.Flags().StringVar(&snippetDescription, "description", "", "optional description")

	snippetsCmd.AddCommand(snippetsListCmd)
	snippetsCmd.AddCommand(snippetsAddCmd)
	snippetsCmd.AddCommand(snippetsRemoveCmd)
}
