package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	userID    string
	outputFmt string
)

var rootCmd = &cobra.Command{
	Use:   "importctl",
	Short: "CLI for the deck import service",
	Long: `importctl submits deck imports and drives them through their lifecycle:
watching progress, resolving conflicts, approving previews, and rolling
imports back.

The service trusts the gateway-set user header; --user (or IMPORT_USER)
sets it directly when talking to the service without a gateway.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Import server URL")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User ID to act as (default: IMPORT_USER env)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(healthCmd)
}

// resolvedUser returns the effective user identity.
// Priority: --user flag > IMPORT_USER env var.
func resolvedUser() string {
	if userID != "" {
		return userID
	}
	return os.Getenv("IMPORT_USER")
}
