package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server liveness and readiness",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	client := newClient()

	live, liveErr := client.getText("/healthz")
	ready, readyErr := client.getText("/readyz")

	fmt.Printf("liveness:  %s\n", healthLine(live, liveErr))
	fmt.Printf("readiness: %s\n", healthLine(ready, readyErr))

	if liveErr != nil || readyErr != nil {
		return fmt.Errorf("server unhealthy")
	}
	return nil
}

func healthLine(body string, err error) string {
	if err != nil {
		return err.Error()
	}
	return strings.TrimSpace(body)
}
