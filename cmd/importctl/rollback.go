package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	rollbackReason string
	rollbackDecks  []string
	rollbackItems  []string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <job-id>",
	Short: "Roll back a completed import job",
	Long: `Rollback removes what an import created: decks it made are deleted,
decks it merged into have the imported cards removed, and folders it
created are deleted when empty. Without --deck or --item the entire
job is rolled back.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "Why the rollback was requested")
	rollbackCmd.Flags().StringSliceVar(&rollbackDecks, "deck", nil, "Restrict the rollback to these deck IDs")
	rollbackCmd.Flags().StringSliceVar(&rollbackItems, "item", nil, "Restrict the rollback to these job item IDs")
}

func runRollback(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"reason":  rollbackReason,
		"deckIds": rollbackDecks,
		"itemIds": rollbackItems,
	}
	var op map[string]any
	if err := newClient().postJSON("/jobs/"+args[0]+":rollback", body, &op); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(op)
	}
	fmt.Printf("Rollback %s: %s\n", str(op, "id"), str(op, "status"))
	if errs, _ := op["stepErrors"].([]any); len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for _, e := range errs {
			parts = append(parts, fmt.Sprint(e))
		}
		fmt.Printf("Errors: %s\n", strings.Join(parts, "; "))
	}
	return nil
}
