package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts <job-id>",
	Short: "List a job's import conflicts",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflicts,
}

func runConflicts(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := newClient().getJSON("/jobs/"+args[0]+"/conflicts", &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	conflicts, _ := resp["conflicts"].([]any)
	if len(conflicts) == 0 {
		fmt.Println("No conflicts.")
		return nil
	}
	rows := make([][]string, 0, len(conflicts))
	for _, raw := range conflicts {
		c, _ := raw.(map[string]any)
		blocking := ""
		if b, _ := c["blocking"].(bool); b {
			blocking = "yes"
		}
		rows = append(rows, []string{
			str(c, "id"),
			str(c, "conflictType"),
			blocking,
			str(c, "resolution"),
			truncate(str(c, "description"), 60),
		})
	}
	printTable([]string{"ID", "Type", "Blocking", "Resolution", "Description"}, rows)
	fmt.Printf("\nUnresolved blocking: %d\n", num(resp, "unresolvedBlocking"))
	return nil
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <resolution>",
	Short: "Resolve a conflict (skip, rename, overwrite, merge, use-existing, use-suggested)",
	Args:  cobra.ExactArgs(2),
	RunE:  runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	body := map[string]any{"resolution": args[1]}
	var resp map[string]any
	if err := newClient().postJSON("/conflicts/"+args[0]+":resolve", body, &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}
	c, _ := resp["conflict"].(map[string]any)
	fmt.Printf("Conflict %s resolved as %s\n", str(c, "id"), str(c, "resolution"))
	if resumed, _ := resp["jobResumed"].(bool); resumed {
		fmt.Println("Job resumed.")
	}
	return nil
}
