package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview <job-id>",
	Short: "Show a job's import preview",
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

func runPreview(cmd *cobra.Command, args []string) error {
	var p map[string]any
	if err := newClient().getJSON("/jobs/"+args[0]+"/preview", &p); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(p)
	}

	snapshot, _ := p["snapshot"].(map[string]any)
	stats, _ := snapshot["statistics"].(map[string]any)
	printTable([]string{"Field", "Value"}, [][]string{
		{"Preview ID", str(p, "id")},
		{"Expires", str(p, "expiresAt")},
		{"Decks", fmt.Sprintf("%d", num(stats, "decksFound"))},
		{"Cards", fmt.Sprintf("%d resolved of %d", num(stats, "cardsResolved"), num(stats, "cardsProcessed"))},
		{"Conflicts", fmt.Sprintf("%d (%d blocking)", num(stats, "conflictCount"), num(stats, "blockingCount"))},
		{"Warnings", fmt.Sprintf("%d", num(stats, "warningCount"))},
	})

	decks, _ := snapshot["decks"].([]any)
	if len(decks) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(decks))
		for _, raw := range decks {
			d, _ := raw.(map[string]any)
			rows = append(rows, []string{
				truncate(str(d, "name"), 40),
				str(d, "commander"),
				fmt.Sprintf("%d", num(d, "cardCount")),
				fmt.Sprintf("%d", num(d, "unresolvedCount")),
			})
		}
		printTable([]string{"Deck", "Commander", "Cards", "Unresolved"}, rows)
	}
	return nil
}

var approveOverrides []string

var approveCmd = &cobra.Command{
	Use:   "approve <preview-id>",
	Short: "Approve a preview; the job resumes and commits",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func init() {
	approveCmd.Flags().StringArrayVar(&approveOverrides, "override", nil,
		"Conflict override as conflictID=resolution (repeatable)")
}

func runApprove(cmd *cobra.Command, args []string) error {
	overrides, err := parseOverrides(approveOverrides)
	if err != nil {
		return err
	}
	return decidePreview(args[0], true, overrides)
}

var denyCmd = &cobra.Command{
	Use:   "deny <preview-id>",
	Short: "Deny a preview; the job is cancelled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decidePreview(args[0], false, nil)
	},
}

func decidePreview(previewID string, approved bool, overrides map[string]string) error {
	body := map[string]any{"approved": approved}
	if len(overrides) > 0 {
		body["overrides"] = overrides
	}
	var resp map[string]any
	if err := newClient().postJSON("/previews/"+previewID+":approve", body, &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}
	fmt.Printf("Preview %s: %s (job %s)\n", previewID, str(resp, "decision"), str(resp, "jobId"))
	return nil
}

func parseOverrides(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	overrides := map[string]string{}
	for _, kv := range pairs {
		id, resolution, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --override %q (expected conflictID=resolution)", kv)
		}
		overrides[id] = resolution
	}
	return overrides, nil
}
