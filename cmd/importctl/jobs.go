package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show a job's state, counters, and per-deck items",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	var job map[string]any
	if err := newClient().getJSON("/jobs/"+args[0], &job); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(job)
	}

	printTable([]string{"Field", "Value"}, [][]string{
		{"ID", str(job, "id")},
		{"Status", str(job, "status")},
		{"Step", str(job, "currentStep")},
		{"Progress", fmt.Sprintf("%d%%", num(job, "progress"))},
		{"Source", str(job, "source")},
		{"Decks", fmt.Sprintf("%d found, %d imported", num(job, "decksFound"), num(job, "decksImported"))},
		{"Cards", fmt.Sprintf("%d processed, %d resolved", num(job, "cardsProcessed"), num(job, "cardsResolved"))},
		{"Retries", fmt.Sprintf("%d/%d", num(job, "retryCount"), num(job, "maxRetries"))},
		{"Created", str(job, "createdAt")},
	})

	items, _ := job["items"].([]any)
	if len(items) > 0 {
		fmt.Println()
		rows := make([][]string, 0, len(items))
		for _, raw := range items {
			it, _ := raw.(map[string]any)
			rows = append(rows, []string{
				truncate(str(it, "deckName"), 40),
				str(it, "status"),
				str(it, "deckId"),
				fmt.Sprintf("%d/%d", num(it, "cardsResolved"), num(it, "cardsTotal")),
			})
		}
		printTable([]string{"Deck", "Status", "Deck ID", "Cards"}, rows)
	}
	return nil
}

var (
	listStatus   string
	listSource   string
	listPageSize int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List your import jobs",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status")
	listCmd.Flags().StringVar(&listSource, "source", "", "Filter by source")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 20, "Page size")
}

func runList(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/jobs?pageSize=%d", listPageSize)
	if listStatus != "" {
		path += "&status=" + listStatus
	}
	if listSource != "" {
		path += "&source=" + listSource
	}

	var resp map[string]any
	if err := newClient().getJSON(path, &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	jobs, _ := resp["jobs"].([]any)
	rows := make([][]string, 0, len(jobs))
	for _, raw := range jobs {
		job, _ := raw.(map[string]any)
		rows = append(rows, []string{
			str(job, "id"),
			str(job, "source"),
			str(job, "status"),
			fmt.Sprintf("%d%%", num(job, "progress")),
			fmt.Sprintf("%d", num(job, "decksImported")),
			str(job, "createdAt"),
		})
	}
	printTable([]string{"ID", "Source", "Status", "Progress", "Imported", "Created"}, rows)
	fmt.Printf("\n%d job(s)\n", num(resp, "totalSize"))
	return nil
}

var progressWatch bool

var progressCmd = &cobra.Command{
	Use:   "progress <job-id>",
	Short: "Show (or watch) a job's progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runProgress,
}

func init() {
	progressCmd.Flags().BoolVarP(&progressWatch, "watch", "w", false, "Poll until the job reaches a terminal state")
}

func runProgress(cmd *cobra.Command, args []string) error {
	client := newClient()
	for {
		var p map[string]any
		if err := client.getJSON("/jobs/"+args[0]+"/progress", &p); err != nil {
			return err
		}

		if !progressWatch {
			if outputFmt != "table" {
				return printOutput(p)
			}
		}
		status := str(p, "status")
		fmt.Printf("%s  %3d%%  step=%s  decks=%d/%d  errors=%d\n",
			status, num(p, "progress"), str(p, "currentStep"),
			num(p, "decksImported"), num(p, "decksFound"), num(p, "errorCount"))

		if !progressWatch || status == "completed" || status == "failed" || status == "cancelled" {
			return nil
		}
		time.Sleep(2 * time.Second)
	}
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Request cancellation of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	var resp map[string]any
	if err := newClient().postJSON("/jobs/"+args[0]+":cancel", struct{}{}, &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}
	if str(resp, "status") == "cancelled" {
		fmt.Printf("Job %s cancelled\n", args[0])
	} else {
		fmt.Printf("Job %s flagged for cancellation (currently %s)\n", args[0], str(resp, "status"))
	}
	return nil
}
