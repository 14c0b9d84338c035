package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var (
	eventsJobID    string
	eventsType     string
	eventsPageSize int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List import events",
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsJobID, "job", "", "Only events for this job")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only events of this type (e.g. job_completed)")
	eventsCmd.Flags().IntVar(&eventsPageSize, "page-size", 50, "Events per page")
}

func runEvents(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if eventsJobID != "" {
		q.Set("jobId", eventsJobID)
	}
	if eventsType != "" {
		q.Set("eventType", eventsType)
	}
	q.Set("pageSize", fmt.Sprintf("%d", eventsPageSize))

	var resp map[string]any
	if err := newClient().getJSON("/events?"+q.Encode(), &resp); err != nil {
		return err
	}
	if outputFmt != "table" {
		return printOutput(resp)
	}

	records, _ := resp["events"].([]any)
	if len(records) == 0 {
		fmt.Println("No events.")
		return nil
	}
	rows := make([][]string, 0, len(records))
	for _, raw := range records {
		e, _ := raw.(map[string]any)
		data := ""
		if d, ok := e["data"].(map[string]any); ok && len(d) > 0 {
			if encoded, err := json.Marshal(d); err == nil {
				data = truncate(string(encoded), 60)
			}
		}
		rows = append(rows, []string{
			str(e, "createdAt"),
			str(e, "eventType"),
			str(e, "jobId"),
			data,
		})
	}
	printTable([]string{"Time", "Event", "Job", "Data"}, rows)
	return nil
}
