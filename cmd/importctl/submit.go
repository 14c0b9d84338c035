package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	submitSource       string
	submitType         string
	submitURL          string
	submitPreview      bool
	submitAutoResolve  bool
	submitContinue     bool
	submitPolicy       string
	submitFolder       string
	submitPriority     int
	submitCustomFields []string
	submitFieldsFile   string
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit a deck import job",
	Long: `Submit reads a decklist from a file (or stdin when omitted or "-") and
creates an import job. Use --url instead of a file to import from a
remote decklist.

The custom source needs a field map, either inline:

  importctl submit decks.csv --source custom --custom-field name=Deck --custom-field quantity=Qty

or from a YAML file mapping field names to column headers.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitSource, "source", "s", "text", "Input format (text, csv, moxfield, archidekt, tappedout, edhrec, mtggoldfish, custom)")
	submitCmd.Flags().StringVar(&submitType, "type", "", "Job type hint (single, batch, bulk)")
	submitCmd.Flags().StringVar(&submitURL, "url", "", "Import from a URL instead of a file")
	submitCmd.Flags().BoolVar(&submitPreview, "preview", false, "Require preview approval before committing")
	submitCmd.Flags().BoolVar(&submitAutoResolve, "auto-resolve", false, "Resolve conflicts automatically")
	submitCmd.Flags().BoolVar(&submitContinue, "continue-on-error", false, "Import what resolves; record the rest as errors")
	submitCmd.Flags().StringVar(&submitPolicy, "conflict-policy", "", "Default resolution for duplicate deck names (skip, rename, overwrite, merge)")
	submitCmd.Flags().StringVar(&submitFolder, "folder", "", "Target folder name for imported decks")
	submitCmd.Flags().IntVar(&submitPriority, "priority", 0, "Job priority (higher runs first)")
	submitCmd.Flags().StringArrayVar(&submitCustomFields, "custom-field", nil, "Custom source field mapping as name=column (repeatable)")
	submitCmd.Flags().StringVar(&submitFieldsFile, "custom-fields", "", "YAML file with custom source field mappings")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	fields, err := loadCustomFields()
	if err != nil {
		return err
	}

	body := map[string]any{
		"source":   submitSource,
		"type":     submitType,
		"priority": submitPriority,
		"options": map[string]any{
			"generatePreview":           submitPreview,
			"autoResolveConflicts":      submitAutoResolve,
			"continueOnError":           submitContinue,
			"defaultConflictResolution": submitPolicy,
			"targetFolderName":          submitFolder,
			"customFields":              fields,
		},
	}

	if submitURL != "" {
		if len(args) > 0 {
			return fmt.Errorf("provide a file or --url, not both")
		}
		body["inputUrl"] = submitURL
	} else {
		raw, err := readInput(args)
		if err != nil {
			return err
		}
		body["rawInput"] = string(raw)
	}

	var resp map[string]any
	if err := newClient().postJSON("/jobs", body, &resp); err != nil {
		return err
	}

	if outputFmt != "table" {
		return printOutput(resp)
	}
	fmt.Printf("Job %s submitted (%s, %s)\n", str(resp, "id"), str(resp, "source"), str(resp, "status"))
	return nil
}

func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return raw, nil
}

func loadCustomFields() (map[string]string, error) {
	fields := map[string]string{}
	if submitFieldsFile != "" {
		raw, err := os.ReadFile(submitFieldsFile)
		if err != nil {
			return nil, fmt.Errorf("read custom fields file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("parse custom fields file: %w", err)
		}
	}
	for _, kv := range submitCustomFields {
		name, column, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --custom-field %q (expected name=column)", kv)
		}
		fields[name] = column
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}
