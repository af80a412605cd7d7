package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/matsen/citewatch/internal/dataset"
	"github.com/matsen/citewatch/internal/diff"
	"github.com/matsen/citewatch/internal/work"
)

var (
	changesPrevious string
	changesOutput   string
	changesDate     string
)

func init() {
	changesCmd.Flags().StringVar(&changesPrevious, "previous", "", "Previous citations document (default <data-dir>/citations.prev.json)")
	changesCmd.Flags().StringVarP(&changesOutput, "output", "o", "", "Write the change summary to this file")
	changesCmd.Flags().StringVar(&changesDate, "date", "", "Date in the summary heading, YYYY-MM-DD (default today, UTC)")
	rootCmd.AddCommand(changesCmd)
}

var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Summarize works added since the previous snapshot",
	Long: `Compare citations.json with the document it replaced and render the
change summary used as a data-update commit message.

With --human the summary is printed as plain text; otherwise the report and
message are returned as JSON.`,
	Args: cobra.NoArgs,
	RunE: runChanges,
}

// ChangesResponse is the response for the changes command.
type ChangesResponse struct {
	diff.Report
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func runChanges(cmd *cobra.Command, args []string) error {
	paths := dataPaths()
	prevPath := changesPrevious
	if prevPath == "" {
		prevPath = paths.Previous()
	}

	date := time.Now().UTC()
	if changesDate != "" {
		d, err := time.Parse(time.DateOnly, changesDate)
		if err != nil {
			return fmt.Errorf("parsing --date: %w", err)
		}
		date = d
	}

	cur, err := readWorks(paths.Citations())
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("%w: %s", errNoDataset, paths.Citations())
	}
	prev, err := readWorks(prevPath)
	if err != nil {
		return err
	}

	report := diff.Compare(prev, cur)
	msg := report.Message(date)

	resp := ChangesResponse{Report: report, Message: msg}
	if changesOutput != "" {
		if err := os.WriteFile(changesOutput, []byte(msg), 0644); err != nil {
			return fmt.Errorf("writing change summary: %w", err)
		}
		resp.Path = changesOutput
	}

	if humanOutput {
		if resp.Path != "" {
			outputHuman("%d new papers; summary written to %s\n", report.Count, resp.Path)
			return nil
		}
		outputHuman("%s", msg)
		return nil
	}
	return outputJSON(resp)
}

// readWorks loads the works of a citations document. A missing file
// returns nil, nil.
func readWorks(path string) ([]work.Work, error) {
	doc, err := dataset.ReadCitations(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if doc == nil {
		return nil, nil
	}
	if doc.Results == nil {
		return []work.Work{}, nil
	}
	return doc.Results, nil
}
