package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/citewatch/internal/index"
	"github.com/matsen/citewatch/internal/work"
)

var (
	queryTag      string
	queryAuthor   string
	queryVenue    string
	queryYearFrom int
	queryYearTo   int
	queryLimit    int
)

func init() {
	indexCmd.AddCommand(indexRebuildCmd)
	rootCmd.AddCommand(indexCmd)

	queryCmd.Flags().StringVar(&queryTag, "tag", "", "Only works with this tag")
	queryCmd.Flags().StringVar(&queryAuthor, "author", "", "Only works by a matching author")
	queryCmd.Flags().StringVar(&queryVenue, "venue", "", "Only works whose venue contains this text")
	queryCmd.Flags().IntVar(&queryYearFrom, "year-from", 0, "Minimum publication year")
	queryCmd.Flags().IntVar(&queryYearTo, "year-to", 0, "Maximum publication year")
	queryCmd.Flags().IntVarP(&queryLimit, "limit", "n", index.DefaultLimit, "Maximum results")
	rootCmd.AddCommand(queryCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the local query index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the query index from citations.json",
	Long: `Rebuild the SQLite query database from the published citations document.

The index is a disposable cache under <data-dir>/.cache and is never published.`,
	Args: cobra.NoArgs,
	RunE: runIndexRebuild,
}

var queryCmd = &cobra.Command{
	Use:   "query [keywords]",
	Short: "Search the published citations",
	Long: `Search citing works by keyword, tag, author, venue and year.

Results are ordered by citation count. The index is built on first use;
run 'citewatch index rebuild' after publishing new data.`,
	RunE: runQuery,
}

// QueryResult is one work in query output.
type QueryResult struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Year         int      `json:"year,omitempty"`
	Venue        string   `json:"venue,omitempty"`
	CitedByCount int      `json:"cited_by_count"`
	Authors      []string `json:"authors"`
	Tags         []string `json:"tags"`
	URL          string   `json:"url"`
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	paths := dataPaths()
	db, err := index.Open(paths.Index())
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.RebuildFromFile(paths.Citations())
	if err != nil {
		return fmt.Errorf("rebuilding index: %w", err)
	}

	if humanOutput {
		outputHuman("Indexed %d works into %s\n", n, paths.Index())
		return nil
	}
	return outputJSON(StatusResponse{Status: "rebuilt", Path: paths.Index(), Works: n})
}

func runQuery(cmd *cobra.Command, args []string) error {
	paths := dataPaths()

	_, statErr := os.Stat(paths.Index())
	fresh := errors.Is(statErr, os.ErrNotExist)

	db, err := index.Open(paths.Index())
	if err != nil {
		return err
	}
	defer db.Close()

	if fresh {
		if _, err := db.RebuildFromFile(paths.Citations()); err != nil {
			return fmt.Errorf("building index: %w", err)
		}
	}

	works, err := db.Query(index.Filters{
		Keyword:  strings.Join(args, " "),
		Tag:      queryTag,
		Author:   queryAuthor,
		YearFrom: queryYearFrom,
		YearTo:   queryYearTo,
		Venue:    queryVenue,
	}, queryLimit)
	if err != nil {
		return err
	}

	results := make([]QueryResult, len(works))
	for i, w := range works {
		results[i] = toQueryResult(w)
	}

	if !humanOutput {
		return outputJSON(results)
	}

	if len(results) == 0 {
		outputHuman("No matching works\n")
		return nil
	}
	for i, r := range results {
		outputHuman("%d. %s\n", i+1, truncateString(r.Title, TitleMaxLen))
		outputHuman("   %s (%s) | %d citations\n", formatAuthors(r.Authors, 3), yearLabel(r.Year), r.CitedByCount)
		if len(r.Tags) > 0 {
			outputHuman("   Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		outputHuman("   %s\n\n", r.URL)
	}
	return nil
}

func toQueryResult(w work.Work) QueryResult {
	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		authors = append(authors, a.Name)
	}
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	return QueryResult{
		ID:           w.ID,
		Title:        w.Title,
		Year:         w.PublicationYear,
		Venue:        w.HostVenue,
		CitedByCount: w.CitedByCount,
		Authors:      authors,
		Tags:         tags,
		URL:          w.URL(),
	}
}

func yearLabel(y int) string {
	if y == 0 {
		return "n.d."
	}
	return fmt.Sprint(y)
}
