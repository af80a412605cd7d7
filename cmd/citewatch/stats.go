package main

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/matsen/citewatch/internal/dataset"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the published statistics",
	Long:  `Print stats.json from the data directory.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	path := dataPaths().Stats()
	snap, err := dataset.ReadStats(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if snap == nil {
		return fmt.Errorf("%w: %s", errNoDataset, path)
	}

	if !humanOutput {
		return outputJSON(snap)
	}

	outputHuman("Total works:   %d\n", snap.TotalWorks)
	outputHuman("Citations sum: %d\n", snap.CitationsSum)
	outputHuman("Last updated:  %s\n", snap.LastUpdated)

	years := make([]int, 0, len(snap.ByYear))
	for y := range snap.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	byYear := make([]countEntry, len(years))
	for i, y := range years {
		byYear[i] = countEntry{Key: strconv.Itoa(y), Count: snap.ByYear[y]}
	}
	printCounts("By year", byYear)

	printCounts("Top tags", sortedCounts(snap.ByTag, HumanTopEntries))
	printCounts("Top venues", sortedCounts(snap.ByVenue, HumanTopEntries))

	if len(snap.TopAuthors) > 0 {
		outputHuman("\nTop authors:\n")
		for i, a := range snap.TopAuthors {
			if i == HumanTopEntries {
				break
			}
			outputHuman("  %2d. %s: %d papers, %.1f avg citations\n", i+1, a.Name, a.Papers, a.AvgCitations)
		}
	}
	return nil
}
