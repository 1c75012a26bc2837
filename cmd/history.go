package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mediashift/mediashift/internal/history"
)

//nolint:gochecknoglobals // cobra CLI flags require package-level variables
var historyLimit int

//nolint:gochecknoglobals // cobra requires package-level command variables
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent relocation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if appConfig.History.DatabasePath == "" {
			return errors.New("history.databasePath is not configured")
		}

		store, err := history.Open(appConfig.History.DatabasePath,
			history.WithLogger(log.With().Str("component", "history").Logger()))
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.Recent(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tCATEGORY\tTORRENTS\tSTATUS\tDESTINATION")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				run.StartedAt.Local().Format("2006-01-02 15:04"),
				run.Category, len(run.Hashes), run.Status, run.Destination)
		}

		return w.Flush()
	},
}

//nolint:gochecknoinits // cobra requires init for command registration
func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs to show")
	rootCmd.AddCommand(historyCmd)
}
