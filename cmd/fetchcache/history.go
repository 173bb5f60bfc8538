package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent fetch attempts from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "number of attempts to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.journal == nil {
		return errors.New("attempt journal is disabled (database.enabled=false)")
	}

	ctx := cmd.Context()

	stats, err := a.journal.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}
	attempts, err := a.journal.Recent(ctx, historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read attempts: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d attempts: %d fetched (%d resumed), %d cache hits, %d memory hits, %d failed, %s downloaded\n\n",
		stats.Total, stats.Succeeded, stats.Resumed, stats.CacheHits, stats.MemoryHits, stats.Failed,
		humanize.Bytes(uint64(stats.BytesFetched)))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tOUTCOME\tNAME\tSIZE\tTOOK\tERROR")
	for _, at := range attempts {
		outcome := at.Outcome
		if at.Resumed {
			outcome += " (resumed)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			humanize.Time(at.CreatedAt), outcome, at.Name,
			humanize.Bytes(uint64(at.Bytes)), at.Duration.Round(time.Millisecond), at.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(attempts) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no attempts recorded yet")
	}
	return nil
}
