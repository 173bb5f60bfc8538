package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/vertextoedge/fetchcache/internal/service/maintenance"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Run one maintenance pass: stale staging files and old journal rows",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.close()

		svc := maintenance.New(&maintenance.Config{
			CleanupInterval: a.cfg.Maintenance.GetCleanupInterval(),
			TempFileMaxAge:  a.cfg.Maintenance.GetTempFileMaxAge(),
			AttemptMaxAge:   a.cfg.Maintenance.GetAttemptMaxAge(),
		}, a.store, a.journal, a.logger)

		report, err := svc.RunCleanup(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d staging files and %d journal rows; cache holds %s\n",
			report.StagingRemoved, report.AttemptsRemoved, humanize.Bytes(uint64(report.CacheSize)))
		return err
	},
}
