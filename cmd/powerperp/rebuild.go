package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"PowerPerp/internal/observability"
	"PowerPerp/internal/projection"
)

func newRebuildCmd(load loader) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "rebuild-funding",
		Short: "Re-derive the funding history projection from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.Postgres.Enabled {
				return fmt.Errorf("postgres is not enabled")
			}
			logger := observability.NewLogger("rebuild")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			db, err := sqlx.ConnectContext(ctx, "postgres", cfg.Postgres.DSN)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer db.Close()

			n, err := projection.RebuildFundingHistory(ctx, db)
			if err != nil {
				return err
			}
			logger.Info().Int("rows", n).Msg("funding history rebuilt")
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d funding rows\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}
