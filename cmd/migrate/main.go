package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"PowerPerp/internal/observability"
	"PowerPerp/internal/persistence"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dsn, dir string

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the PowerPerp Postgres schema",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
			if dsn == "" {
				dsn = os.Getenv("PERP_POSTGRES_DSN")
			}
			if dsn == "" {
				dsn = "postgres://localhost:5432/powerperp?sslmode=disable"
			}
		},
	}
	root.PersistentFlags().StringVar(&dsn, "dsn", "", "Postgres connection string (default $PERP_POSTGRES_DSN)")
	root.PersistentFlags().StringVar(&dir, "dir", envOr("PERP_POSTGRES_MIGRATIONS_DIR", "migrations"), "migrations directory")

	withMigrator := func(fn migratorFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return fn(cmd.Context(), persistence.NewMigrator(db, dir, observability.NewLogger("migrate")), cmd)
		}
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, cmd *cobra.Command) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			}),
		},
		newDownCmd(withMigrator),
		&cobra.Command{
			Use:   "check",
			Short: "Validate the migration files without connecting",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := persistence.CheckMigrations(os.DirFS(dir)); err != nil {
					return fmt.Errorf("migrate check: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations ok")
				return nil
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, cmd *cobra.Command) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				for _, s := range statuses {
					mark := "pending"
					switch {
					case s.Modified:
						mark = "modified"
					case s.Applied:
						mark = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-8s %-8s %s\n", s.Version, mark, s.Name)
				}
				return nil
			}),
		},
	)
	return root
}

type migratorFunc func(ctx context.Context, m *persistence.Migrator, cmd *cobra.Command) error

func newDownCmd(withMigrator func(migratorFunc) func(*cobra.Command, []string) error) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the latest applied migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator, cmd *cobra.Command) error {
			n, err := m.Down(ctx, steps)
			if err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
