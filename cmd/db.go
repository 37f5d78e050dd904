package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetnotes/config"
	"github.com/otherjamesbrown/meetnotes/migrations"
	"github.com/otherjamesbrown/meetnotes/pkg/db"
)

// Database command flags
var (
	dbDryRun       bool
	dbYes          bool
	dbOutput       string
	dbMigrationDir string
)

// DbCommandDeps holds the dependencies for database commands.
type DbCommandDeps struct {
	ConnectToDB func(context.Context) (*pgxpool.Pool, error)
	Migrations  func() fs.FS
}

// DefaultDbDeps returns the default dependencies for production use.
func DefaultDbDeps() *DbCommandDeps {
	return &DbCommandDeps{
		ConnectToDB: func(ctx context.Context) (*pgxpool.Pool, error) {
			return db.Connect(ctx, db.ConfigFromEnv())
		},
		Migrations: migrationFS,
	}
}

// migrationFS returns the embedded migrations, or a directory given with --migrations.
func migrationFS() fs.FS {
	if dbMigrationDir != "" {
		return os.DirFS(dbMigrationDir)
	}
	return migrations.FS
}

// NewDbCommand creates the root db command with all subcommands.
func NewDbCommand() *cobra.Command {
	deps := DefaultDbDeps()

	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
		Long: `Database management commands for the PostgreSQL meeting store.

The db command connects directly to PostgreSQL to run migrations and check
status. It reads DATABASE_URL or the DB_HOST, DB_PORT, DB_NAME, DB_USER,
DB_PASSWORD and DB_SSLMODE environment variables. The SQLite and memory
stores create their schema themselves and need no migrations.

Migrations are embedded in the binary and applied in filename order. Each
runs in its own transaction and is recorded in the schema_migrations table.

Examples:
  # Show migration status
  meetnotes db status

  # Apply all pending migrations
  meetnotes db migrate

  # Preview migrations without applying
  meetnotes db migrate --dry-run`,
		Aliases: []string{"database", "migrations"},
	}

	cmd.PersistentFlags().StringVarP(&dbMigrationDir, "migrations", "m", "", "Read migrations from this directory instead of the embedded set")

	cmd.AddCommand(newDbMigrateCommand(deps))
	cmd.AddCommand(newDbStatusCommand(deps))

	return cmd
}

// newDbMigrateCommand creates the 'db migrate' subcommand.
func newDbMigrateCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Apply pending database migrations.

Shows pending migrations and asks for confirmation before applying them.
If a migration fails, its transaction is rolled back and no further
migrations are attempted.`,
		Example: `  meetnotes db migrate
  meetnotes db migrate --dry-run
  meetnotes db migrate --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbMigrate(cmd.Context(), deps, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&dbDryRun, "dry-run", false, "Show what would be applied without executing")
	cmd.Flags().BoolVarP(&dbYes, "yes", "y", false, "Apply without asking for confirmation")

	return cmd
}

// newDbStatusCommand creates the 'db status' subcommand.
func newDbStatusCommand(deps *DbCommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database migration status",
		Long: `Show the current state of database migrations.

Displays three categories of migrations:
  - Applied: migrations that have been applied and have corresponding files
  - Pending: migrations with files that have not been applied yet
  - Drift: migrations that were applied but no longer have corresponding files`,
		Example: `  meetnotes db status
  meetnotes db status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDbStatus(cmd.Context(), deps, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&dbOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

// runDbMigrate executes the db migrate command.
func runDbMigrate(ctx context.Context, deps *DbCommandDeps, in io.Reader, out io.Writer) error {
	pool, err := deps.ConnectToDB(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	fsys := deps.Migrations()
	status, err := db.GetMigrationStatus(ctx, pool, fsys)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	if len(status.Pending) == 0 {
		fmt.Fprintln(out, "No pending migrations.")
		return nil
	}

	fmt.Fprintf(out, "Pending migrations (%d):\n", len(status.Pending))
	for _, m := range status.Pending {
		fmt.Fprintf(out, "  %s - %s\n", m.Version, m.Name)
	}
	fmt.Fprintln(out)

	if dbDryRun {
		fmt.Fprintln(out, "Dry run mode: no migrations applied.")
		return nil
	}

	if !dbYes && !confirm(in, out, "Apply these migrations? (y/N): ") {
		fmt.Fprintln(out, "Migration cancelled.")
		return nil
	}

	result, err := db.RunMigrations(ctx, pool, fsys)
	if err != nil {
		fmt.Fprintf(out, "\n\033[31mMigration failed:\033[0m %v\n", err)
		if result != nil && len(result.Applied) > 0 {
			fmt.Fprintf(out, "\nSuccessfully applied before failure:\n")
			for _, v := range result.Applied {
				fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
			}
		}
		return err
	}

	fmt.Fprintf(out, "\033[32mSuccessfully applied %d migration(s):\033[0m\n", len(result.Applied))
	for _, v := range result.Applied {
		fmt.Fprintf(out, "  \033[32m✓\033[0m %s\n", v)
	}
	return nil
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	line, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(line), "y")
}

// runDbStatus executes the db status command.
func runDbStatus(ctx context.Context, deps *DbCommandDeps, out io.Writer) error {
	format, err := outputFormat(dbOutput)
	if err != nil {
		return err
	}

	pool, err := deps.ConnectToDB(ctx)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	status, err := db.GetMigrationStatus(ctx, pool, deps.Migrations())
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	return outputMigrationStatus(out, format, status)
}

// outputMigrationStatus formats and outputs migration status.
func outputMigrationStatus(out io.Writer, format config.OutputFormat, status *db.MigrationStatus) error {
	return writeOutput(out, format, status, func(w io.Writer) error {
		return outputMigrationStatusText(w, status)
	})
}

// outputMigrationStatusText formats migration status for terminal display.
func outputMigrationStatusText(w io.Writer, status *db.MigrationStatus) error {
	if len(status.Applied) > 0 {
		fmt.Fprintf(w, "\033[32mApplied Migrations (%d):\033[0m\n", len(status.Applied))
		writeMigrationRows(w, status.Applied)
	}

	if len(status.Pending) > 0 {
		fmt.Fprintf(w, "\033[33mPending Migrations (%d):\033[0m\n", len(status.Pending))
		fmt.Fprintln(w, "  VERSION                    NAME")
		fmt.Fprintln(w, "  -------                    ----")
		for _, m := range status.Pending {
			fmt.Fprintf(w, "  %-26s %s\n", truncate(m.Version, 26), m.Name)
		}
		fmt.Fprintln(w)
	}

	// Drift (migrations applied but files missing)
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, "\033[31mDrift (%d) - applied but file missing:\033[0m\n", len(status.Drift))
		writeMigrationRows(w, status.Drift)
	}

	if len(status.Modified) > 0 {
		fmt.Fprintf(w, "\033[31mModified (%d) - file changed after it was applied:\033[0m\n", len(status.Modified))
		writeMigrationRows(w, status.Modified)
	}

	if len(status.Applied) == 0 && len(status.Pending) == 0 && len(status.Drift) == 0 {
		fmt.Fprintln(w, "No migrations found.")
		return nil
	}

	fmt.Fprintf(w, "Summary: %d applied, %d pending", len(status.Applied), len(status.Pending))
	if len(status.Drift) > 0 {
		fmt.Fprintf(w, ", \033[31m%d drift\033[0m", len(status.Drift))
	}
	if len(status.Modified) > 0 {
		fmt.Fprintf(w, ", \033[31m%d modified\033[0m", len(status.Modified))
	}
	fmt.Fprintln(w)
	return nil
}

func writeMigrationRows(w io.Writer, entries []db.MigrationStatusEntry) {
	fmt.Fprintln(w, "  VERSION                    NAME                              APPLIED")
	fmt.Fprintln(w, "  -------                    ----                              -------")
	for _, m := range entries {
		appliedAt := "-"
		if m.AppliedAt != nil {
			appliedAt = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %-26s %-33s %s\n", truncate(m.Version, 26), truncate(m.Name, 33), appliedAt)
	}
	fmt.Fprintln(w)
}
