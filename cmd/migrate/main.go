// Command migrate manages the postgres schema. Migrations are embedded in
// the binary; --dir points at a checkout instead, and is required by create.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/supplychain/backend/internal/infrastructure/config"
	"github.com/supplychain/backend/internal/infrastructure/logger"
	"github.com/supplychain/backend/internal/infrastructure/migration"
	"github.com/supplychain/backend/internal/infrastructure/persistence"
	"github.com/supplychain/backend/migrations"
)

type cli struct {
	dir      string
	logLevel string
	out      io.Writer
	log      *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out, log: zap.NewNop()}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply and inspect the postgres schema",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := logger.New(&logger.Config{
				Level:      c.logLevel,
				Format:     "console",
				Output:     "stderr",
				TimeFormat: "2006-01-02 15:04:05",
			})
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.log = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.log.Sync()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.dir, "dir", "", "migrations directory (default: embedded migrations)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(
		c.migratorCmd("up", "Apply all pending migrations", cobra.NoArgs,
			func(m *migration.Migrator, _ []string) error { return m.Up() }),
		c.downCmd(),
		c.migratorCmd("steps <n>", "Apply n migrations, negative n rolls back", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				return m.Steps(n)
			}),
		c.migratorCmd("goto <version>", "Migrate up or down to a version", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.GoTo(uint(v))
			}),
		c.migratorCmd("force <version>", "Mark a version as applied without running it", cobra.ExactArgs(1),
			func(m *migration.Migrator, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q", args[0])
				}
				return m.Force(v)
			}),
		c.migratorCmd("version", "Show the applied version", cobra.NoArgs, c.printVersion),
		c.migratorCmd("status", "List migrations and whether each is applied", cobra.NoArgs, c.printStatus),
		c.listCmd(),
		c.createCmd(),
	)
	return root
}

// migratorCmd builds a command that needs a database connection
func (c *cli) migratorCmd(use, short string, args cobra.PositionalArgs, fn func(*migration.Migrator, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) error {
			return c.withMigrator(func(m *migration.Migrator) error { return fn(m, a) })
		},
	}
}

func (c *cli) downCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration, or all with --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withMigrator(func(m *migration.Migrator) error {
				if all {
					return m.Down()
				}
				return m.Steps(-1)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, err := migration.ListMigrations(c.source())
			if err != nil {
				return err
			}
			for _, m := range all {
				fmt.Fprintln(c.out, m)
			}
			return nil
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Scaffold the next numbered up/down pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.dir == "" {
				return errors.New("create needs --dir pointing at the migrations directory")
			}
			mf, err := migration.CreateMigration(c.dir, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, mf.UpPath)
			fmt.Fprintln(c.out, mf.DownPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "comment written into the up file")
	return cmd
}

func (c *cli) printVersion(m *migration.Migrator, _ []string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.out, "no migrations applied")
		return nil
	}
	fmt.Fprintf(c.out, "version %d", version)
	if dirty {
		fmt.Fprint(c.out, " (dirty)")
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *cli) printStatus(m *migration.Migrator, _ []string) error {
	entries, dirty, err := m.Status()
	if err != nil {
		return err
	}
	for _, e := range entries {
		mark := "pending"
		if e.Applied {
			mark = "applied"
		}
		fmt.Fprintf(c.out, "%-8s %s\n", mark, e.Migration)
	}
	if dirty {
		fmt.Fprintln(c.out, "database is dirty: fix the failed migration, then run force <version>")
	}
	return nil
}

func (c *cli) source() fs.FS {
	if c.dir != "" {
		return os.DirFS(c.dir)
	}
	return migrations.FS
}

func (c *cli) withMigrator(fn func(*migration.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver == persistence.DriverSQLite {
		return errors.New("sqlite schemas are created by the server at startup; migrate targets postgres only")
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}

	m, err := migration.New(db, c.source(), c.log)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			c.log.Warn("Closing migrator", zap.Error(err))
		}
	}()
	return fn(m)
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
