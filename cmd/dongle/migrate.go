package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ha1tch/dongle/pkg/admin"
	"github.com/ha1tch/dongle/pkg/conn"
	"github.com/ha1tch/dongle/pkg/dongle"
)

func newMigrateCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run MySQL migration helpers against the configured database",
		Long: `Administrative statements for migrating older MySQL schemas. They only
apply to MySQL; for other dialects the commands connect and do nothing.`,
	}

	cmd.AddCommand(newMigrateTimestampsCmd(a))
	cmd.AddCommand(newMigrateStrictOffCmd(a))
	return cmd
}

func newMigrateTimestampsCmd(a *app) *cobra.Command {
	var disableStrict bool

	cmd := &cobra.Command{
		Use:   "timestamps TABLE [COLUMN...]",
		Short: "Make TIMESTAMP columns nullable and clear zero dates",
		Long: `Alter each column to TIMESTAMP NULL DEFAULT NULL and replace stored zero
dates with NULL. The table prefix is prepended to TABLE. Columns default to
created_at and updated_at.`,
		Example: `  dongle migrate timestamps -d mysql --dsn "user:pass@tcp(localhost:3306)/app" users
  dongle migrate timestamps --table-prefix app_ posts published_at`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withAdmin(cmd, func(ctx context.Context, adm *admin.Admin) error {
				if disableStrict {
					if err := adm.DisableStrictMode(ctx); err != nil {
						return err
					}
				}
				columns := args[1:]
				if err := adm.ConvertTimestamps(ctx, args[0], columns...); err != nil {
					return err
				}
				if len(columns) == 0 {
					columns = admin.DefaultTimestampColumns
				}
				fmt.Fprintf(cmd.OutOrStdout(), "converted %d column(s) on %s%s\n", len(columns), a.cfg.TablePrefix, args[0])
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&disableStrict, "disable-strict", true, "clear sql_mode in the same session first")
	return cmd
}

func newMigrateStrictOffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "strict-off",
		Short: "Clear sql_mode for a session",
		Long: `Issue SET @@SQL_MODE='' once. Skipped when the connection is configured
non-strict (--strict=false). The setting only lasts for the session, so this
is mostly useful to check that the account is allowed to change it.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withAdmin(cmd, func(ctx context.Context, adm *admin.Admin) error {
				if err := adm.DisableStrictMode(ctx); err != nil {
					return err
				}
				if adm.StrictModeDisabled() {
					fmt.Fprintln(cmd.OutOrStdout(), "strict mode disabled")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "strict mode left unchanged")
				}
				return nil
			})
		},
	}
}

// withAdmin opens the configured connection, reserves a session and runs fn.
// fn is not called for dialects other than MySQL.
func (a *app) withAdmin(cmd *cobra.Command, fn func(ctx context.Context, adm *admin.Admin) error) error {
	ctx := cmd.Context()

	c, err := conn.Open(ctx, a.cfg.ConnConfig(), conn.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer c.Close()

	if c.Dialect() != dongle.DialectMySQL {
		notMySQL(cmd.OutOrStdout(), c.Dialect())
		return nil
	}

	adm, err := c.Admin(ctx)
	if err != nil {
		return err
	}
	defer adm.Close()

	return fn(ctx, adm)
}

func notMySQL(w io.Writer, d dongle.Dialect) {
	fmt.Fprintf(w, "administrative statements only apply to mysql, nothing to do for %s\n", d)
}
