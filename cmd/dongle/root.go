package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/ha1tch/dongle/pkg/config"
	"github.com/ha1tch/dongle/pkg/dongle"
	"github.com/ha1tch/dongle/pkg/log"
	"github.com/ha1tch/dongle/pkg/version"
)

// app carries state resolved before any subcommand runs.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *log.Logger
}

// load resolves configuration from the file, environment and the flags set
// on cmd, then builds the logger.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Logger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if cfg.File != "" {
		logger.System().Debug("using config file", "file", cfg.File)
	}

	a.cfg = cfg
	a.logger = logger
	cmd.SetContext(log.WithLogger(cmd.Context(), logger))
	return nil
}

func (a *app) translator() *dongle.Translator {
	return dongle.New(a.cfg.Dialect(), a.cfg.TablePrefix, dongle.WithLogger(a.logger))
}

// usageArgs marks argument validation failures as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "dongle",
		Short: "Translate MySQL SQL fragments for other database engines",
		Long: `dongle rewrites MySQL-flavoured SQL fragments for PostgreSQL, PostGIS,
SQLite and SQL Server: GROUP_CONCAT, CONCAT, IFNULL and boolean literals.

Settings are read from ./dongle.yaml (or --config), then DONGLE_* environment
variables, then flags.`,
		Version: version.String(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}
			return a.load(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("{{.Name}} version {{.Version}}\n")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./dongle.yaml)")
	pf.StringP("driver", "d", "", "target dialect: mysql, pgsql, postgis, sqlite, sqlsrv")
	pf.String("dsn", "", "database connection string")
	pf.String("table-prefix", "", "table name prefix")
	pf.Bool("strict", true, "whether the MySQL server runs in strict mode")
	pf.String("log-level", "", "log level (debug, info, warn, error, off)")
	pf.String("log-format", "", "log format (text, json)")

	_ = root.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		names := make([]string, 0, len(dongle.Dialects()))
		for _, d := range dongle.Dialects() {
			names = append(names, d.String())
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newTranslateCmd(a))
	root.AddCommand(newCastCmd(a))
	root.AddCommand(newDialectsCmd())
	root.AddCommand(newWatchCmd(a))
	root.AddCommand(newMigrateCmd(a))
	root.AddCommand(newVersionCmd())

	return root
}
