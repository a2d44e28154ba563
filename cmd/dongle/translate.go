package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ha1tch/dongle/pkg/dongle"
)

func newTranslateCmd(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "translate [SQL...]",
		Short: "Translate a fragment for the configured dialect",
		Long: `Translate a MySQL-flavoured fragment for the configured dialect.

The fragment is taken from the arguments, joined by spaces, or from --file,
or from standard input when neither is given.`,
		Example: `  dongle translate -d pgsql "SELECT CONCAT(first, ' ', last) FROM users"
  echo "SELECT IFNULL(nick, '') FROM users" | dongle translate -d sqlsrv
  dongle translate -d sqlite --file report.sql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" && len(args) > 0 {
				return usageErrorf("--file cannot be combined with SQL arguments")
			}

			tr := a.translator()
			out := cmd.OutOrStdout()

			if len(args) > 0 {
				_, err := fmt.Fprintln(out, tr.Translate(strings.Join(args, " ")))
				return err
			}

			var (
				input []byte
				err   error
			)
			if file != "" {
				input, err = os.ReadFile(file)
			} else {
				input, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			result := tr.Translate(string(input))
			if !strings.HasSuffix(result, "\n") {
				result += "\n"
			}
			_, err = io.WriteString(out, result)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the fragment from a file")
	return cmd
}

func newCastCmd(a *app) *cobra.Command {
	var asType string

	cmd := &cobra.Command{
		Use:   "cast EXPR",
		Short: "Wrap an expression in an explicit cast where the dialect needs one",
		Long: `Print EXPR wrapped as CAST(EXPR AS TYPE) for dialects that need explicit
casts (PostgreSQL, PostGIS), and unchanged for every other dialect.`,
		Example: `  dongle cast -d pgsql "nest_left"
  dongle cast -d pgsql --type BIGINT "parent_id"`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), a.translator().CastAs(args[0], asType))
			return err
		},
	}

	cmd.Flags().StringVarP(&asType, "type", "t", dongle.DefaultCastType, "target type")
	return cmd
}
