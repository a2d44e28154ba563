package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ha1tch/dongle/pkg/conn"
	"github.com/ha1tch/dongle/pkg/dongle"
)

type dialectRow struct {
	Name     string          `json:"name" yaml:"name"`
	Aliases  []string        `json:"aliases" yaml:"aliases"`
	Driver   string          `json:"driver" yaml:"driver"`
	Features dongle.Features `json:"features" yaml:"features"`
}

func dialectRows() []dialectRow {
	rows := make([]dialectRow, 0, len(dongle.Dialects()))
	for _, d := range dongle.Dialects() {
		aliases := d.Aliases()
		if aliases == nil {
			aliases = []string{}
		}
		rows = append(rows, dialectRow{
			Name:     d.String(),
			Aliases:  aliases,
			Driver:   conn.SQLDriver(d),
			Features: d.Features(),
		})
	}
	return rows
}

func newDialectsCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "dialects",
		Short: "List the supported dialects and their rewrites",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows := dialectRows()
			out := cmd.OutOrStdout()

			switch strings.ToLower(format) {
			case "table", "":
				renderDialectTable(out, rows)
				return nil
			case "json":
				return renderDialectJSON(out, rows)
			case "yaml", "yml":
				return renderDialectYAML(out, rows)
			default:
				return usageErrorf("unknown format %q (want table, json or yaml)", format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "format", "o", "table", "output format (table, json, yaml)")
	_ = cmd.RegisterFlagCompletionFunc("format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func renderDialectTable(w io.Writer, rows []dialectRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Dialect", "Aliases", "Driver", "GROUP_CONCAT", "CONCAT", "IFNULL", "Booleans", "Cast"})
	for _, r := range rows {
		f := r.Features
		t.AppendRow(table.Row{
			r.Name,
			strings.Join(r.Aliases, ", "),
			r.Driver,
			orDefault(f.AggregateFunc, "GROUP_CONCAT"),
			concatExample(f.ConcatOperator),
			orDefault(f.NullCoalesceFunc, "IFNULL"),
			booleanExample(f.IntegerBooleans),
			castExample(f.ExplicitCasts),
		})
	}
	t.Render()
}

func renderDialectJSON(w io.Writer, rows []dialectRow) error {
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func renderDialectYAML(w io.Writer, rows []dialectRow) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return err
	}
	return enc.Close()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func concatExample(op string) string {
	if op == "" {
		return "CONCAT(a, b)"
	}
	return "a " + op + " b"
}

func booleanExample(integer bool) string {
	if integer {
		return "1 / 0"
	}
	return "true / false"
}

func castExample(explicit bool) string {
	if explicit {
		return "CAST(x AS INTEGER)"
	}
	return "x"
}
