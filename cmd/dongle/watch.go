package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ha1tch/dongle/pkg/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch SRC DST",
		Short: "Keep a directory of translated .sql files in step with its sources",
		Long: `Translate every .sql file under SRC into the same relative path under DST,
then keep watching SRC and re-translate files as they change. Removing a
source removes its output. Stop with Ctrl-C.`,
		Example: `  dongle watch -d pgsql queries/ build/pgsql/
  dongle watch -d sqlite --once queries/ build/sqlite/`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			w, err := watch.NewWatcher(args[0], args[1], a.translator(), a.logger,
				watch.WithDebounceDelay(a.cfg.Watch.Debounce),
				watch.WithOnTranslate(func(src, dst, event string) {
					if event == watch.EventUnchanged {
						return
					}
					fmt.Fprintf(out, "%-9s %s -> %s\n", event, src, dst)
				}),
			)
			if err != nil {
				return err
			}
			defer w.Stop()

			n, err := w.TranslateAll()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "translated %d file(s) for %s\n", n, a.cfg.Dialect())

			if once {
				return nil
			}

			if err := w.Start(); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().Duration("debounce", watch.DefaultDebounceDelay, "delay used to batch file events")
	cmd.Flags().BoolVar(&once, "once", false, "translate the tree once and exit")
	return cmd
}
