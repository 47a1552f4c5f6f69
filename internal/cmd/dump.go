package cmd

import (
	"fmt"
	"strings"

	"github.com/eaburns/ilgraph/blocks"
	"github.com/eaburns/ilgraph/internal/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var dumpColorFlag bool

var dumpCmd = &cobra.Command{
	Use:   "dump [flags] <listing|dir>...",
	Short: "Print the scope tree and blocks of each method",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := loadJobs(args)
		if err != nil {
			return err
		}
		header := color.New(color.Bold)
		scope := color.New(color.FgCyan)
		if dumpColorFlag {
			header.EnableColor()
			scope.EnableColor()
		} else {
			header.DisableColor()
			scope.DisableColor()
		}
		w := cmd.OutOrStdout()
		for _, j := range jobs {
			m := j.Method
			fmt.Fprintln(w, header.Sprintf("%s: method %08X %s", j.Path, uint32(m.Token), m.Name))
			b, err := blocks.New(m)
			if err != nil {
				logger.Logger.Warn("method not built", "path", j.Path, "err", err)
				fmt.Fprintf(w, "\t%s\n", err)
				continue
			}
			for _, line := range strings.SplitAfter(b.MethodBlocks().String(), "\n") {
				if strings.HasSuffix(line, "{\n") {
					line = scope.Sprint(strings.TrimSuffix(line, "\n")) + "\n"
				}
				fmt.Fprint(w, line)
			}
		}
		return nil
	},
}

func init() {
	dumpCmd.Flags().BoolVar(&dumpColorFlag, "color", false, "Colorize scope headers")
	rootCmd.AddCommand(dumpCmd)
}
