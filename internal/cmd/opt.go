package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/eaburns/ilgraph/asm"
	"github.com/eaburns/ilgraph/il"
	"github.com/eaburns/ilgraph/internal/report"
	"github.com/eaburns/ilgraph/internal/run"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	optDeadFlag        bool
	optNopsFlag        bool
	optRepartitionFlag bool
	optLocalsFlag      bool
	optOutputFlag      string
	optJobsFlag        int
)

var optCmd = &cobra.Command{
	Use:   "opt [flags] <listing|dir>...",
	Short: "Apply flow graph reductions to methods",
	Long: `Build the control flow graph of every method in the listings,
apply the selected reductions, and write the reduced methods as a listing.

With none of --dead, --nops, --repartition, or --locals, all are applied.
A method that cannot be processed is written unchanged and reported.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := loadJobs(args)
		if err != nil {
			return err
		}
		opts := run.Options{
			Dead:        optDeadFlag,
			Nops:        optNopsFlag,
			Repartition: optRepartitionFlag,
			Locals:      optLocalsFlag,
			Jobs:        optJobsFlag,
		}
		if !opts.Dead && !opts.Nops && !opts.Repartition && !opts.Locals {
			opts = run.AllOptions()
			opts.Jobs = optJobsFlag
		}
		var sink run.Sink
		if ReportDBFlag != "" {
			store, err := report.Open(ReportDBFlag)
			if err != nil {
				return err
			}
			addCleanup(func() { store.Close() })
			sink = store
		}
		results, err := run.Run(cmd.Context(), opts, jobs, sink)
		if err != nil {
			return err
		}
		methods := make([]*il.Method, len(jobs))
		for i, j := range jobs {
			methods[i] = j.Method
		}
		if err := writeListing(cmd.OutOrStdout(), optOutputFlag, methods); err != nil {
			return err
		}
		printSummary(cmd.ErrOrStderr(), results)
		return nil
	},
}

func writeListing(stdout io.Writer, path string, methods []*il.Method) error {
	if path == "" || path == "-" {
		return asm.Write(stdout, methods)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := asm.Write(f, methods); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(w io.Writer, results []report.Result) {
	var dead, nops, locals, failed int
	for _, r := range results {
		dead += r.DeadBlocks
		nops += r.NopBlocks
		locals += r.Locals
		if r.Failed() {
			failed++
		}
	}
	status := color.New(color.FgGreen)
	if failed > 0 {
		status = color.New(color.FgRed)
	}
	fmt.Fprintf(w, "%d methods: %d dead blocks, %d no-op blocks, %d locals removed; %s\n",
		len(results), dead, nops, locals, status.Sprintf("%d failed", failed))
}

func init() {
	optCmd.Flags().BoolVar(&optDeadFlag, "dead", false, "Remove unreachable blocks")
	optCmd.Flags().BoolVar(&optNopsFlag, "nops", false, "Merge no-op blocks")
	optCmd.Flags().BoolVar(&optRepartitionFlag, "repartition", false, "Merge blocks into their sole predecessor")
	optCmd.Flags().BoolVar(&optLocalsFlag, "locals", false, "Remove unused local variable slots")
	optCmd.Flags().StringVarP(&optOutputFlag, "output", "o", "", "Output listing (default stdout)")
	optCmd.Flags().IntVarP(&optJobsFlag, "jobs", "j", 0, "Methods processed concurrently (default GOMAXPROCS)")
	rootCmd.AddCommand(optCmd)
}
