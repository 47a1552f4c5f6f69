package cmd

import (
	"errors"
	"fmt"

	"github.com/eaburns/ilgraph/internal/report"
	"github.com/spf13/cobra"
)

var reportAllFlag bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "List the method results recorded in --report-db",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ReportDBFlag == "" {
			return errors.New("--report-db is required")
		}
		store, err := report.Open(ReportDBFlag)
		if err != nil {
			return err
		}
		defer store.Close()
		query := store.Failures
		if reportAllFlag {
			query = store.Results
		}
		results, err := query(cmd.Context())
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, r := range results {
			if r.Failed() {
				fmt.Fprintf(w, "%s: %s\n", r.Path, r.Err)
				continue
			}
			fmt.Fprintf(w, "%s: method %08X: %s: %d dead, %d no-op, %d locals\n",
				r.Path, uint32(r.Token), r.Name, r.DeadBlocks, r.NopBlocks, r.Locals)
		}
		return nil
	},
}

func init() {
	reportCmd.Flags().BoolVar(&reportAllFlag, "all", false, "List successful methods too")
	rootCmd.AddCommand(reportCmd)
}
