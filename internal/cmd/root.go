// Package cmd is the ilgraph command line.
package cmd

import (
	"context"
	"sync"

	"github.com/eaburns/ilgraph/internal/logger"
	"github.com/eaburns/ilgraph/internal/telemetry"
	"github.com/spf13/cobra"
)

// Global flag variables
var (
	LogLevelFlag      string
	LogJSONFlag       bool
	TraceFlag         bool
	TraceEndpointFlag string
	ReportDBFlag      string
)

var (
	cleanupMu sync.Mutex
	cleanups  []func()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ilgraph",
	Short: "Control flow graph reductions for stack machine method bodies",
	Long: `ilgraph reads method bodies from listings, builds their control flow graphs,
applies reductions to them, and writes the reduced bodies back out.

Examples:
  ilgraph opt prog.il                   Apply all reductions, print to stdout
  ilgraph opt --dead --nops -o out.il prog.il
  ilgraph dump --color prog.il          Print the scope tree of each method
  ilgraph report --report-db runs.db    List the methods that failed`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("log-level") {
			logger.SetLevel(logger.ParseLevel(LogLevelFlag))
		}
		logger.SetOutput(cmd.ErrOrStderr(), LogJSONFlag)
		cleanup, err := telemetry.Init(context.Background(), telemetry.Config{
			Enabled:     TraceFlag,
			ExporterURL: TraceEndpointFlag,
			ServiceName: "ilgraph",
			Version:     Version,
		})
		if err != nil {
			return err
		}
		addCleanup(cleanup)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func addCleanup(f func()) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanups = append(cleanups, f)
}

// Cleanup flushes telemetry and closes open databases,
// most recently opened first.
func Cleanup() {
	cleanupMu.Lock()
	fs := cleanups
	cleanups = nil
	cleanupMu.Unlock()
	for i := len(fs) - 1; i >= 0; i-- {
		fs[i]()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&LogLevelFlag,
		"log-level",
		"info",
		"Log level: debug, info, warn, or error (default from $"+logger.EnvLevel+")",
	)
	rootCmd.PersistentFlags().BoolVar(
		&LogJSONFlag,
		"log-json",
		false,
		"Write logs as JSON",
	)
	rootCmd.PersistentFlags().BoolVar(
		&TraceFlag,
		"trace",
		false,
		"Export OpenTelemetry traces",
	)
	rootCmd.PersistentFlags().StringVar(
		&TraceEndpointFlag,
		"trace-endpoint",
		"localhost:4318",
		"OTLP HTTP collector endpoint",
	)
	rootCmd.PersistentFlags().StringVar(
		&ReportDBFlag,
		"report-db",
		"",
		"SQLite database recording the result of each method",
	)
}
