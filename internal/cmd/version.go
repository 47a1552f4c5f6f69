package cmd

import (
	"fmt"

	"github.com/eaburns/ilgraph/asm"
	version "github.com/hashicorp/go-version"
	"github.com/spf13/cobra"
)

var (
	// Version will be set by the main package
	Version = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of ilgraph",
	Run: func(cmd *cobra.Command, args []string) {
		v := Version
		if sv, err := version.NewVersion(Version); err == nil {
			v = sv.String()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ilgraph version %s (listing format %s, reads %s)\n",
			v, asm.FormatVersion, asm.Formats)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
