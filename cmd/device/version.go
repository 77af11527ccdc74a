package main

import (
	"github.com/spf13/cobra"
	"github.com/xelth-com/posync/internal/buildinfo"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJSON(buildinfo.Get())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
