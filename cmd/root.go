package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tunegate/tunegate/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "tunegate",
	Short: "Music metadata API gateway",
	Long:  "Tunegate forwards music metadata API requests to an upstream service and keeps time-bucketed call statistics.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)
	rootCmd.SilenceUsage = true

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print tunegate version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Detailed())
		},
	})
}
