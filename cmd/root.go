package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/arcade/cmd/gen"
)

var rootCmd = &cobra.Command{
	Use:   "arcade",
	Short: "Arcade is a TCP game server with a ledger-settled economy",
}

func init() {
	rootCmd.AddCommand(StartCmd)
	rootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
