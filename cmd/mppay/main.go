package main

import (
	"os"

	cmd "github.com/celestiaorg/mppay/cmd/mppay/commands"
)

func main() {
	rootCmd := cmd.RootCmd
	rootCmd.AddCommand(
		cmd.InitFilesCmd,
		cmd.RunPluginCmd,
		cmd.InvoiceCmd,
		cmd.VersionCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
