package main

import (
	"fmt"
	"os"

	"github.com/flotilla-dev/flotilla/cli"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "flotilla-cli",
		Short: "CLI for the flotilla worker pool engine",
		Long:  ``,
	}

	rootCmd.PersistentFlags().StringVarP(&cli.ServerURL, "server", "s", cli.ServerURL, "Engine server URL")

	rootCmd.AddCommand(cli.NewPoolCmd())
	rootCmd.AddCommand(cli.NewConfigCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
