package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "iap-bridge",
		Short:         "In-app purchase bridge",
		Long:          `iap-bridge normalizes native store purchase events and serves the purchase command surface over gRPC.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCommand(),
		newCallCommand(),
		newEventsCommand(),
	)
	return cmd
}
