// chatliftctl is the operator CLI for the Chatlift engine: issue tenant
// tokens, drive session pairing (rendering the QR in the terminal), and
// send test messages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatlift/chatlift/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "chatliftctl",
		Short:         "Operator CLI for the Chatlift engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("url", "http://127.0.0.1:8080", "engine API base URL")
	root.PersistentFlags().String("token", os.Getenv("CHATLIFT_TOKEN"), "tenant JWT (defaults to $CHATLIFT_TOKEN)")

	root.AddCommand(
		newTokenCommand(),
		newConnectCommand(),
		newDisconnectCommand(),
		newStatusCommand(),
		newSendCommand(),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatliftctl %s\n", version.GetInfo())
		},
	}
}
