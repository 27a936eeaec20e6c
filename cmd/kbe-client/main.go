// Command kbe-client logs in to a KBEngine cluster and logs the events the
// session produces. It is a smoke test for a server deployment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kbe-client",
		Short: "Headless KBEngine client",
		Long: `kbe-client connects to the login tier of a KBEngine cluster, negotiates
the message table, logs in and follows the handoff to the gameplay tier.
Every event fired along the way is logged.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		loginCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
