// vsmgr is the Vintage Story server manager: a daemon supervising one
// dedicated server, and a client CLI talking to that daemon's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "vsmgr",
		Short:         "Manage a Vintage Story dedicated server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var api apiFlags
	root.PersistentFlags().StringVar(&api.URL, "api", defaultAPIURL, "daemon API base URL")
	root.PersistentFlags().StringVar(&api.Token, "token", os.Getenv("VSMGR_TOKEN"), "bearer token for an auth-enabled daemon")
	root.PersistentFlags().DurationVar(&api.Timeout, "timeout", defaultAPITimeout, "API request timeout")

	root.AddCommand(
		newServeCmd(),
		newStatusCmd(&api),
		newVersionsCmd(&api),
		newInstallCmd(&api),
		newUninstallCmd(&api),
		newStartCmd(&api),
		newStopCmd(&api),
		newRestartCmd(&api),
		newCommandCmd(&api),
		newConsoleCmd(&api),
		newEventsCmd(&api),
		newModsCmd(&api),
		newLoginCmd(&api),
	)
	return root
}
