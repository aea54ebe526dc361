// Command mbroker is the CLI entrypoint for the embeddable message broker:
// "serve" runs a topic registry behind a small admin HTTP API, "topics"
// manages topics on a running serve instance, and "dlq" replays a topic's
// dead-letter queue. Mirrors the teacher's cmd/nova command tree: one root
// cobra.Command, one file per subcommand group, persistent flags for the
// config file and admin address.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mbroker",
		Short: "mbroker - embeddable in-process message broker",
		Long:  "CLI for running and administering an mbroker topic registry",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a JSON or YAML broker config file")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "localhost:8089", "Admin API address of a running serve instance")

	rootCmd.AddCommand(
		serveCmd(),
		topicsCmd(),
		dlqCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
