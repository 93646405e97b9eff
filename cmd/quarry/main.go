// Quarry is a Minecraft Java Edition 1.16.5 (protocol 754) connection
// server. It accepts client connections, walks them through status and
// login (including online-mode encryption and compression), and hands
// logged in players to a small shared lobby. Operators manage it through
// an interactive console, a REST API, Prometheus metrics and MQTT
// telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
   ___
  / _ \ _   _  __ _ _ __ _ __ _   _
 | | | | | | |/ _' | '__| '__| | | |
 | |_| | |_| | (_| | |  | |  | |_| |
  \__\_\\__,_|\__,_|_|  |_|   \__, |
                              |___/  %s
 Minecraft 1.16.5 connection server
`

func main() {
	rootCmd := serveCmd()
	rootCmd.AddCommand(
		checkCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf(banner, version)
	fmt.Println()
}

// configDirFlag registers the shared --config flag on cmd.
func configDirFlag(cmd *cobra.Command, dir *string) {
	cmd.Flags().StringVarP(dir, "config", "c", "config", "directory holding config.json")
}
