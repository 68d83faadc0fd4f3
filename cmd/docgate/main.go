// Package main provides the docgate CLI: the gateway server plus the
// operational subcommands around the document store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.1.3"

// configDir is set by the --config-dir flag.
var configDir string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docgate",
	Short: "Docgate bridges agents to a shared document store",
	Long: `Docgate exposes a bearer-authenticated WebSocket RPC endpoint for
reading and writing project documents in an Airtable base, plus an HTTP
surface for the agent message bus, chat proxies, and the dashboard UI.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "config", "directory holding airtable.json and projects.json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(assertSchemaCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("docgate v" + version)
	},
}
