// Package cmd implements the ricesearch CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/moabualruz/rice-search/pkg/version"
)

var (
	flagConfig string
	flagServer string
	flagDebug  bool
)

var rootCmd = &cobra.Command{
	Use:           "ricesearch",
	Short:         "Local multi-tenant hybrid code-search platform",
	Long:          "ricesearch ingests source files, builds sparse and dense indexes,\nand serves low-latency hybrid queries over HTTP, gRPC, WebSocket and MCP.",
	Version:       version.Short(),
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "http://localhost:8680", "server base URL for client commands")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
