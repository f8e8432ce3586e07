package cmd

import (
	"github.com/spf13/cobra"
)

var storesCmd = &cobra.Command{
	Use:   "stores",
	Short: "Manage stores on a running server",
}

var storesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stores",
	RunE: func(_ *cobra.Command, _ []string) error {
		var out map[string]any
		if err := newAPIClient().do("GET", "/v1/stores", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var storesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var out map[string]any
		if err := newAPIClient().do("POST", "/v1/stores", map[string]string{"name": args[0]}, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var storesDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a store",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		return newAPIClient().do("DELETE", "/v1/stores/"+args[0], nil, nil)
	},
}

var storesStatsCmd = &cobra.Command{
	Use:   "stats <name>",
	Short: "Show store statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		var out map[string]any
		if err := newAPIClient().do("GET", "/v1/stores/"+args[0]+"/stats", nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	storesCmd.AddCommand(storesListCmd, storesCreateCmd, storesDeleteCmd, storesStatsCmd)
	rootCmd.AddCommand(storesCmd)
}
