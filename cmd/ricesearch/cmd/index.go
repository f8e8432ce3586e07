package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagIndexStore string
	flagIndexForce bool
)

var indexCmd = &cobra.Command{
	Use:   "index <file>...",
	Short: "Index files into a store through a running server",
	Long:  "Reads the given files from disk and posts them to the server.\nPaths are sent relative to the current directory.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().StringVar(&flagIndexStore, "store", "default", "target store")
	indexCmd.Flags().BoolVar(&flagIndexForce, "force", false, "reindex unchanged files")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(_ *cobra.Command, args []string) error {
	type fileEntry struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	var files []fileEntry

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	for _, arg := range args {
		content, err := os.ReadFile(arg)
		if err != nil {
			return fmt.Errorf("read %s: %w", arg, err)
		}
		rel := arg
		if abs, err := filepath.Abs(arg); err == nil {
			if r, err := filepath.Rel(cwd, abs); err == nil && !strings.HasPrefix(r, "..") {
				rel = r
			}
		}
		files = append(files, fileEntry{
			Path:    filepath.ToSlash(rel),
			Content: string(content),
		})
	}

	var result map[string]any
	err = newAPIClient().do("POST", "/v1/stores/"+flagIndexStore+"/index", map[string]any{
		"files": files,
		"force": flagIndexForce,
	}, &result)
	if err != nil {
		return err
	}
	return printJSON(result)
}
