package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	flagSearchStore   string
	flagSearchTopK    int
	flagSearchLang    []string
	flagSearchPrefix  string
	flagSearchGroup   bool
	flagSearchContent bool
	flagSearchJSON    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search a store through a running server",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&flagSearchStore, "store", "default", "store to search")
	searchCmd.Flags().IntVar(&flagSearchTopK, "top-k", 10, "number of results")
	searchCmd.Flags().StringSliceVar(&flagSearchLang, "language", nil, "filter by language")
	searchCmd.Flags().StringVar(&flagSearchPrefix, "path-prefix", "", "filter by path prefix")
	searchCmd.Flags().BoolVar(&flagSearchGroup, "group-by-file", false, "aggregate results per file")
	searchCmd.Flags().BoolVar(&flagSearchContent, "content", false, "include chunk content")
	searchCmd.Flags().BoolVar(&flagSearchJSON, "json", false, "raw JSON output")
	rootCmd.AddCommand(searchCmd)
}

type cliSearchResponse struct {
	Results []struct {
		Path      string  `json:"path"`
		StartLine int     `json:"start_line"`
		EndLine   int     `json:"end_line"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
	} `json:"results"`
	Total int `json:"total"`
}

func runSearch(_ *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	body := map[string]any{
		"query":           query,
		"top_k":           flagSearchTopK,
		"include_content": flagSearchContent,
		"group_by_file":   flagSearchGroup,
	}
	if flagSearchPrefix != "" || len(flagSearchLang) > 0 {
		body["filter"] = map[string]any{
			"path_prefix": flagSearchPrefix,
			"languages":   flagSearchLang,
		}
	}

	client := newAPIClient()
	if flagSearchJSON {
		var raw map[string]any
		if err := client.do("POST", "/v1/stores/"+flagSearchStore+"/search", body, &raw); err != nil {
			return err
		}
		return printJSON(raw)
	}

	var resp cliSearchResponse
	if err := client.do("POST", "/v1/stores/"+flagSearchStore+"/search", body, &resp); err != nil {
		return err
	}

	if resp.Total == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Printf("%2d. %s:%d-%d  (%.3f)\n", i+1, r.Path, r.StartLine, r.EndLine, r.Score)
		if flagSearchContent && r.Content != "" {
			for _, line := range strings.Split(r.Content, "\n") {
				fmt.Println("    " + line)
			}
		}
	}
	return nil
}
