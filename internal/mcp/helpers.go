package mcp

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moabualruz/rice-search/internal/vecengine"
)

// jsonResource wraps a JSON-marshaled value as a resource result.
func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// vecFilterForPath builds the single-path engine filter.
func vecFilterForPath(path string) vecengine.Filter {
	return vecengine.Filter{PathEquals: []string{path}}
}
