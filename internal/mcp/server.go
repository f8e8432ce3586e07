package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/indexer"
	"github.com/moabualruz/rice-search/internal/registry"
	"github.com/moabualruz/rice-search/internal/search"
	"github.com/moabualruz/rice-search/pkg/version"
)

// Server bridges AI clients with the search platform over MCP.
type Server struct {
	mcp    *mcp.Server
	app    *app.App
	logger *slog.Logger
}

// NewServer creates the MCP server and registers tools, resources and
// prompts.
func NewServer(a *app.App, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{app: a, logger: logger}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "rice-search",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()
	return s
}

// Run serves MCP over stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Underlying exposes the SDK server for transport composition.
func (s *Server) Underlying() *mcp.Server {
	return s.mcp
}

// =============================================================================
// Tools
// =============================================================================

// CodeSearchInput is the code_search tool input.
type CodeSearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query to execute"`
	Store      string   `json:"store,omitempty" jsonschema:"store to search, default store when empty"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"maximum number of results, default 10"`
	Languages  []string `json:"languages,omitempty" jsonschema:"filter by programming languages"`
	PathPrefix string   `json:"path_prefix,omitempty" jsonschema:"filter by path prefix"`
	GroupByFile bool    `json:"group_by_file,omitempty" jsonschema:"aggregate results per file"`
}

// CodeSearchOutput is the code_search tool output.
type CodeSearchOutput struct {
	Results []search.Result `json:"results" jsonschema:"ranked search results"`
	Total   int             `json:"total" jsonschema:"number of results"`
}

// IndexFilesInput is the index_files tool input.
type IndexFilesInput struct {
	Store string             `json:"store,omitempty" jsonschema:"target store, default store when empty"`
	Files []indexer.Document `json:"files" jsonschema:"files to index with path and content"`
	Force bool               `json:"force,omitempty" jsonschema:"reindex even when content is unchanged"`
}

// DeleteFilesInput is the delete_files tool input.
type DeleteFilesInput struct {
	Store      string   `json:"store,omitempty" jsonschema:"target store, default store when empty"`
	Paths      []string `json:"paths,omitempty" jsonschema:"paths to delete"`
	PathPrefix string   `json:"path_prefix,omitempty" jsonschema:"delete everything under this prefix"`
}

// DeleteFilesOutput reports deletions.
type DeleteFilesOutput struct {
	Removed int `json:"removed" jsonschema:"number of files removed"`
}

// ListStoresInput has no parameters.
type ListStoresInput struct{}

// ListStoresOutput lists stores.
type ListStoresOutput struct {
	Stores []StoreInfo `json:"stores" jsonschema:"available stores"`
}

// StoreInfo summarizes one store.
type StoreInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	ActiveVersion string `json:"active_version,omitempty"`
	Versions      int    `json:"versions"`
}

// StoreStatsInput selects a store.
type StoreStatsInput struct {
	Store string `json:"store,omitempty" jsonschema:"store name, default store when empty"`
}

// StoreStatsOutput reports store statistics.
type StoreStatsOutput struct {
	Store       string `json:"store"`
	Files       int    `json:"files"`
	Chunks      int    `json:"chunks"`
	QueryCount  int64  `json:"query_count"`
	ZeroResults int64  `json:"zero_result_queries"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "code_search",
		Description: "Hybrid code search over indexed stores. Combines keyword and semantic retrieval with neural reranking; understands code identifiers, not just keywords.",
	}, s.handleCodeSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_files",
		Description: "Index source files into a store. Unchanged files are skipped by content hash; pass force to reindex.",
	}, s.handleIndexFiles)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_files",
		Description: "Delete indexed files by exact paths or by path prefix.",
	}, s.handleDeleteFiles)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_stores",
		Description: "List available stores with their active versions.",
	}, s.handleListStores)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_store_stats",
		Description: "Get index and query statistics for a store.",
	}, s.handleStoreStats)

	s.logger.Info("MCP tools registered", slog.Int("count", 5))
}

func (s *Server) storeOrDefault(name string) string {
	if name == "" {
		return registry.DefaultStore
	}
	return name
}

func (s *Server) handleCodeSearch(ctx context.Context, _ *mcp.CallToolRequest, input CodeSearchInput) (*mcp.CallToolResult, CodeSearchOutput, error) {
	if input.Query == "" {
		return nil, CodeSearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	opts := search.Options{
		TopK:           input.TopK,
		IncludeContent: true,
		GroupByFile:    input.GroupByFile,
	}
	opts.Filter.Languages = input.Languages
	opts.Filter.PathPrefix = input.PathPrefix

	resp, err := s.app.Search.Search(ctx, s.storeOrDefault(input.Store), input.Query, opts)
	if err != nil {
		return nil, CodeSearchOutput{}, MapError(err)
	}
	return nil, CodeSearchOutput{Results: resp.Results, Total: resp.Total}, nil
}

func (s *Server) handleIndexFiles(ctx context.Context, _ *mcp.CallToolRequest, input IndexFilesInput) (*mcp.CallToolResult, *indexer.Result, error) {
	if len(input.Files) == 0 {
		return nil, nil, NewInvalidParamsError("files parameter is required")
	}

	result, err := s.app.Indexer.Index(ctx, s.storeOrDefault(input.Store), input.Files, indexer.Options{Force: input.Force})
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, result, nil
}

func (s *Server) handleDeleteFiles(ctx context.Context, _ *mcp.CallToolRequest, input DeleteFilesInput) (*mcp.CallToolResult, DeleteFilesOutput, error) {
	store := s.storeOrDefault(input.Store)

	var removed int
	var err error
	switch {
	case len(input.Paths) > 0:
		removed, err = s.app.Indexer.Delete(ctx, store, input.Paths)
	case input.PathPrefix != "":
		removed, err = s.app.Indexer.DeleteByPrefix(ctx, store, input.PathPrefix)
	default:
		return nil, DeleteFilesOutput{}, NewInvalidParamsError("paths or path_prefix is required")
	}
	if err != nil {
		return nil, DeleteFilesOutput{}, MapError(err)
	}
	return nil, DeleteFilesOutput{Removed: removed}, nil
}

func (s *Server) handleListStores(_ context.Context, _ *mcp.CallToolRequest, _ ListStoresInput) (*mcp.CallToolResult, ListStoresOutput, error) {
	stores := s.app.Registry.List()
	out := ListStoresOutput{Stores: make([]StoreInfo, 0, len(stores))}
	for _, st := range stores {
		info := StoreInfo{
			Name:        st.Name,
			Description: st.Description,
			Versions:    len(st.Versions),
		}
		if v := st.Active(); v != nil {
			info.ActiveVersion = v.ID
		}
		out.Stores = append(out.Stores, info)
	}
	return nil, out, nil
}

func (s *Server) handleStoreStats(ctx context.Context, _ *mcp.CallToolRequest, input StoreStatsInput) (*mcp.CallToolResult, StoreStatsOutput, error) {
	store := s.storeOrDefault(input.Store)

	files, chunks, err := s.app.Indexer.Stats(ctx, store)
	if err != nil {
		return nil, StoreStatsOutput{}, MapError(err)
	}

	stats := s.app.Collector.Stats(store)
	return nil, StoreStatsOutput{
		Store:       store,
		Files:       files,
		Chunks:      chunks,
		QueryCount:  stats.Total,
		ZeroResults: stats.ZeroResults,
	}, nil
}

// =============================================================================
// Resources
// =============================================================================

// registerResources exposes store://{name}/{files,stats,file/{path}}
// via a resource template.
func (s *Server) registerResources() {
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "store",
			URITemplate: "store://{store}/{+rest}",
			Description: "Store resources: files listing, stats, and indexed file contents",
			MIMEType:    "application/json",
		},
		s.handleResourceRead,
	)
}

func (s *Server) handleResourceRead(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	trimmed, ok := strings.CutPrefix(uri, "store://")
	if !ok {
		return nil, NewMethodNotFoundError(uri)
	}

	store, rest, _ := strings.Cut(trimmed, "/")
	if _, err := s.app.Registry.Get(store); err != nil {
		return nil, MapError(err)
	}

	switch {
	case rest == "files":
		files, total := s.app.Tracker.List(store, 1, 10000)
		return jsonResource(uri, map[string]any{"files": files, "total": total})

	case rest == "stats":
		files, chunks, err := s.app.Indexer.Stats(ctx, store)
		if err != nil {
			return nil, MapError(err)
		}
		return jsonResource(uri, map[string]any{
			"store":  store,
			"files":  files,
			"chunks": chunks,
			"query":  s.app.Collector.Stats(store),
		})

	case strings.HasPrefix(rest, "file/"):
		path := strings.TrimPrefix(rest, "file/")
		return s.readIndexedFile(ctx, uri, store, path)

	default:
		return nil, NewMethodNotFoundError(uri)
	}
}

// readIndexedFile reconstructs a file's indexed content from its chunks.
func (s *Server) readIndexedFile(ctx context.Context, uri, store, path string) (*mcp.ReadResourceResult, error) {
	if err := indexer.ValidatePath(path); err != nil {
		return nil, NewInvalidParamsError(err.Error())
	}
	if s.app.Tracker.Get(store, path) == nil {
		return nil, NewInvalidParamsError(fmt.Sprintf("file not indexed: %s", path))
	}

	res, err := s.app.Registry.Resolve(store, "")
	if err != nil {
		return nil, MapError(err)
	}

	var parts []string
	cursor := ""
	for {
		points, next, err := s.app.Engine.Scroll(ctx, res.DenseName,
			vecFilterForPath(path), 100, cursor)
		if err != nil {
			return nil, MapError(err)
		}
		for _, p := range points {
			parts = append(parts, p.Payload.Content)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/plain",
				Text:     strings.Join(parts, "\n"),
			},
		},
	}, nil
}

// =============================================================================
// Prompts
// =============================================================================

func (s *Server) registerPrompts() {
	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        "find_implementation",
			Description: "Locate the implementation of a feature or behavior",
			Arguments: []*mcp.PromptArgument{
				{Name: "feature", Description: "What to look for", Required: true},
			},
		},
		func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			feature := req.Params.Arguments["feature"]
			return &mcp.GetPromptResult{
				Messages: []*mcp.PromptMessage{
					{
						Role: "user",
						Content: &mcp.TextContent{
							Text: fmt.Sprintf("Use code_search to find where %q is implemented, then summarize the key functions and their call flow.", feature),
						},
					},
				},
			}, nil
		},
	)

	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        "explain_architecture",
			Description: "Explain how a subsystem is structured",
			Arguments: []*mcp.PromptArgument{
				{Name: "subsystem", Description: "Subsystem to explain", Required: true},
			},
		},
		func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			subsystem := req.Params.Arguments["subsystem"]
			return &mcp.GetPromptResult{
				Messages: []*mcp.PromptMessage{
					{
						Role: "user",
						Content: &mcp.TextContent{
							Text: fmt.Sprintf("Search for the main entry points of the %s subsystem with code_search, then explain its architecture and data flow.", subsystem),
						},
					},
				},
			}, nil
		},
	)
}
