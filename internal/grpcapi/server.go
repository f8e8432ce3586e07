// Package grpcapi serves the gRPC surface. Messages are JSON-encoded
// through a custom codec over hand-written service descriptors, reusing
// the HTTP surface's JSON field names (search filters are flattened into
// the request) without a protoc build step; deadlines propagate through
// the request context.
package grpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/moabualruz/rice-search/internal/app"
	"github.com/moabualruz/rice-search/internal/indexer"
	"github.com/moabualruz/rice-search/internal/rserr"
	"github.com/moabualruz/rice-search/internal/search"
	"github.com/moabualruz/rice-search/internal/vecengine"
)

// MaxMessageSize is the gRPC message bound (100 MiB).
const MaxMessageSize = 100 << 20

// jsonCodec encodes gRPC messages as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return "json" }

// Request/response shapes mirror the HTTP surface.

// SearchRequest is one gRPC search call.
type SearchRequest struct {
	Store           string   `json:"store"`
	Query           string   `json:"query"`
	TopK            int      `json:"top_k,omitempty"`
	PathPrefix      string   `json:"path_prefix,omitempty"`
	Languages       []string `json:"languages,omitempty"`
	ConnectionID    string   `json:"connection_id,omitempty"`
	EnableReranking *bool    `json:"enable_reranking,omitempty"`
	IncludeContent  bool     `json:"include_content,omitempty"`
	SparseWeight    *float64 `json:"sparse_weight,omitempty"`
	DenseWeight     *float64 `json:"dense_weight,omitempty"`
	GroupByFile     bool     `json:"group_by_file,omitempty"`
	MaxPerFile      int      `json:"max_per_file,omitempty"`
}

// IndexRequest is one gRPC index call.
type IndexRequest struct {
	Store string             `json:"store"`
	Files []indexer.Document `json:"files"`
	Force bool               `json:"force,omitempty"`
}

// DeleteRequest removes documents.
type DeleteRequest struct {
	Store      string   `json:"store"`
	Paths      []string `json:"paths,omitempty"`
	PathPrefix string   `json:"path_prefix,omitempty"`
}

// DeleteResponse reports deletions.
type DeleteResponse struct {
	Removed int `json:"removed"`
}

// SyncRequest reconciles tracked paths.
type SyncRequest struct {
	Store        string   `json:"store"`
	CurrentPaths []string `json:"current_paths"`
}

// ListStoresRequest has no fields.
type ListStoresRequest struct{}

// ListStoresResponse lists store names.
type ListStoresResponse struct {
	Stores []string `json:"stores"`
}

// StatsRequest selects a store.
type StatsRequest struct {
	Store string `json:"store"`
}

// StatsResponse reports store counts.
type StatsResponse struct {
	Store  string `json:"store"`
	Files  int    `json:"files"`
	Chunks int    `json:"chunks"`
}

// Service implements the RPC handlers.
type Service struct {
	app    *app.App
	logger *slog.Logger
}

// NewService creates the gRPC service.
func NewService(a *app.App, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{app: a, logger: logger}
}

func (s *Service) search(ctx context.Context, req *SearchRequest) (*search.Response, error) {
	opts := search.Options{
		TopK:            req.TopK,
		EnableReranking: req.EnableReranking,
		IncludeContent:  req.IncludeContent,
		SparseWeight:    req.SparseWeight,
		DenseWeight:     req.DenseWeight,
		GroupByFile:     req.GroupByFile,
		MaxPerFile:      req.MaxPerFile,
		ConnectionID:    req.ConnectionID,
		Filter: vecengine.Filter{
			PathPrefix:   req.PathPrefix,
			Languages:    req.Languages,
			ConnectionID: req.ConnectionID,
		},
	}
	resp, err := s.app.Search.Search(ctx, req.Store, req.Query, opts)
	if err != nil {
		return nil, toStatus(err)
	}
	return resp, nil
}

func (s *Service) index(ctx context.Context, req *IndexRequest) (*indexer.Result, error) {
	result, err := s.app.Indexer.Index(ctx, req.Store, req.Files, indexer.Options{Force: req.Force})
	if err != nil {
		return nil, toStatus(err)
	}
	s.app.Metrics.IndexedFiles.Add(float64(result.Indexed))
	s.app.Metrics.IndexedChunks.Add(float64(result.ChunksTotal))
	return result, nil
}

func (s *Service) delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	var removed int
	var err error
	switch {
	case len(req.Paths) > 0:
		removed, err = s.app.Indexer.Delete(ctx, req.Store, req.Paths)
	case req.PathPrefix != "":
		removed, err = s.app.Indexer.DeleteByPrefix(ctx, req.Store, req.PathPrefix)
	default:
		return nil, status.Error(codes.InvalidArgument, "paths or path_prefix is required")
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteResponse{Removed: removed}, nil
}

func (s *Service) sync(ctx context.Context, req *SyncRequest) (*DeleteResponse, error) {
	removed, err := s.app.Indexer.Sync(ctx, req.Store, req.CurrentPaths)
	if err != nil {
		return nil, toStatus(err)
	}
	return &DeleteResponse{Removed: removed}, nil
}

func (s *Service) listStores(_ context.Context, _ *ListStoresRequest) (*ListStoresResponse, error) {
	stores := s.app.Registry.List()
	out := &ListStoresResponse{Stores: make([]string, 0, len(stores))}
	for _, st := range stores {
		out.Stores = append(out.Stores, st.Name)
	}
	return out, nil
}

func (s *Service) stats(ctx context.Context, req *StatsRequest) (*StatsResponse, error) {
	files, chunks, err := s.app.Indexer.Stats(ctx, req.Store)
	if err != nil {
		return nil, toStatus(err)
	}
	return &StatsResponse{Store: req.Store, Files: files, Chunks: chunks}, nil
}

// toStatus maps structured errors onto gRPC status codes.
func toStatus(err error) error {
	var e *rserr.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, "internal error")
	}
	switch e.Kind {
	case rserr.KindValidation:
		return status.Error(codes.InvalidArgument, e.Message)
	case rserr.KindNotFound:
		return status.Error(codes.NotFound, e.Message)
	case rserr.KindConflict:
		return status.Error(codes.FailedPrecondition, e.Message)
	case rserr.KindCapacity:
		return status.Error(codes.ResourceExhausted, e.Message)
	case rserr.KindThrottled:
		return status.Error(codes.ResourceExhausted, e.Message)
	case rserr.KindTransient:
		return status.Error(codes.Unavailable, "upstream dependency unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

// unary adapts a typed handler into a grpc.MethodDesc handler.
func unary[Req any, Resp any](fn func(context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		handler := func(ctx context.Context, r any) (any, error) {
			return fn(ctx, r.(*Req))
		}
		if interceptor != nil {
			return interceptor(ctx, req, &grpc.UnaryServerInfo{FullMethod: "/ricesearch.v1.RiceSearch"}, handler)
		}
		return handler(ctx, req)
	}
}

// serviceDesc builds the hand-written service descriptor.
func (s *Service) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: "ricesearch.v1.RiceSearch",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Search", Handler: unary(s.search)},
			{MethodName: "Index", Handler: unary(s.index)},
			{MethodName: "Delete", Handler: unary(s.delete)},
			{MethodName: "Sync", Handler: unary(s.sync)},
			{MethodName: "ListStores", Handler: unary(s.listStores)},
			{MethodName: "GetStats", Handler: unary(s.stats)},
		},
		Metadata: "ricesearch/v1/ricesearch.json",
	}
}

// Serve runs the gRPC server on addr until ctx ends.
func (s *Service) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	server := grpc.NewServer(
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.UnaryInterceptor(s.trackInterceptor),
	)
	server.RegisterService(s.serviceDesc(), s)

	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	s.logger.Info("grpc server listening", slog.String("addr", addr))
	return server.Serve(lis)
}

// trackInterceptor counts in-flight requests for the drain path.
func (s *Service) trackInterceptor(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if s.app.Draining() {
		return nil, status.Error(codes.Unavailable, "server is draining")
	}
	done := s.app.TrackRequest()
	defer done()
	return handler(ctx, req)
}
