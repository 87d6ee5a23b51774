// Package grpcserver implements the jobmatch.v1.Matching gRPC server.
//
// It delegates all business logic to the matching queue and the
// recommender and handles only the gRPC transport concerns: metadata
// extraction, error mapping, and conversion between Struct messages and the
// domain types.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"onetime/matching-service/internal/logger"
	"onetime/matching-service/internal/matching"
	"onetime/matching-service/internal/recommend"
	"onetime/matching-service/internal/requestdata"
)

// Server implements MatchingServer.
type Server struct {
	queue     *matching.Queue
	recommend *recommend.Service
	log       *logger.Logger
}

func NewServer(q *matching.Queue, rec *recommend.Service, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{queue: q, recommend: rec, log: log.With("component", "GRPCServer")}
}

// New returns a grpc.Server with the matching service and the standard
// health service registered.
func New(srv *Server) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(srv.log)))
	s.RegisterService(&ServiceDesc, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// Join enters the caller into instant matching.
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var prefs matching.Preferences
	if err := fromStruct(req, &prefs); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	res, err := s.queue.Join(ctx, userID, prefs)
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return toStruct(res)
}

// Leave removes the caller from the queue.
func (s *Server) Leave(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	state, err := s.queue.Leave(ctx, userID)
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return toStruct(map[string]any{"status": state})
}

type respondRequest struct {
	MatchID  string  `json:"matchId"`
	Response string  `json:"response"`
	Message  *string `json:"message"`
}

// Respond accepts or rejects one of the caller's match sessions.
func (s *Server) Respond(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var in respondRequest
	if err := fromStruct(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	session, err := s.queue.Respond(ctx, userID, in.MatchID, in.Response, in.Message)
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	if session.Status == matching.StatusAccepted && s.recommend != nil {
		s.recommend.Invalidate(ctx, userID)
	}
	return toStruct(session)
}

// Recommend returns the caller's ranked postings.
func (s *Server) Recommend(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	var opts recommend.Options
	if err := fromStruct(req, &opts); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	list, err := s.recommend.Recommend(ctx, userID, opts)
	if err != nil {
		return nil, s.toGRPCError(err)
	}
	return toStruct(map[string]any{"recommendations": list, "count": len(list)})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// userIDFromCtx extracts the x-user-id value forwarded by the Gateway
// via gRPC metadata.
func userIDFromCtx(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(requestdata.Header)
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing x-user-id metadata")
	}
	return vals[0], nil
}

// toGRPCError maps domain errors to gRPC status errors.
func (s *Server) toGRPCError(err error) error {
	var (
		ve  *matching.ValidationError
		ise *matching.InvalidStateError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Msg)
	case errors.Is(err, matching.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &ise):
		return status.Error(codes.FailedPrecondition, ise.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	}
	s.log.Error("rpc failed", "err", err)
	return status.Error(codes.Internal, "internal server error")
}

// fromStruct decodes a Struct into a JSON-tagged Go value.
func fromStruct(in *structpb.Struct, dst any) error {
	if in == nil {
		return nil
	}
	raw, err := protojson.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// toStruct encodes a JSON-tagged Go value as a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		fields := []any{
			"method", info.FullMethod,
			"code", status.Code(err).String(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err != nil && status.Code(err) == codes.Internal {
			log.Error("gRPC request", fields...)
		} else {
			log.Info("gRPC request", fields...)
		}
		return resp, err
	}
}
