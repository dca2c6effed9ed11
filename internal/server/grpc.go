package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/query"
	"CoverLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Previewer values live records at a timestamp without committing anything.
type Previewer interface {
	PreviewPool(id state.PoolID, now uint64) (state.PoolInfo, error)
	PreviewPosition(id uuid.UUID, now uint64) (state.PositionInfo, error)
	PreviewCover(id uuid.UUID, now uint64) (state.CoverInfo, error)
}

// Snapshotter takes an on-demand snapshot.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) error
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer *grpc.Server
	httpServer *http.Server
	grpcAddr   string
	httpAddr   string
	deps       *ServerDeps
	logger     zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	Snapshotter   Snapshotter
	Rebuild       func(ctx context.Context) error
	Preview       Previewer
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr: grpcAddr,
		httpAddr: httpAddr,
		deps:     deps,
		logger:   deps.Logger,
	}
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logUnary))

	s.grpcServer.RegisterService(&ingestServiceDesc, &ingestServiceImpl{svc: deps.IngestService})
	s.grpcServer.RegisterService(&adminServiceDesc, &adminServiceImpl{deps: deps})

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)
	return s
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes and health endpoints
// (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	gw, err := s.gatewayMux()
	if err != nil {
		return fmt.Errorf("register gateway routes: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.deps.HealthChecker != nil {
		httpMux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", gw)

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *GRPCServer) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	lvl := zerolog.DebugLevel
	if err != nil {
		lvl = zerolog.WarnLevel
	}
	s.logger.WithLevel(lvl).
		Str("method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("grpc call")
	return resp, err
}

// unary builds a method descriptor for a JSON-coded unary call.
func unary[Req any, Resp any](service, method string, call func(srv any, ctx context.Context, req *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv, ctx, req.(*Req))
			})
		},
	}
}

// grpcError maps domain errors onto status codes.
func grpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ingestion.ErrInvalidEvent):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// ============================================================================
// IngestService
// ============================================================================

const ingestServiceName = "coverledger.v1.IngestService"

// IngestRequest carries one event payload in the same JSON shape NATS
// publishers use.
type IngestRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type ingestServer interface {
	Ingest(ctx context.Context, req *IngestRequest) (*ingestion.IngestResult, error)
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*ingestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(ingestServiceName, "Ingest", func(srv any, ctx context.Context, req *IngestRequest) (*ingestion.IngestResult, error) {
			return srv.(ingestServer).Ingest(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coverledger/v1/ingest",
}

type ingestServiceImpl struct {
	svc *ingestion.GRPCIngestService
}

func (s *ingestServiceImpl) Ingest(ctx context.Context, req *IngestRequest) (*ingestion.IngestResult, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	res, err := s.svc.Ingest(ctx, req.EventType, req.Payload)
	return res, grpcError(err)
}

// ============================================================================
// AdminService
// ============================================================================

const adminServiceName = "coverledger.v1.AdminService"

// Empty is the request of argument-less admin calls.
type Empty struct{}

// EventLogInfo summarises the event log and stored snapshots.
type EventLogInfo struct {
	LastSequence int64                      `json:"last_sequence"`
	Snapshots    []persistence.SnapshotInfo `json:"snapshots"`
	Uptime       string                     `json:"uptime"`
}

// Accepted acknowledges an admin action.
type Accepted struct {
	Accepted bool `json:"accepted"`
}

type adminServer interface {
	TakeSnapshot(ctx context.Context, req *Empty) (*Accepted, error)
	RebuildProjections(ctx context.Context, req *Empty) (*Accepted, error)
	GetEventLogInfo(ctx context.Context, req *Empty) (*EventLogInfo, error)
	VerifyIntegrity(ctx context.Context, req *Empty) (*query.IntegrityReport, error)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(adminServiceName, "TakeSnapshot", func(srv any, ctx context.Context, req *Empty) (*Accepted, error) {
			return srv.(adminServer).TakeSnapshot(ctx, req)
		}),
		unary(adminServiceName, "RebuildProjections", func(srv any, ctx context.Context, req *Empty) (*Accepted, error) {
			return srv.(adminServer).RebuildProjections(ctx, req)
		}),
		unary(adminServiceName, "GetEventLogInfo", func(srv any, ctx context.Context, req *Empty) (*EventLogInfo, error) {
			return srv.(adminServer).GetEventLogInfo(ctx, req)
		}),
		unary(adminServiceName, "VerifyIntegrity", func(srv any, ctx context.Context, req *Empty) (*query.IntegrityReport, error) {
			return srv.(adminServer).VerifyIntegrity(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coverledger/v1/admin",
}

type adminServiceImpl struct {
	deps *ServerDeps
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *Empty) (*Accepted, error) {
	if s.deps.Snapshotter == nil {
		return nil, status.Error(codes.Unavailable, "snapshots are disabled")
	}
	if err := s.deps.Snapshotter.TakeSnapshot(ctx); err != nil {
		return nil, grpcError(err)
	}
	return &Accepted{Accepted: true}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, _ *Empty) (*Accepted, error) {
	if s.deps.Rebuild == nil {
		return nil, status.Error(codes.Unavailable, "projections are disabled")
	}
	if err := s.deps.Rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &Accepted{Accepted: true}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfo, error) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	snaps, err := s.deps.SnapshotMgr.ListSnapshots(ctx, 10)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list snapshots: %v", err)
	}
	return &EventLogInfo{
		LastSequence: latestSeq,
		Snapshots:    snaps,
		Uptime:       time.Since(s.deps.StartTime).Round(time.Second).String(),
	}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.deps.QueryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}
