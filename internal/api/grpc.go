package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/defect-analyzer/internal/config"
	"github.com/miradorstack/defect-analyzer/internal/models"
	"github.com/miradorstack/defect-analyzer/internal/utils"
)

// AnalysisEngineServiceName is the fully-qualified gRPC service name. Messages are
// google.protobuf.Struct values carrying the same JSON documents as the REST API.
const AnalysisEngineServiceName = "defects.v1.AnalysisEngine"

const (
	methodAnalyzeCorrelation       = "/" + AnalysisEngineServiceName + "/AnalyzeCorrelation"
	methodAnalyzeFeatureImportance = "/" + AnalysisEngineServiceName + "/AnalyzeFeatureImportance"
)

// AnalysisEngineServer is the server API for the AnalysisEngine service.
type AnalysisEngineServer interface {
	AnalyzeCorrelation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	AnalyzeFeatureImportance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var analysisEngineServiceDesc = grpc.ServiceDesc{
	ServiceName: AnalysisEngineServiceName,
	HandlerType: (*AnalysisEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "AnalyzeCorrelation", Handler: unaryHandler(methodAnalyzeCorrelation, AnalysisEngineServer.AnalyzeCorrelation)},
		{MethodName: "AnalyzeFeatureImportance", Handler: unaryHandler(methodAnalyzeFeatureImportance, AnalysisEngineServer.AnalyzeFeatureImportance)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "defects/v1/analysis.proto",
}

type unaryMethodHandler = func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error)

func unaryHandler(fullMethod string, call func(AnalysisEngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) unaryMethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AnalysisEngineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AnalysisEngineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterAnalysisEngineServer registers srv on s.
func RegisterAnalysisEngineServer(s grpc.ServiceRegistrar, srv AnalysisEngineServer) {
	s.RegisterService(&analysisEngineServiceDesc, srv)
}

// grpcAnalyzer adapts an Analyzer to AnalysisEngineServer.
type grpcAnalyzer struct {
	analyzer Analyzer
	logger   *slog.Logger
}

func (g *grpcAnalyzer) AnalyzeCorrelation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := g.analyzer.AnalyzeCorrelation(ctx, req)
	if err != nil {
		return nil, g.statusError("correlation", err)
	}
	return toStruct(resp)
}

func (g *grpcAnalyzer) AnalyzeFeatureImportance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := requestFromStruct(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := g.analyzer.AnalyzeFeatureImportance(ctx, req)
	if err != nil {
		return nil, g.statusError("feature importance", err)
	}
	return toStruct(resp)
}

func (g *grpcAnalyzer) statusError(analysis string, err error) error {
	code := grpcCode(err)
	if code == codes.Internal {
		g.logger.Error("grpc analysis failed", slog.String("analysis", analysis), slog.Any("error", err))
		return status.Error(code, utils.PublicMessage(err, analysis+" analysis failed"))
	}
	return status.Error(code, err.Error())
}

func requestFromStruct(in *structpb.Struct) (models.AnalysisRequest, error) {
	if in == nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: request cannot be nil", models.ErrInvalidRequest)
	}
	raw, err := in.MarshalJSON()
	if err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	var body AnalyzeRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return models.AnalysisRequest{}, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	return body.ToDomain()
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, dst interface{}) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// AnalysisEngineClient calls a remote AnalysisEngine.
type AnalysisEngineClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalysisEngineClient wraps an established connection.
func NewAnalysisEngineClient(cc grpc.ClientConnInterface) *AnalysisEngineClient {
	return &AnalysisEngineClient{cc: cc}
}

// AnalyzeCorrelation runs the correlation analysis remotely.
func (c *AnalysisEngineClient) AnalyzeCorrelation(ctx context.Context, req AnalyzeRequest, opts ...grpc.CallOption) (models.CorrelationResponse, error) {
	var resp models.CorrelationResponse
	err := c.invoke(ctx, methodAnalyzeCorrelation, req, &resp, opts...)
	return resp, err
}

// AnalyzeFeatureImportance runs the feature-importance analysis remotely.
func (c *AnalysisEngineClient) AnalyzeFeatureImportance(ctx context.Context, req AnalyzeRequest, opts ...grpc.CallOption) (models.FeatureImportanceResponse, error) {
	var resp models.FeatureImportanceResponse
	err := c.invoke(ctx, methodAnalyzeFeatureImportance, req, &resp, opts...)
	return resp, err
}

func (c *AnalysisEngineClient) invoke(ctx context.Context, method string, req AnalyzeRequest, dst interface{}, opts ...grpc.CallOption) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return err
	}
	if err := fromStruct(out, dst); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

// GRPCServer wraps the gRPC server implementation and lifecycle helpers.
type GRPCServer struct {
	cfg        config.ServerConfig
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewGRPCServer constructs a gRPC server bound to the configured address.
func NewGRPCServer(cfg config.ServerConfig, analyzer Analyzer, logger *slog.Logger, opts ...grpc.ServerOption) (*GRPCServer, error) {
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}
	return newGRPCServer(cfg, lis, analyzer, logger, opts...), nil
}

func newGRPCServer(cfg config.ServerConfig, lis net.Listener, analyzer Analyzer, logger *slog.Logger, opts ...grpc.ServerOption) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	serverOpts = append(serverOpts, opts...)
	grpcServer := grpc.NewServer(serverOpts...)

	RegisterAnalysisEngineServer(grpcServer, &grpcAnalyzer{analyzer: analyzer, logger: logger})
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthSrv.SetServingStatus(AnalysisEngineServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	reflection.Register(grpcServer)

	return &GRPCServer{
		cfg:        cfg,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
	}
}

// Start serves incoming gRPC requests until Shutdown is invoked.
func (s *GRPCServer) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown marks the server as not serving and attempts a graceful stop,
// falling back to Stop when ctx expires.
func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address (useful for tests).
func (s *GRPCServer) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *GRPCServer) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
