package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"quantdash/internal/domain"
)

// BacktestServiceName is the fully-qualified gRPC service name.
const BacktestServiceName = "quantdash.v1.BacktestService"

// BacktestServer is the server API of quantdash.v1.BacktestService.
// Messages are google.protobuf.Struct values carrying the same JSON
// documents as the HTTP API.
type BacktestServer interface {
	// Run executes a backtest. The request holds run parameters; the
	// response holds the result bundle.
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

	// GetRun returns an archived result. The request holds {"run_id": ...}.
	GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// BacktestServiceDesc describes quantdash.v1.BacktestService for
// grpc.Server.RegisterService.
var BacktestServiceDesc = grpc.ServiceDesc{
	ServiceName: BacktestServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler("Run", BacktestServer.Run)},
		{MethodName: "GetRun", Handler: unaryHandler("GetRun", BacktestServer.GetRun)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quantdash/v1/backtest.proto",
}

func unaryHandler(method string, call func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	fullMethod := "/" + BacktestServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RegisterBacktestService registers srv on s.
func RegisterBacktestService(s *grpc.Server, srv BacktestServer) {
	s.RegisterService(&BacktestServiceDesc, srv)
}

// ---------------------------------------------------------------------------
// Server implementation
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ BacktestServer = (*BacktestService)(nil)

// BacktestService serves quantdash.v1.BacktestService on top of a Server,
// sharing its panel and run archive.
type BacktestService struct {
	srv *Server
}

// NewBacktestService creates a BacktestService backed by srv.
func NewBacktestService(srv *Server) *BacktestService {
	return &BacktestService{srv: srv}
}

// Run decodes parameters over the server defaults and runs a backtest.
func (b *BacktestService) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	params := b.srv.defaults
	if len(req.GetFields()) > 0 {
		data, err := json.Marshal(req.AsMap())
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		if err := json.Unmarshal(data, &params); err != nil {
			return nil, grpcError(err)
		}
	}
	res, err := b.srv.RunBacktest(ctx, params)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

// GetRun returns the archived run named by the "run_id" field.
func (b *BacktestService) GetRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["run_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	if b.srv.runs == nil {
		return nil, status.Error(codes.NotFound, "run archive disabled")
	}
	res, err := b.srv.runs.GetRun(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

// grpcError maps a domain error to a status with the same kind as the HTTP
// API reports.
func grpcError(err error) error {
	code, kind := Classify(err)
	var c codes.Code
	switch code {
	case http.StatusBadRequest:
		c = codes.InvalidArgument
	case http.StatusUnprocessableEntity:
		c = codes.FailedPrecondition
	case http.StatusNotFound:
		c = codes.NotFound
	default:
		c = codes.Internal
	}
	return status.Errorf(c, "%s: %v", kind, err)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// BacktestClient calls quantdash.v1.BacktestService.
type BacktestClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestClient creates a client on an established connection.
func NewBacktestClient(cc grpc.ClientConnInterface) *BacktestClient {
	return &BacktestClient{cc: cc}
}

// Run executes a backtest with params and decodes the result.
func (c *BacktestClient) Run(ctx context.Context, params domain.Params, opts ...grpc.CallOption) (*domain.Result, error) {
	in, err := toStruct(params)
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Run", in, opts...)
}

// GetRun fetches an archived run.
func (c *BacktestClient) GetRun(ctx context.Context, id string, opts ...grpc.CallOption) (*domain.Result, error) {
	in, err := structpb.NewStruct(map[string]any{"run_id": id})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "GetRun", in, opts...)
}

func (c *BacktestClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*domain.Result, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+BacktestServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	data, err := json.Marshal(out.AsMap())
	if err != nil {
		return nil, err
	}
	var res domain.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	return &res, nil
}
