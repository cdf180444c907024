package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/gene-chat/internal/prompt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// CompletionServiceName is the gRPC service a completion sidecar exposes.
// Requests and replies are google.protobuf.Struct values:
//
//	request: {"model": string, "temperature": number, "messages": [{"role", "content"}]}
//	reply:   {"content": string}
const CompletionServiceName = "gene.completion.v1.CompletionService"

const completeMethod = "/" + CompletionServiceName + "/Complete"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMalformedPayload         = errors.New("malformed completion payload")
)

// GrpcConfig holds configuration for the gRPC completion client.
type GrpcConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// DialOptions are appended after the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcConfig returns default configuration for addr.
func DefaultGrpcConfig(addr string) GrpcConfig {
	return GrpcConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// Grpc is a completion provider backed by a gRPC sidecar.
type Grpc struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGrpc connects to a completion sidecar and waits until the connection is ready.
func NewGrpc(cfg GrpcConfig, logger *slog.Logger) (*Grpc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("completion service address is empty")
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                cfg.KeepaliveTime,
			Timeout:             cfg.KeepaliveTimeout,
			PermitWithoutStream: false,
		}),
	}
	opts = append(opts, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to completion service at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("completion service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to completion service", "address", cfg.Address)

	return &Grpc{conn: conn, addr: cfg.Address, logger: logger}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Complete issues one unary Complete call.
func (c *Grpc) Complete(ctx context.Context, req prompt.CompletionRequest) (string, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return "", Wrap("grpc", err)
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, completeMethod, in, out); err != nil {
		c.logger.Debug("Completion call failed", "address", c.addr, "error", err)
		return "", Wrap("grpc", fmt.Errorf("complete: %w", err))
	}

	content, ok := out.GetFields()["content"]
	if !ok {
		return "", Wrap("grpc", fmt.Errorf("%w: reply has no content", errMalformedPayload))
	}
	return content.GetStringValue(), nil
}

// Close closes the gRPC connection.
func (c *Grpc) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// EncodeRequest converts a completion request to its wire Struct.
func EncodeRequest(req prompt.CompletionRequest) (*structpb.Struct, error) {
	messages := make([]any, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	s, err := structpb.NewStruct(map[string]any{
		"model":       req.Model,
		"temperature": float64(req.Temperature),
		"messages":    messages,
	})
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}
	return s, nil
}

// DecodeRequest is the inverse of EncodeRequest, used by completion servers.
func DecodeRequest(s *structpb.Struct) (prompt.CompletionRequest, error) {
	fields := s.GetFields()
	list := fields["messages"].GetListValue()
	if list == nil {
		return prompt.CompletionRequest{}, fmt.Errorf("%w: messages missing", errMalformedPayload)
	}

	req := prompt.CompletionRequest{
		Model:       fields["model"].GetStringValue(),
		Temperature: float32(fields["temperature"].GetNumberValue()),
		Messages:    make([]prompt.Message, 0, len(list.GetValues())),
	}
	for _, v := range list.GetValues() {
		m := v.GetStructValue().GetFields()
		if m == nil {
			return prompt.CompletionRequest{}, fmt.Errorf("%w: message is not an object", errMalformedPayload)
		}
		req.Messages = append(req.Messages, prompt.Message{
			Role:    m["role"].GetStringValue(),
			Content: m["content"].GetStringValue(),
		})
	}
	return req, nil
}

// CompletionServer is implemented by completion sidecars.
type CompletionServer interface {
	Complete(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// CompletionServiceDesc describes CompletionServiceName for grpc.Server.RegisterService.
var CompletionServiceDesc = grpc.ServiceDesc{
	ServiceName: CompletionServiceName,
	HandlerType: (*CompletionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Complete", Handler: completeHandler},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterCompletionServer registers srv on s.
func RegisterCompletionServer(s grpc.ServiceRegistrar, srv CompletionServer) {
	s.RegisterService(&CompletionServiceDesc, srv)
}

// ServeFunc adapts a reply function to CompletionServer.
type ServeFunc func(ctx context.Context, req prompt.CompletionRequest) (string, error)

// Complete decodes the request, calls f and encodes the reply.
func (f ServeFunc) Complete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := DecodeRequest(in)
	if err != nil {
		return nil, err
	}
	content, err := f(ctx, req)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"content": content})
}

func completeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CompletionServer).Complete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: completeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CompletionServer).Complete(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
