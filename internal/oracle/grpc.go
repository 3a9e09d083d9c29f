package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full gRPC method name served by an oracle sidecar.
// Request and response are google.protobuf.Struct messages.
const GenerateMethod = "/chipi.oracle.v1.Oracle/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingText              = errors.New("response has no text field")
)

// GRPCConfig holds configuration for the gRPC backend.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns default configuration for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCBackend forwards prompts to a model sidecar over gRPC.
type GRPCBackend struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPCBackend dials the sidecar and waits until the connection is ready.
func NewGRPCBackend(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("create oracle client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad sidecar address.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("oracle sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to oracle sidecar", "address", cfg.Address)

	return &GRPCBackend{conn: conn, addr: cfg.Address, logger: logger}, nil
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

// Generate implements Backend.
func (g *GRPCBackend) Generate(ctx context.Context, p Prompt, format Format) (string, error) {
	req, err := structpb.NewStruct(map[string]interface{}{
		"name":   p.Name,
		"system": p.System,
		"user":   p.User,
		"format": format.String(),
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("build oracle request: %w", err))
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, GenerateMethod, req, resp); err != nil {
		return "", classifyGRPCError(err)
	}

	text, ok := resp.GetFields()["text"]
	if !ok {
		return "", fmt.Errorf("%w: %w", ErrMalformedOutput, errMissingText)
	}
	return text.GetStringValue(), nil
}

func classifyGRPCError(err error) error {
	wrapped := fmt.Errorf("oracle generate: %w", err)
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return wrapped
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied, codes.Unimplemented, codes.NotFound:
		return Permanent(wrapped)
	default:
		return wrapped
	}
}

// Close closes the gRPC connection.
func (g *GRPCBackend) Close() {
	if g.conn != nil {
		if err := g.conn.Close(); err != nil {
			g.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
