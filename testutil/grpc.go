package testutil

import (
	"context"
	"net"
	"testing"

	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_zap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// RunGRPCServer serves the registered services over an in-memory listener and
// returns a client connection to it. Both are shut down when the test ends.
func RunGRPCServer(t *testing.T, opts ...ServerOption) grpc.ClientConnInterface {
	lis := bufconn.Listen(1024 * 1024)
	log := zap.Must(zap.NewDevelopment())

	o := serverOpts{
		unaryServerInterceptors: []grpc.UnaryServerInterceptor{
			grpc_zap.UnaryServerInterceptor(log),
			grpc_recovery.UnaryServerInterceptor(),
		},
		streamServerInterceptors: []grpc.StreamServerInterceptor{
			grpc_zap.StreamServerInterceptor(log),
			grpc_recovery.StreamServerInterceptor(),
		},
	}

	for _, opt := range opts {
		opt(&o)
	}

	cc, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithChainUnaryInterceptor(o.unaryClientInterceptors...),
		grpc.WithChainStreamInterceptor(o.streamClientInterceptors...),
	)
	require.NoError(t, err)

	serv := grpc.NewServer(
		grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(o.unaryServerInterceptors...)),
		grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(o.streamServerInterceptors...)),
	)

	for _, r := range o.registrants {
		r(serv)
	}

	go func() {
		if err := serv.Serve(lis); err != nil {
			log.Warn("Failed to shutdown test server", zap.Error(err))
		}
	}()

	t.Cleanup(func() {
		_ = cc.Close()
		serv.Stop()
		if err := lis.Close(); err != nil {
			log.Warn("Failed to shutdown test listener", zap.Error(err))
		}
	})

	return cc
}

type serverOpts struct {
	registrants []func(*grpc.Server)

	unaryClientInterceptors  []grpc.UnaryClientInterceptor
	streamClientInterceptors []grpc.StreamClientInterceptor

	unaryServerInterceptors  []grpc.UnaryServerInterceptor
	streamServerInterceptors []grpc.StreamServerInterceptor
}

// ServerOption configures the settings when creating a test server.
type ServerOption func(o *serverOpts)

// WithUnaryClientInterceptor adds a unary client interceptor to the test client.
func WithUnaryClientInterceptor(i grpc.UnaryClientInterceptor) ServerOption {
	return func(o *serverOpts) {
		o.unaryClientInterceptors = append(o.unaryClientInterceptors, i)
	}
}

// WithUnaryServerInterceptor adds a unary server interceptor to the test server.
func WithUnaryServerInterceptor(i grpc.UnaryServerInterceptor) ServerOption {
	return func(o *serverOpts) {
		o.unaryServerInterceptors = append(o.unaryServerInterceptors, i)
	}
}

// WithService registers a function to be called in order to bind a service.
func WithService(f func(*grpc.Server)) ServerOption {
	return func(o *serverOpts) {
		o.registrants = append(o.registrants, f)
	}
}
