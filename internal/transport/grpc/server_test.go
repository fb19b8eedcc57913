package grpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/clippy-oss/homie/marketplace-chat/internal/realtime"
)

type stateSource struct {
	mu  sync.Mutex
	obs realtime.StateObserver
}

func (s *stateSource) OnStateChange(fn realtime.StateObserver) func() {
	s.mu.Lock()
	s.obs = fn
	s.mu.Unlock()
	fn(realtime.Disconnected, nil)
	return func() {
		s.mu.Lock()
		s.obs = nil
		s.mu.Unlock()
	}
}

func (s *stateSource) set(state realtime.ConnState) {
	s.mu.Lock()
	obs := s.obs
	s.mu.Unlock()
	if obs != nil {
		obs(state, nil)
	}
}

func TestHealthFollowsConnectionState(t *testing.T) {
	states := &stateSource{}
	srv := NewServer(states, ServerConfig{})

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ChatServiceName})
		require.NoError(t, err)
		return resp.Status
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	states.set(realtime.Connected)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	states.set(realtime.Connecting)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}
