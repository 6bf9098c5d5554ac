package grpcscheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/scheduler"
)

// backend is an in-process stand-in for an upstream execution service.
type backend struct {
	capabilities []string
}

func capabilitiesHandler(srvIface any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	b := srvIface.(*backend)
	req := new(capabilitiesRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	return &capabilitiesResponse{SupportedNodeProperties: b.capabilities}, nil
}

func executeHandler(srvIface any, stream grpc.ServerStream) error {
	b := srvIface.(*backend)
	req := new(executeRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	name := "op-" + req.ActionDigest.HashString()
	if err := stream.SendMsg(&operationMessage{Name: name, Stage: remoteexec.StageQueued}); err != nil {
		return err
	}
	if err := stream.SendMsg(&operationMessage{Name: name, Stage: remoteexec.StageExecuting}); err != nil {
		return err
	}
	return stream.SendMsg(&operationMessage{
		Name:   name,
		Stage:  remoteexec.StageCompleted,
		Result: &remoteexec.ActionResult{ExitCode: 0},
	})
}

func waitExecutionHandler(srvIface any, stream grpc.ServerStream) error {
	req := new(waitExecutionRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return stream.SendMsg(&operationMessage{
		Name:   req.OperationName,
		Stage:  remoteexec.StageCompleted,
		Result: &remoteexec.ActionResult{ExitCode: 0},
	})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCapabilities", Handler: capabilitiesHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Execute", Handler: executeHandler, ServerStreams: true},
		{StreamName: "WaitExecution", Handler: waitExecutionHandler, ServerStreams: true},
	},
}

func dialBackend(t *testing.T, b *backend) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	srv.RegisterService(&serviceDesc, b)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recvWithTimeout(t *testing.T, rx scheduler.Subscription) *scheduler.ActionState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := rx.Recv(ctx)
	require.NoError(t, err)
	return state
}

func TestAddActionStreamsStateToCompletion(t *testing.T) {
	b := &backend{capabilities: []string{"os", "cpus"}}
	conn := dialBackend(t, b)
	s := New(conn)

	info := scheduler.ActionInfo{
		UniqueQualifier: scheduler.ActionInfoHashKey{
			InstanceName: "main",
			Digest:       digest.ComputeBytes([]byte("action-1")),
		},
	}

	rx, err := s.AddAction(context.Background(), info)
	require.NoError(t, err)

	queued := recvWithTimeout(t, rx)
	assert.Equal(t, remoteexec.StageQueued, queued.Stage)

	executing := recvWithTimeout(t, rx)
	assert.Equal(t, remoteexec.StageExecuting, executing.Stage)

	completed := recvWithTimeout(t, rx)
	assert.Equal(t, remoteexec.StageCompleted, completed.Stage)
	require.NotNil(t, completed.Result)
}

func TestGetPlatformPropertyManagerCachesPerInstance(t *testing.T) {
	b := &backend{capabilities: []string{"os"}}
	conn := dialBackend(t, b)
	s := New(conn)

	m1, err := s.GetPlatformPropertyManager(context.Background(), "main")
	require.NoError(t, err)
	_, ok := m1.KnownProperties()["os"]
	assert.True(t, ok)

	m2, err := s.GetPlatformPropertyManager(context.Background(), "main")
	require.NoError(t, err)
	assert.Same(t, m1, m2, "a second call for the same instance must reuse the cached Manager")
}

func TestFindExistingActionUnknownKeyReturnsFalse(t *testing.T) {
	b := &backend{}
	conn := dialBackend(t, b)
	s := New(conn)

	_, found := s.FindExistingAction(context.Background(), scheduler.ActionInfoHashKey{})
	assert.False(t, found)
}
