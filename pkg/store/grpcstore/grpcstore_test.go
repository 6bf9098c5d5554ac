package grpcstore

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	memstore "github.com/marmos91/turbocache/pkg/store/memory"
	"github.com/marmos91/turbocache/pkg/store"
)

// backend is the in-process stand-in for an upstream Store service: it
// answers the same three RPCs grpcstore.Store issues, backed by a real
// store.Store (memstore, here) rather than a mock.
type backend struct {
	inner store.Store
}

func hasHandler(srvIface any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
	b := srvIface.(*backend)
	req := new(hasRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	results, err := b.inner.HasWithResults(ctx, req.Digests)
	if err != nil {
		return nil, err
	}
	return &hasResponse{Results: results}, nil
}

func updateStreamHandler(srvIface any, stream grpc.ServerStream) error {
	b := srvIface.(*backend)
	var d digest.Digest
	var sizeInfo store.UploadSizeInfo
	var buf bytes.Buffer

	for {
		chunk := new(updateChunk)
		if err := stream.RecvMsg(chunk); err != nil {
			return err
		}
		if chunk.Digest != (digest.Digest{}) {
			d = chunk.Digest
			sizeInfo = chunk.SizeInfo
		}
		if chunk.Final {
			break
		}
		buf.Write(chunk.Data)
	}

	p := bytestream.New(4096)
	go func() {
		p.Write(stream.Context(), buf.Bytes())
		p.CloseWrite(nil)
	}()
	err := b.inner.Update(stream.Context(), d, p, sizeInfo)
	ack := &updateAck{}
	if err != nil {
		ack.Err = err.Error()
	}
	return stream.SendMsg(ack)
}

func getPartStreamHandler(srvIface any, stream grpc.ServerStream) error {
	b := srvIface.(*backend)
	req := new(getPartRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}

	out := bytestream.New(4096)
	errCh := make(chan error, 1)
	go func() { errCh <- b.inner.GetPart(stream.Context(), req.Digest, out, req.Offset, req.Length) }()

	buf := make([]byte, 4096)
	for {
		n, rerr := out.Read(stream.Context(), buf)
		if n > 0 {
			if serr := stream.SendMsg(&getPartChunk{Data: append([]byte(nil), buf[:n]...)}); serr != nil {
				return serr
			}
		}
		if rerr != nil {
			break
		}
	}
	if err := <-errCh; err != nil {
		return stream.SendMsg(&getPartChunk{Err: err.Error(), Done: true})
	}
	return stream.SendMsg(&getPartChunk{Done: true})
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "HasWithResults", Handler: hasHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Update", Handler: updateStreamHandler, ClientStreams: true},
		{StreamName: "GetPart", Handler: getPartStreamHandler, ServerStreams: true},
	},
}

func dialBackend(t *testing.T, inner store.Store) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	srv.RegisterService(&serviceDesc, &backend{inner: inner})
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

func TestUpdateThenGetPartRoundTrip(t *testing.T) {
	inner := memstore.New(0)
	conn := dialBackend(t, inner)
	s := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := bytes.Repeat([]byte("grpc passthrough "), 100)
	d := digest.ComputeBytes(payload)

	p := bytestream.New(4096)
	go func() {
		p.Write(ctx, payload)
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{ExactSize: int64(len(payload)), HasExactSize: true}))

	out := bytestream.New(4096)
	done := make(chan error, 1)
	go func() { done <- s.GetPart(ctx, d, out, 0, -1) }()

	var buf bytes.Buffer
	_, err := out.CopyTo(ctx, &buf)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, buf.Bytes())
}

func TestHasWithResultsForwardsToBackend(t *testing.T) {
	inner := memstore.New(0)
	conn := dialBackend(t, inner)
	s := New(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload := []byte("present")
	d := digest.ComputeBytes(payload)
	p := bytestream.New(64)
	go func() {
		p.Write(ctx, payload)
		p.CloseWrite(nil)
	}()
	require.NoError(t, s.Update(ctx, d, p, store.UploadSizeInfo{}))

	missing := digest.ComputeBytes([]byte("absent"))
	results, err := s.HasWithResults(ctx, []digest.Digest{d, missing})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Empty())
	assert.True(t, results[1].Empty())
}
