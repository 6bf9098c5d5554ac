// Package grpcstore implements store.Store as a thin pass-through client
// to an upstream CAS/AC service over a single grpc.ClientConn — the Go
// analogue of the GrpcStore the ActionScheduler's PropertyModifierScheduler
// or CacheLookupScheduler can delegate to when this node isn't the
// system-of-record for a digest, forwarding every call unmodified rather
// than implementing a storage policy of its own.
//
// remoteexec's REv2 message shapes are hand-modeled Go structs rather than
// protoc-generated ones (see pkg/remoteexec's package doc), so this package
// can't ride the usual generated Store/ByteStream client stub either; it
// talks over the same *grpc.ClientConn using grpc-go's documented
// custom-codec extension point (see pkg/rpcwire) instead of protobuf framing.
package grpcstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/rpcwire"
	"github.com/marmos91/turbocache/pkg/store"
)

const (
	serviceName   = "turbocache.store.v1.Store"
	methodHas     = "/" + serviceName + "/HasWithResults"
	methodUpdate  = "/" + serviceName + "/Update"
	methodGetPart = "/" + serviceName + "/GetPart"

	streamChunkSize = 64 * 1024
)

// hasRequest/hasResponse/updateChunk/updateAck/getPartRequest/getPartChunk
// are the wire messages exchanged with the upstream service. They mirror
// store.Store's own method signatures closely since grpcstore's entire job
// is transparent forwarding.
type hasRequest struct {
	Digests []digest.Digest
}

type hasResponse struct {
	Results []digest.Digest
}

type updateChunk struct {
	Digest   digest.Digest
	SizeInfo store.UploadSizeInfo
	Data     []byte
	Final    bool
}

type updateAck struct {
	Err string
}

type getPartRequest struct {
	Digest digest.Digest
	Offset int64
	Length int64
}

type getPartChunk struct {
	Data []byte
	Err  string
	Done bool
}

// Store forwards every store.Store call to conn.
type Store struct {
	conn *grpc.ClientConn
}

// New wraps an established connection to an upstream Store service.
func New(conn *grpc.ClientConn) *Store {
	return &Store{conn: conn}
}

func (s *Store) Kind() store.Kind { return store.KindGRPC }

func (s *Store) OptimizedFor(store.Optimization) bool { return false }

func (s *Store) HasWithResults(ctx context.Context, digests []digest.Digest) ([]digest.Digest, error) {
	req := &hasRequest{Digests: digests}
	resp := new(hasResponse)
	if err := s.conn.Invoke(ctx, methodHas, req, resp, grpc.CallContentSubtype(rpcwire.CodecName)); err != nil {
		return nil, rpcerr.Wrap(err, "grpcstore: HasWithResults")
	}
	return resp.Results, nil
}

func (s *Store) Update(ctx context.Context, d digest.Digest, reader *bytestream.Pipe, sizeInfo store.UploadSizeInfo) error {
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ClientStreams: true}, methodUpdate, grpc.CallContentSubtype(rpcwire.CodecName))
	if err != nil {
		return rpcerr.Wrap(err, "grpcstore: opening Update stream for %s", d)
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, rerr := reader.Read(ctx, buf)
		if n > 0 {
			chunk := &updateChunk{Digest: d, SizeInfo: sizeInfo, Data: append([]byte(nil), buf[:n]...)}
			if serr := stream.SendMsg(chunk); serr != nil {
				return rpcerr.Wrap(serr, "grpcstore: sending Update chunk for %s", d)
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			_ = stream.CloseSend()
			return rpcerr.Wrap(rerr, "grpcstore: reading upload body for %s", d)
		}
	}

	if err := stream.SendMsg(&updateChunk{Digest: d, Final: true}); err != nil {
		return rpcerr.Wrap(err, "grpcstore: sending Update final marker for %s", d)
	}
	if err := stream.CloseSend(); err != nil {
		return rpcerr.Wrap(err, "grpcstore: closing Update stream for %s", d)
	}

	ack := new(updateAck)
	if err := stream.RecvMsg(ack); err != nil {
		return rpcerr.Wrap(err, "grpcstore: receiving Update ack for %s", d)
	}
	if ack.Err != "" {
		return rpcerr.Wrap(fmt.Errorf("%s", ack.Err), "grpcstore: upstream rejected Update for %s", d)
	}
	return nil
}

func (s *Store) GetPart(ctx context.Context, d digest.Digest, writer *bytestream.Pipe, offset, length int64) error {
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodGetPart, grpc.CallContentSubtype(rpcwire.CodecName))
	if err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "grpcstore: opening GetPart stream for %s", d)
	}

	req := &getPartRequest{Digest: d, Offset: offset, Length: length}
	if err := stream.SendMsg(req); err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "grpcstore: sending GetPart request for %s", d)
	}
	if err := stream.CloseSend(); err != nil {
		writer.CloseWrite(err)
		return rpcerr.Wrap(err, "grpcstore: closing GetPart send side for %s", d)
	}

	for {
		chunk := new(getPartChunk)
		if err := stream.RecvMsg(chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			writer.CloseWrite(err)
			return rpcerr.Wrap(err, "grpcstore: receiving GetPart chunk for %s", d)
		}
		if chunk.Err != "" {
			cerr := fmt.Errorf("%s", chunk.Err)
			writer.CloseWrite(cerr)
			return rpcerr.Wrap(cerr, "grpcstore: upstream error serving GetPart for %s", d)
		}
		if len(chunk.Data) > 0 {
			if _, werr := writer.Write(ctx, chunk.Data); werr != nil {
				writer.CloseWrite(werr)
				return rpcerr.Wrap(werr, "grpcstore: streaming GetPart result for %s", d)
			}
		}
		if chunk.Done {
			break
		}
	}

	writer.CloseWrite(nil)
	return nil
}
