// Package worker implements the RunningAction state machine a worker drives
// one submitted action through: New -> Prepared -> Executed -> Uploaded ->
// CleanedUp. RunningActionsManager tracks every action currently assigned
// to this worker and hands out its work directory.
package worker

import (
	"bytes"
	"context"

	"github.com/marmos91/turbocache/pkg/bytestream"
	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/store"
)

// ExitCodeForSignal is reported as an action's exit code when its process
// was terminated by a signal rather than exiting normally, since POSIX
// doesn't give a process-visible exit code in that case.
const ExitCodeForSignal int32 = 9

// getBlob fetches and fully buffers the blob addressed by d from s. Used
// for Command/Directory fetches and small output files, all bounded by the
// same assumptions the original worker makes about input sizes.
func getBlob(ctx context.Context, s store.Store, d digest.Digest) ([]byte, error) {
	pipe := bytestream.New(-1)
	go func() { _ = s.GetPart(ctx, d, pipe, 0, -1) }()

	var buf bytes.Buffer
	if _, err := pipe.CopyTo(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// putBlob uploads data to s under its content digest, returning that
// digest.
func putBlob(ctx context.Context, s store.Store, data []byte) (digest.Digest, error) {
	d := digest.ComputeBytes(data)

	pipe := bytestream.New(int64(len(data)))
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Update(ctx, d, pipe, store.UploadSizeInfo{ExactSize: int64(len(data)), HasExactSize: true})
	}()

	if _, err := pipe.Write(ctx, data); err != nil {
		pipe.CloseWrite(err)
		<-errCh
		return digest.Digest{}, err
	}
	pipe.CloseWrite(nil)

	if err := <-errCh; err != nil {
		return digest.Digest{}, err
	}
	return d, nil
}
