package rpcerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConstructorsCarryCode(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{NotFound("digest %s missing", "abc-1"), codes.NotFound},
		{InvalidArgument("bad size"), codes.InvalidArgument},
		{FailedPrecondition("action not prepared"), codes.FailedPrecondition},
		{Internal("backend exploded"), codes.Internal},
		{Unavailable("upstream down"), codes.Unavailable},
		{Aborted("subscriber gone"), codes.Aborted},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Code(tc.err))
		assert.True(t, Is(tc.err, tc.want))
	}
}

func TestWrapPreservesCodeAndOrdersTips(t *testing.T) {
	base := NotFound("digest missing")
	wrapped := Wrap(base, "cache lookup failed")
	assert.Equal(t, codes.NotFound, Code(wrapped))
	assert.Equal(t, "digest missing: cache lookup failed", wrapped.Error())
}

func TestWrapClassifiesPlainErrorAsInternal(t *testing.T) {
	plain := errors.New("disk full")
	wrapped := Wrap(plain, "writing part")
	assert.Equal(t, codes.Internal, Code(wrapped))
	assert.ErrorIs(t, wrapped, plain)
}

func TestCodeOfNilAndUnknown(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil))
	assert.Equal(t, codes.Unknown, Code(errors.New("plain")))
}

func TestGRPCStatusCrossesBoundary(t *testing.T) {
	err := InvalidArgument("bad argv")
	st, ok := status.FromError(err)
	assert.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())
}

func TestMerge(t *testing.T) {
	assert.NoError(t, Merge(nil, nil))

	only := Internal("rmdir failed")
	assert.Equal(t, only, Merge(nil, only))

	a := Internal("remove_dir_all failed")
	b := Internal("deregister failed")
	merged := Merge(a, b)
	assert.ErrorIs(t, merged, a)
	assert.ErrorIs(t, merged, b)
}
