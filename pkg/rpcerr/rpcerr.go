// Package rpcerr implements the canonical error kinds described by the
// store/scheduler/worker contracts: a gRPC status code plus an ordered chain
// of human-readable "err_tip" context frames, so a caller several layers up
// a decorator stack can see every hop an error passed through without losing
// the original code.
//
// It is deliberately a thin wrapper over google.golang.org/grpc/codes and
// google.golang.org/grpc/status rather than a bespoke error-kind enum: the
// spec's error table (NotFound, InvalidArgument, FailedPrecondition,
// Internal, Unavailable, Aborted) maps directly onto gRPC's canonical codes,
// and every RPC surface in this repo (GrpcStore, GrpcScheduler, the worker
// API) speaks gRPC anyway.
package rpcerr

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is a status-coded error carrying additive context frames.
type Error struct {
	Code codes.Code
	tips []string
	// cause is the original error that triggered this one, if any (used for
	// errors.Is/As unwrapping into non-rpcerr causes such as I/O errors).
	cause error
}

func newErr(code codes.Code, msg string) *Error {
	return &Error{Code: code, tips: []string{msg}}
}

// NotFound builds a NotFound error: digest missing in get_part, AC miss.
func NotFound(format string, args ...any) error { return newErr(codes.NotFound, fmt.Sprintf(format, args...)) }

// InvalidArgument builds an InvalidArgument error: size/hash mismatch,
// unknown property, empty argv, malformed resource name.
func InvalidArgument(format string, args ...any) error {
	return newErr(codes.InvalidArgument, fmt.Sprintf(format, args...))
}

// FailedPrecondition builds a FailedPrecondition error: RunningAction
// state-machine misuse.
func FailedPrecondition(format string, args ...any) error {
	return newErr(codes.FailedPrecondition, fmt.Sprintf(format, args...))
}

// Internal builds an Internal error: backend/transport failure, hardlink
// failure, decode failure.
func Internal(format string, args ...any) error { return newErr(codes.Internal, fmt.Sprintf(format, args...)) }

// Unavailable builds an Unavailable error: transient network failure.
func Unavailable(format string, args ...any) error {
	return newErr(codes.Unavailable, fmt.Sprintf(format, args...))
}

// Aborted builds an Aborted error: subscriber gone mid-stream. Aborted
// errors are logged and end the forwarding task; they are not surfaced to
// the client as a failure.
func Aborted(format string, args ...any) error { return newErr(codes.Aborted, fmt.Sprintf(format, args...)) }

// Wrap attaches a new err_tip frame to err, preserving its code. If err is
// not already an *Error, it is classified as Internal first (matching the
// spec's policy that unclassified backend failures surface as Internal).
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		wrapped := &Error{Code: e.Code, tips: append(append([]string{}, e.tips...), fmt.Sprintf(format, args...)), cause: e.cause}
		if wrapped.cause == nil {
			wrapped.cause = err
		}
		return wrapped
	}
	return &Error{Code: codes.Internal, tips: []string{fmt.Sprintf(format, args...), err.Error()}, cause: err}
}

// Code returns the gRPC status code carried by err: codes.OK if err is nil,
// codes.Unknown if err is not an *Error.
func Code(err error) codes.Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if err == nil {
		return codes.OK
	}
	return codes.Unknown
}

// Is reports whether err carries the given code.
func Is(err error, code codes.Code) bool {
	return Code(err) == code
}

func (e *Error) Error() string {
	return strings.Join(e.tips, ": ")
}

func (e *Error) Unwrap() error { return e.cause }

// GRPCStatus lets errors.As/status.FromError recognize *Error as a status
// error, so it can cross a real gRPC boundary unchanged.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Code, e.Error())
}

// Merge combines multiple errors into one, used by cleanup paths (e.g.
// RunningAction.cleanup's remove_dir_all + deregister) where a failure in
// either step must not hide the other. A nil-only slice returns nil; a
// single non-nil error is returned unchanged.
func Merge(errs ...error) error {
	var nonNil []error
	for _, e := range errs {
		if e != nil {
			nonNil = append(nonNil, e)
		}
	}
	switch len(nonNil) {
	case 0:
		return nil
	case 1:
		return nonNil[0]
	default:
		return errors.Join(nonNil...)
	}
}
