// Package grpcscheduler implements GrpcScheduler: the terminal
// ActionScheduler that forwards execution to an upstream RBE execution
// service over a single grpc.ClientConn, rather than running actions
// itself.
package grpcscheduler

import (
	"context"
	"errors"
	"io"
	"sync"

	"google.golang.org/grpc"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/platform"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/rpcwire"
	"github.com/marmos91/turbocache/pkg/scheduler"
	"github.com/marmos91/turbocache/pkg/scheduler/watch"
)

const (
	serviceName        = "turbocache.scheduler.v1.Execution"
	methodCapabilities = "/" + serviceName + "/GetCapabilities"
	methodExecute      = "/" + serviceName + "/Execute"
	methodWaitExec     = "/" + serviceName + "/WaitExecution"
)

// Wire messages exchanged with the upstream execution service.
type capabilitiesRequest struct {
	InstanceName string
}

type capabilitiesResponse struct {
	// SupportedNodeProperties lists the platform property names the
	// upstream honors. The original scheduler classifies every one of
	// these as PropertyType::Exact when building a PlatformPropertyManager
	// for the instance; this port does the same.
	SupportedNodeProperties []string
}

type executeRequest struct {
	InstanceName       string
	ActionDigest       digest.Digest
	SkipCacheLookup    bool
	Priority           int32
	HasExecutionPolicy bool // mirrors the original's "only set ExecutionPolicy when priority != default"
}

type waitExecutionRequest struct {
	OperationName string
}

// operationMessage is one update in an Execute/WaitExecution response
// stream. Name identifies the operation so a later WaitExecution can
// resume watching it; it is only guaranteed to be set on the first message
// of a stream.
type operationMessage struct {
	Name   string
	Key    scheduler.ActionInfoHashKey
	Stage  remoteexec.ActionStage
	Result *remoteexec.ActionResult
	Err    string
}

// Scheduler is the terminal ActionScheduler, forwarding to an upstream
// execution service. It never itself runs an action.
type Scheduler struct {
	conn *grpc.ClientConn

	mu   sync.Mutex
	ppms map[string]*platform.Manager
	ops  map[scheduler.ActionInfoHashKey]string // hash key -> upstream operation name
}

// New wraps conn, an established connection to an upstream execution
// service.
func New(conn *grpc.ClientConn) *Scheduler {
	return &Scheduler{
		conn: conn,
		ppms: make(map[string]*platform.Manager),
		ops:  make(map[scheduler.ActionInfoHashKey]string),
	}
}

// GetPlatformPropertyManager fetches (and caches per instance) the
// upstream's capabilities, building a Manager that treats every supported
// property as TypeExact — the original scheduler's simplifying assumption,
// since the upstream's own scheduler is responsible for any richer
// matching (Minimum/Priority) it wants to apply.
func (s *Scheduler) GetPlatformPropertyManager(ctx context.Context, instanceName string) (*platform.Manager, error) {
	s.mu.Lock()
	if m, ok := s.ppms[instanceName]; ok {
		s.mu.Unlock()
		return m, nil
	}
	s.mu.Unlock()

	req := &capabilitiesRequest{InstanceName: instanceName}
	resp := new(capabilitiesResponse)
	if err := s.conn.Invoke(ctx, methodCapabilities, req, resp, grpc.CallContentSubtype(rpcwire.CodecName)); err != nil {
		return nil, rpcerr.Wrap(err, "grpcscheduler: GetCapabilities for instance %q", instanceName)
	}

	known := make(map[string]platform.Type, len(resp.SupportedNodeProperties))
	for _, name := range resp.SupportedNodeProperties {
		known[name] = platform.TypeExact
	}
	m := platform.NewManager(known)

	s.mu.Lock()
	s.ppms[instanceName] = m
	s.mu.Unlock()
	return m, nil
}

// AddAction issues an Execute RPC and streams the resulting operation
// updates into a Subscription, recording the operation's upstream name (as
// soon as it is known) so a later FindExistingAction can resume watching it
// via WaitExecution.
func (s *Scheduler) AddAction(ctx context.Context, info scheduler.ActionInfo) (scheduler.Subscription, error) {
	req := &executeRequest{
		InstanceName:       info.InstanceName(),
		ActionDigest:       info.ActionDigest(),
		SkipCacheLookup:    info.SkipCacheLookup,
		Priority:           info.Priority,
		HasExecutionPolicy: info.Priority != scheduler.DefaultExecutionPriority,
	}

	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodExecute, grpc.CallContentSubtype(rpcwire.CodecName))
	if err != nil {
		return nil, rpcerr.Wrap(err, "grpcscheduler: opening Execute stream for %s", info.ActionDigest())
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, rpcerr.Wrap(err, "grpcscheduler: sending Execute request for %s", info.ActionDigest())
	}
	if err := stream.CloseSend(); err != nil {
		return nil, rpcerr.Wrap(err, "grpcscheduler: closing Execute send side for %s", info.ActionDigest())
	}

	return s.streamState(context.WithoutCancel(ctx), info.UniqueQualifier, stream), nil
}

// FindExistingAction resumes watching a previously submitted action via
// WaitExecution, if this scheduler instance has seen its operation name.
func (s *Scheduler) FindExistingAction(ctx context.Context, key scheduler.ActionInfoHashKey) (scheduler.Subscription, bool) {
	s.mu.Lock()
	name, ok := s.ops[key]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	req := &waitExecutionRequest{OperationName: name}
	stream, err := s.conn.NewStream(ctx, &grpc.StreamDesc{ServerStreams: true}, methodWaitExec, grpc.CallContentSubtype(rpcwire.CodecName))
	if err != nil {
		return nil, false
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, false
	}
	if err := stream.CloseSend(); err != nil {
		return nil, false
	}

	return s.streamState(context.WithoutCancel(ctx), key, stream), true
}

// streamState reads operationMessages off stream and republishes them as
// ActionStates on a fresh Sender, recording the operation name the first
// time it's seen and forgetting it once the stream reaches a terminal
// stage.
func (s *Scheduler) streamState(ctx context.Context, key scheduler.ActionInfoHashKey, stream grpc.ClientStream) scheduler.Subscription {
	sender := watch.New(&scheduler.ActionState{UniqueQualifier: key, Stage: remoteexec.StageQueued})
	rx := sender.Subscribe()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.ops, key)
			s.mu.Unlock()
		}()

		for {
			msg := new(operationMessage)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) {
					sender.Send(&scheduler.ActionState{UniqueQualifier: key, Stage: remoteexec.StageCompleted, Err: err})
				}
				return
			}

			if msg.Name != "" {
				s.mu.Lock()
				s.ops[key] = msg.Name
				s.mu.Unlock()
			}

			state := &scheduler.ActionState{UniqueQualifier: key, Stage: msg.Stage, Result: msg.Result}
			if msg.Err != "" {
				state.Err = errors.New(msg.Err)
			}
			sender.Send(state)
			if msg.Stage == remoteexec.StageCompleted {
				return
			}
		}
	}()

	return rx
}

// CleanRecentlyCompletedActions is a no-op: this scheduler holds no
// completed-action bookkeeping beyond the operation-name map, which is
// cleared as each stream reaches its terminal stage.
func (s *Scheduler) CleanRecentlyCompletedActions(ctx context.Context) {}
