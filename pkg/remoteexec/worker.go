package remoteexec

import (
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/marmos91/turbocache/pkg/digest"
)

// SupportedProperties is what a worker advertises to a scheduler on
// connect: the platform properties it is able to satisfy, used by
// PlatformPropertyManager to decide whether an ActionInfo can run there.
type SupportedProperties struct {
	Properties []Property
}

// ConnectionResult is sent once by the scheduler after a worker's initial
// registration, assigning it a stable WorkerID for the lifetime of the
// connection.
type ConnectionResult struct {
	WorkerID string
}

// KeepAlive is an idle heartbeat sent in either direction to detect a dead
// connection before an OS-level timeout would.
type KeepAlive struct{}

// StartExecute instructs a worker to begin an action. OperationID
// correlates every later update (ExecuteResult, disconnect) back to the
// scheduler's ActionInfo.
type StartExecute struct {
	OperationID    string
	Command        Command
	CommandDigest  digest.Digest
	InputRootDigest digest.Digest
	QueuedTimestamp *timestamppb.Timestamp
}

// Disconnect notifies a worker its connection is being torn down, e.g. on
// scheduler shutdown or a detected duplicate registration.
type Disconnect struct {
	Reason string
}

// Drain asks a worker to stop accepting new actions and report back once
// every currently running action has finished, used by the operator
// worker-drain flow before a planned shutdown.
type Drain struct {
	// FastShutdown, when true, asks the worker to also kill any actions
	// already running instead of waiting for them to complete.
	FastShutdown bool
}

// ExecuteResult is what a worker reports back for an OperationID: either an
// in-progress stage transition or the terminal ActionResult.
type ExecuteResult struct {
	OperationID string
	Stage       ActionStage
	Result      *ActionResult // non-nil only once Stage == StageCompleted
	Err         error         // non-nil only once Stage == StageCompleted and execution failed
}

// ActionStage mirrors the lifecycle a scheduler tracks for a single action,
// shared between ActionInfo bookkeeping and worker progress reports.
type ActionStage int

const (
	StageUnknown ActionStage = iota
	StageCacheCheck
	StageQueued
	StageExecuting
	StageCompleted
)

func (s ActionStage) String() string {
	switch s {
	case StageCacheCheck:
		return "CacheCheck"
	case StageQueued:
		return "Queued"
	case StageExecuting:
		return "Executing"
	case StageCompleted:
		return "Completed"
	default:
		return "Unknown"
	}
}
