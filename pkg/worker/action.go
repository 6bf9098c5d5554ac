package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// State is a RunningAction's position in its New -> Prepared -> Executed ->
// Uploaded -> CleanedUp lifecycle. Every transition method below is
// one-shot: calling it out of order is a FailedPrecondition error, not a
// panic, so a caller can report a clean RPC failure instead of crashing the
// worker over a single misbehaving action.
type State int

const (
	StateNew State = iota
	StatePrepared
	StateExecuted
	StateUploaded
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StatePrepared:
		return "Prepared"
	case StateExecuted:
		return "Executed"
	case StateUploaded:
		return "Uploaded"
	case StateCleanedUp:
		return "CleanedUp"
	default:
		return "Unknown"
	}
}

// executionResult is the captured outcome of running the command, held
// between Execute and UploadResults.
type executionResult struct {
	stdout   []byte
	stderr   []byte
	exitCode int32
}

// RunningAction is one action assigned to this worker, driven through its
// lifecycle by its manager's caller (typically the worker's execution
// loop). A RunningAction must have Cleanup called on it exactly once before
// it is dropped; see the package doc on RunningActionsManager for why this
// is enforced at the runtime level rather than left as a convention.
type RunningAction struct {
	workerID    string
	operationID string
	workDir     string
	casStore    store.Store
	manager     *RunningActionsManager

	command         remoteexec.Command
	inputRootDigest digest.Digest

	killOnce sync.Once
	killCh   chan struct{}

	mu     sync.Mutex
	state  State
	result *executionResult
	final  *remoteexec.ActionResult

	didCleanup atomic.Bool
}

func newRunningAction(workerID, operationID, workDir string, casStore store.Store, command remoteexec.Command, inputRootDigest digest.Digest, manager *RunningActionsManager) *RunningAction {
	a := &RunningAction{
		workerID:        workerID,
		operationID:     operationID,
		workDir:         workDir,
		casStore:        casStore,
		command:         command,
		inputRootDigest: inputRootDigest,
		manager:         manager,
		killCh:          make(chan struct{}),
	}
	runtime.SetFinalizer(a, (*RunningAction).assertCleanedUp)
	return a
}

// assertCleanedUp is installed as a runtime finalizer so a RunningAction
// that is garbage collected without Cleanup having been observed crashes
// the process instead of silently leaking a work directory — the same
// contract the original worker enforces with a Drop assertion. Cleanup
// disarms the finalizer once it runs, so this only ever fires on a genuine
// programming error.
func (a *RunningAction) assertCleanedUp() {
	if !a.didCleanup.Load() {
		panic("worker: RunningAction " + a.operationID + " was dropped without Cleanup being called")
	}
}

// OperationID identifies this action for WaitExecution resumption and work
// directory naming.
func (a *RunningAction) OperationID() string { return a.operationID }

func (a *RunningAction) requireState(want State) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != want {
		return rpcerr.FailedPrecondition("worker: action %s: expected state %s, got %s", a.operationID, want, a.state)
	}
	return nil
}

// Prepare fetches the action's input root into the work directory and
// creates the parent directories of every declared output path. It must be
// called exactly once, from State New.
func (a *RunningAction) Prepare(ctx context.Context) error {
	if err := a.requireState(StateNew); err != nil {
		return err
	}

	if err := downloadToDirectory(ctx, a.casStore, a.inputRootDigest, a.workDir); err != nil {
		return rpcerr.Wrap(err, "worker: preparing action %s", a.operationID)
	}

	fullWorkDir := filepath.Join(a.workDir, a.command.WorkingDirectory)
	if err := createOutputParentDirs(fullWorkDir, a.command.OutputFiles, a.command.OutputDirectories); err != nil {
		return err
	}

	a.mu.Lock()
	a.state = StatePrepared
	a.mu.Unlock()
	return nil
}

// Execute runs the command's argv as a child process rooted at the work
// directory, blocking until it exits or Kill is called. A signaled process
// reports ExitCodeForSignal rather than the signal number, matching the
// original worker's simplifying assumption that callers only need to know
// "did not exit normally".
func (a *RunningAction) Execute(ctx context.Context) error {
	if err := a.requireState(StatePrepared); err != nil {
		return err
	}
	if len(a.command.Arguments) == 0 {
		return rpcerr.InvalidArgument("worker: action %s: command has no arguments", a.operationID)
	}

	cmd := exec.Command(a.command.Arguments[0], a.command.Arguments[1:]...)
	cmd.Dir = filepath.Join(a.workDir, a.command.WorkingDirectory)
	cmd.Env = make([]string, 0, len(a.command.EnvironmentVars))
	for _, v := range a.command.EnvironmentVars {
		cmd.Env = append(cmd.Env, v.Name+"="+v.Value)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdin = nil
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return rpcerr.Wrap(err, "worker: action %s: starting command %v", a.operationID, a.command.Arguments)
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var exitCode int32
	var waitErr error
loop:
	for {
		select {
		case waitErr = <-waitDone:
			break loop
		case <-a.killCh:
			if cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
		}
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exitCode = ExitCodeForSignal
			} else {
				exitCode = int32(exitErr.ExitCode())
			}
		} else {
			return rpcerr.Wrap(waitErr, "worker: action %s: waiting for command", a.operationID)
		}
	}

	a.mu.Lock()
	a.result = &executionResult{stdout: stdout.Bytes(), stderr: stderr.Bytes(), exitCode: exitCode}
	a.state = StateExecuted
	a.mu.Unlock()
	return nil
}

// Kill asks a running Execute to terminate the child process. It is safe
// to call multiple times or before Execute has started a process; the
// kill channel is one-shot and Execute always drains stdout/stderr and
// returns a terminal state even after being killed.
func (a *RunningAction) Kill() {
	a.killOnce.Do(func() { close(a.killCh) })
}

// UploadResults uploads stdout/stderr and every declared output, then
// builds and stores the action's ActionResult. It must be called exactly
// once, from State Executed.
func (a *RunningAction) UploadResults(ctx context.Context) error {
	if err := a.requireState(StateExecuted); err != nil {
		return err
	}

	a.mu.Lock()
	result := a.result
	a.mu.Unlock()

	stdoutDigest, err := putBlob(ctx, a.casStore, result.stdout)
	if err != nil {
		return rpcerr.Wrap(err, "worker: action %s: uploading stdout", a.operationID)
	}
	stderrDigest, err := putBlob(ctx, a.casStore, result.stderr)
	if err != nil {
		return rpcerr.Wrap(err, "worker: action %s: uploading stderr", a.operationID)
	}

	fullWorkDir := filepath.Join(a.workDir, a.command.WorkingDirectory)

	var outputFiles []remoteexec.OutputFile
	var outputDirectories []remoteexec.OutputDirectory
	var outputSymlinks []remoteexec.OutputSymlink

	paths := append(append([]string{}, a.command.OutputFiles...), a.command.OutputDirectories...)
	for _, rel := range paths {
		full := filepath.Join(fullWorkDir, rel)
		kind, info, err := statOutput(full)
		if err != nil {
			return rpcerr.Wrap(err, "worker: action %s: statting output %s", a.operationID, rel)
		}
		switch kind {
		case outputNone:
			continue
		case outputFile:
			of, err := uploadOutputFile(ctx, a.casStore, full, rel, info)
			if err != nil {
				return err
			}
			outputFiles = append(outputFiles, of)
		case outputDir:
			treeDigest, err := uploadOutputDirectory(ctx, a.casStore, full)
			if err != nil {
				return err
			}
			outputDirectories = append(outputDirectories, remoteexec.OutputDirectory{Path: rel, TreeDigest: treeDigest})
		case outputSymlink:
			ol, err := uploadOutputSymlink(full, rel)
			if err != nil {
				return err
			}
			outputSymlinks = append(outputSymlinks, ol)
		}
	}

	sortOutputFiles(outputFiles)
	sortOutputDirectories(outputDirectories)
	sortOutputSymlinks(outputSymlinks)

	now := timestamppb.New(time.Now().UTC())
	final := &remoteexec.ActionResult{
		OutputFiles:       outputFiles,
		OutputDirectories: outputDirectories,
		OutputSymlinks:    outputSymlinks,
		ExitCode:          result.exitCode,
		StdoutDigest:      stdoutDigest,
		StderrDigest:      stderrDigest,
		ExecutionMetadata: remoteexec.ExecutedActionMetadata{
			Worker:                         a.workerID,
			WorkerCompletedTimestamp:       now,
			OutputUploadCompletedTimestamp: now,
		},
	}

	a.mu.Lock()
	a.final = final
	a.state = StateUploaded
	a.mu.Unlock()
	return nil
}

// GetFinishedResult returns the ActionResult built by UploadResults. It may
// be called from State Uploaded or CleanedUp (Cleanup does not discard the
// result), and fails FailedPrecondition if called any earlier.
func (a *RunningAction) GetFinishedResult() (*remoteexec.ActionResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final == nil {
		return nil, rpcerr.FailedPrecondition("worker: action %s: no result available in state %s", a.operationID, a.state)
	}
	return a.final, nil
}

// Cleanup removes the work directory and deregisters this action from its
// manager. It always attempts both steps even if one fails, merging any
// errors, and is the only method that may be called more than once's worth
// of state away from its precondition: it runs regardless of State so a
// caller can always reclaim resources after a failed Prepare/Execute/
// UploadResults.
func (a *RunningAction) Cleanup() error {
	removeErr := os.RemoveAll(a.workDir)
	if removeErr != nil {
		removeErr = rpcerr.Wrap(removeErr, "worker: action %s: removing work directory", a.operationID)
	}

	a.didCleanup.Store(true)
	runtime.SetFinalizer(a, nil)

	deregisterErr := a.manager.remove(a.operationID)

	a.mu.Lock()
	a.state = StateCleanedUp
	a.mu.Unlock()

	return rpcerr.Merge(removeErr, deregisterErr)
}
