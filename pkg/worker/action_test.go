package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
	"github.com/marmos91/turbocache/pkg/store/memory"
	"google.golang.org/grpc/codes"
)

func newTestManager(t *testing.T) (*RunningActionsManager, store.Store) {
	t.Helper()
	cas := memory.New(0)
	m, err := NewManager(t.TempDir(), cas)
	require.NoError(t, err)
	return m, cas
}

// putEmptyInputRoot uploads an empty Directory blob, standing in for an
// action whose Command needs no input files.
func putEmptyInputRoot(t *testing.T, cas store.Store) digest.Digest {
	t.Helper()
	data, err := remoteexec.EncodeDirectory(&remoteexec.Directory{})
	require.NoError(t, err)
	d, err := putBlob(context.Background(), cas, data)
	require.NoError(t, err)
	return d
}

func startExecute(t *testing.T, opID string, command remoteexec.Command, inputRoot digest.Digest) remoteexec.StartExecute {
	t.Helper()
	return remoteexec.StartExecute{
		OperationID:     opID,
		Command:         command,
		InputRootDigest: inputRoot,
	}
}

// TestRunningActionHappyPathRunsToCompletion covers the echo-ok happy path:
// argv ["/bin/echo", "ok"] exits 0 and stdout resolves to "ok\n".
func TestRunningActionHappyPathRunsToCompletion(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-1", remoteexec.Command{
		Arguments: []string{"/bin/echo", "ok"},
	}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.Prepare(ctx))
	require.NoError(t, action.Execute(ctx))
	require.NoError(t, action.UploadResults(ctx))

	result, err := action.GetFinishedResult()
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.ExitCode)
	assert.Equal(t, digest.ComputeBytes([]byte("ok\n")), result.StdoutDigest)

	require.NoError(t, action.Cleanup())
	_, ok := m.GetAction("op-1")
	assert.False(t, ok)
}

// TestRunningActionKillTerminatesAndReportsSignalExitCode covers sending a
// kill before the child process exits on its own: the action still
// completes, reporting ExitCodeForSignal rather than hanging.
func TestRunningActionKillTerminatesAndReportsSignalExitCode(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-2", remoteexec.Command{
		Arguments: []string{"/bin/sh", "-c", "sleep 30"},
	}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.Prepare(ctx))

	done := make(chan error, 1)
	go func() { done <- action.Execute(ctx) }()

	time.Sleep(100 * time.Millisecond)
	action.Kill()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Execute did not return after Kill")
	}

	require.NoError(t, action.UploadResults(ctx))
	result, err := action.GetFinishedResult()
	require.NoError(t, err)
	assert.EqualValues(t, ExitCodeForSignal, result.ExitCode)

	require.NoError(t, action.Cleanup())
}

func TestRunningActionRejectsOutOfOrderTransitions(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-3", remoteexec.Command{
		Arguments: []string{"/bin/echo", "ok"},
	}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	err = action.Execute(ctx)
	assert.Equal(t, codes.FailedPrecondition, rpcerr.Code(err))

	err = action.UploadResults(ctx)
	assert.Equal(t, codes.FailedPrecondition, rpcerr.Code(err))

	_, err = action.GetFinishedResult()
	assert.Equal(t, codes.FailedPrecondition, rpcerr.Code(err))

	require.NoError(t, action.Prepare(ctx))
	err = action.Prepare(ctx)
	assert.Equal(t, codes.FailedPrecondition, rpcerr.Code(err))

	require.NoError(t, action.Cleanup())
}

func TestRunningActionRejectsEmptyArguments(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-4", remoteexec.Command{}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.Prepare(ctx))
	err = action.Execute(ctx)
	assert.Equal(t, codes.InvalidArgument, rpcerr.Code(err))

	require.NoError(t, action.Cleanup())
}

// TestRunningActionUploadsDeclaredOutputFile covers an action that produces
// a declared output file, verifying the uploaded digest matches its
// content and that it's captured with the executable bit clear.
func TestRunningActionUploadsDeclaredOutputFile(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-5", remoteexec.Command{
		Arguments:   []string{"/bin/sh", "-c", "printf hello > out.txt"},
		OutputFiles: []string{"out.txt"},
	}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.Prepare(ctx))
	require.NoError(t, action.Execute(ctx))
	require.NoError(t, action.UploadResults(ctx))

	result, err := action.GetFinishedResult()
	require.NoError(t, err)
	require.Len(t, result.OutputFiles, 1)
	assert.Equal(t, "out.txt", result.OutputFiles[0].Path)
	assert.Equal(t, digest.ComputeBytes([]byte("hello")), result.OutputFiles[0].Digest)
	assert.False(t, result.OutputFiles[0].IsExecutable)

	require.NoError(t, action.Cleanup())
}

// TestRunningActionSkipsMissingDeclaredOutput covers REv2's rule that an
// output path the action simply didn't produce is silently ignored rather
// than an error.
func TestRunningActionSkipsMissingDeclaredOutput(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-6", remoteexec.Command{
		Arguments:   []string{"/bin/echo", "ok"},
		OutputFiles: []string{"never-written.txt"},
	}, inputRoot))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, action.Prepare(ctx))
	require.NoError(t, action.Execute(ctx))
	require.NoError(t, action.UploadResults(ctx))

	result, err := action.GetFinishedResult()
	require.NoError(t, err)
	assert.Empty(t, result.OutputFiles)

	require.NoError(t, action.Cleanup())
}

func TestCleanupIsSafeToCallAfterPartialFailure(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-7", remoteexec.Command{
		Arguments: []string{"/bin/echo", "ok"},
	}, inputRoot))
	require.NoError(t, err)

	require.NoError(t, action.Cleanup())

	_, statErr := os.Stat(filepath.Join(m.rootWorkDirectory, "op-7"))
	assert.True(t, os.IsNotExist(statErr))

	require.NoError(t, action.Cleanup())
}
