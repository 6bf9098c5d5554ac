package worker

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// RunningActionsManager tracks every RunningAction currently assigned to
// this worker, keyed by its operation ID, and owns the root directory each
// action's work directory is created under.
//
// The original worker keys this bookkeeping by a weak reference so a
// RunningAction can be garbage collected without the manager having to be
// told, falling back on its Drop assertion to catch a caller that forgot to
// deregister it. Go's runtime doesn't give ordinary code a weak map, and
// this port's Cleanup already deregisters explicitly (see action.go) before
// disarming the same Drop-equivalent finalizer, so a strong map entry never
// outlives the action it names by more than the time between UploadResults
// and Cleanup.
type RunningActionsManager struct {
	rootWorkDirectory string
	casStore          store.Store

	mu      sync.Mutex
	actions map[string]*RunningAction
}

// NewManager creates a manager rooted at rootWorkDirectory, which is
// created if it doesn't already exist. casStore is used both to fetch
// Command/Directory blobs during Prepare and to upload results during
// UploadResults.
func NewManager(rootWorkDirectory string, casStore store.Store) (*RunningActionsManager, error) {
	if err := os.MkdirAll(rootWorkDirectory, 0o755); err != nil {
		return nil, rpcerr.Wrap(err, "worker: creating root work directory %s", rootWorkDirectory)
	}
	return &RunningActionsManager{
		rootWorkDirectory: rootWorkDirectory,
		casStore:          casStore,
		actions:           make(map[string]*RunningAction),
	}, nil
}

// CreateAndAddAction builds a work directory for start's operation and
// registers a new RunningAction for it in State New. Command is taken
// directly from start rather than re-fetched by CommandDigest from the CAS:
// the worker protocol (see remoteexec.StartExecute) already inlines it, so
// there is no round trip to save by fetching it again.
func (m *RunningActionsManager) CreateAndAddAction(workerID string, start remoteexec.StartExecute) (*RunningAction, error) {
	if start.OperationID == "" {
		return nil, rpcerr.InvalidArgument("worker: StartExecute has no OperationID")
	}

	workDir := filepath.Join(m.rootWorkDirectory, start.OperationID)
	if err := os.Mkdir(workDir, 0o755); err != nil {
		return nil, rpcerr.Wrap(err, "worker: creating work directory %s", workDir)
	}

	action := newRunningAction(workerID, start.OperationID, workDir, m.casStore, start.Command, start.InputRootDigest, m)

	m.mu.Lock()
	m.actions[start.OperationID] = action
	m.mu.Unlock()

	return action, nil
}

// GetAction returns the RunningAction registered for operationID, or false
// if none is (it may already have been cleaned up).
func (m *RunningActionsManager) GetAction(operationID string) (*RunningAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.actions[operationID]
	return a, ok
}

// remove deregisters operationID, called by RunningAction.Cleanup. It is
// not an error for operationID to already be absent: Cleanup must be safe
// to retry after a partial failure.
func (m *RunningActionsManager) remove(operationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.actions, operationID)
	return nil
}
