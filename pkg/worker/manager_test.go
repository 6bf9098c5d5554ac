package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
)

func TestCreateAndAddActionRejectsEmptyOperationID(t *testing.T) {
	m, cas := newTestManager(t)
	inputRoot := putEmptyInputRoot(t, cas)

	_, err := m.CreateAndAddAction("worker-1", remoteexec.StartExecute{InputRootDigest: inputRoot})
	assert.Equal(t, codes.InvalidArgument, rpcerr.Code(err))
}

func TestGetActionReturnsFalseForUnknownOperation(t *testing.T) {
	m, _ := newTestManager(t)
	_, ok := m.GetAction("nonexistent")
	assert.False(t, ok)
}

// TestPrepareMaterializesNestedInputTree builds a multi-level input root
// (a file, a symlink, and a subdirectory containing its own file), stores
// it in the CAS, and checks Prepare reproduces it byte-for-byte under the
// action's work directory.
func TestPrepareMaterializesNestedInputTree(t *testing.T) {
	m, cas := newTestManager(t)
	ctx := context.Background()

	childFileDigest, err := putBlob(ctx, cas, []byte("nested content"))
	require.NoError(t, err)
	childDir := remoteexec.Directory{
		Files: []remoteexec.FileNode{{Name: "inner.txt", Digest: childFileDigest}},
	}
	childData, err := remoteexec.EncodeDirectory(&childDir)
	require.NoError(t, err)
	childDigest, err := putBlob(ctx, cas, childData)
	require.NoError(t, err)

	rootFileDigest, err := putBlob(ctx, cas, []byte("#!/bin/sh\necho root\n"))
	require.NoError(t, err)
	root := remoteexec.Directory{
		Files:       []remoteexec.FileNode{{Name: "run.sh", Digest: rootFileDigest, IsExecutable: true}},
		Symlinks:    []remoteexec.SymlinkNode{{Name: "link.txt", Target: "sub/inner.txt"}},
		Directories: []remoteexec.DirectoryNode{{Name: "sub", Digest: childDigest}},
	}
	rootData, err := remoteexec.EncodeDirectory(&root)
	require.NoError(t, err)
	rootDigest, err := putBlob(ctx, cas, rootData)
	require.NoError(t, err)

	action, err := m.CreateAndAddAction("worker-1", startExecute(t, "op-tree", remoteexec.Command{
		Arguments: []string{"/bin/echo", "ok"},
	}, rootDigest))
	require.NoError(t, err)

	require.NoError(t, action.Prepare(ctx))

	workDir := action.workDir
	data, err := os.ReadFile(filepath.Join(workDir, "run.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho root\n", string(data))

	info, err := os.Stat(filepath.Join(workDir, "run.sh"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&0o100 != 0, "run.sh should be executable")

	target, err := os.Readlink(filepath.Join(workDir, "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "sub/inner.txt", target)

	innerData, err := os.ReadFile(filepath.Join(workDir, "sub", "inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested content", string(innerData))

	require.NoError(t, action.Cleanup())
}
