// Package remoteexec models the REv2 (Remote Execution API v2) message
// shapes this repo needs: Command, Directory/FileNode/DirectoryNode/
// SymlinkNode, Tree, ActionResult and its Output* members, Platform, and the
// worker protocol messages exchanged between a scheduler and a worker.
//
// These are plain Go structs rather than protoc-generated types: this repo
// does not run protobuf codegen (see the design notes on protocol scope), so
// the wire messages it actually needs are hand-modeled here in the shape
// REv2 defines them, while the genuinely reusable parts of the protobuf/gRPC
// ecosystem (status codes, well-known timestamp type, the grpc runtime
// itself) are the real upstream packages.
package remoteexec

import (
	"sort"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/marmos91/turbocache/pkg/digest"
)

// Property is a single platform key/value pair, as attached to a Command or
// advertised by a worker's SupportedProperties.
type Property struct {
	Name  string
	Value string
}

// Platform is an unordered bag of properties used both to describe what a
// worker can run and what an action requires.
type Platform struct {
	Properties []Property
}

// Command describes an action's argv, environment, working directory and
// declared outputs, plus the platform it must run under.
type Command struct {
	Arguments      []string
	EnvironmentVars []Property
	OutputFiles    []string // explicit file paths this action is expected to produce
	OutputDirectories []string
	WorkingDirectory string
	Platform       Platform
}

// FileNode is a leaf entry in a Directory: a regular or executable file.
type FileNode struct {
	Name         string
	Digest       digest.Digest
	IsExecutable bool
}

// SymlinkNode is a symbolic link entry in a Directory.
type SymlinkNode struct {
	Name   string
	Target string
}

// DirectoryNode references a child Directory by digest, without inlining it.
// A Directory proto is addressed the same way any other CAS blob is.
type DirectoryNode struct {
	Name   string
	Digest digest.Digest
}

// Directory is one level of a Merkle tree: its own files/symlinks plus
// digests of child directories. Entries within each slice must be sorted by
// Name (byte order) for the Directory's digest to be a stable function of
// its contents, matching REv2's canonical serialization requirement.
type Directory struct {
	Files       []FileNode
	Directories []DirectoryNode
	Symlinks    []SymlinkNode
}

// Sort orders Files, Directories and Symlinks by name in place, as required
// before computing a Directory's digest.
func (d *Directory) Sort() {
	sort.Slice(d.Files, func(i, j int) bool { return d.Files[i].Name < d.Files[j].Name })
	sort.Slice(d.Directories, func(i, j int) bool { return d.Directories[i].Name < d.Directories[j].Name })
	sort.Slice(d.Symlinks, func(i, j int) bool { return d.Symlinks[i].Name < d.Symlinks[j].Name })
}

// Tree is a fully inlined Merkle tree rooted at Root, with every descendant
// Directory embedded rather than referenced by digest. Produced by
// upload_results as a convenience blob alongside the individual Directory
// blobs it was built from.
type Tree struct {
	Root     Directory
	Children []Directory
}

// OutputFile is one file produced by an action, keyed by its original
// relative path.
type OutputFile struct {
	Path         string
	Digest       digest.Digest
	IsExecutable bool
}

// OutputDirectory is one directory produced by an action, addressed by the
// digest of its Tree blob.
type OutputDirectory struct {
	Path       string
	TreeDigest digest.Digest
}

// OutputSymlink is one symlink produced by an action.
type OutputSymlink struct {
	Path   string
	Target string
}

// ExecutedActionMetadata carries timing information about an execution.
// Only relative ordering between these timestamps is meaningful (see the
// design notes on clock-skew handling); callers must not assume wall-clock
// accuracy across workers.
type ExecutedActionMetadata struct {
	Worker                      string
	QueuedTimestamp             *timestamppb.Timestamp
	WorkerStartTimestamp        *timestamppb.Timestamp
	WorkerCompletedTimestamp    *timestamppb.Timestamp
	InputFetchStartTimestamp    *timestamppb.Timestamp
	InputFetchCompletedTimestamp *timestamppb.Timestamp
	ExecutionStartTimestamp     *timestamppb.Timestamp
	ExecutionCompletedTimestamp *timestamppb.Timestamp
	OutputUploadStartTimestamp  *timestamppb.Timestamp
	OutputUploadCompletedTimestamp *timestamppb.Timestamp
}

// ActionResult is the cacheable outcome of running an action: its outputs,
// exit code, and captured stdout/stderr (by digest, never inlined, since
// either stream may exceed a size worth holding in memory or in a proto
// field).
type ActionResult struct {
	OutputFiles       []OutputFile
	OutputDirectories []OutputDirectory
	OutputSymlinks    []OutputSymlink
	ExitCode          int32
	StdoutDigest      digest.Digest
	StderrDigest      digest.Digest
	ExecutionMetadata ExecutedActionMetadata
}
