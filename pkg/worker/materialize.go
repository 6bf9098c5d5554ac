package worker

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/marmos91/turbocache/pkg/digest"
	"github.com/marmos91/turbocache/pkg/remoteexec"
	"github.com/marmos91/turbocache/pkg/rpcerr"
	"github.com/marmos91/turbocache/pkg/store"
)

// downloadToDirectory recursively materializes the Directory addressed by
// rootDigest into dir: every file is streamed in from casStore and written
// with the declared executable bit, every subdirectory is created and
// recursed into, every symlink is recreated verbatim.
//
// The original worker this is ported from hardlinks files out of a
// filesystem-backed fast store's on-disk cache instead of streaming them,
// an optimization available because its CAS store's fast tier exposes a
// file path per digest. This module's store.Store contract is uniform
// across every backend (memory, filesystem, fast/slow, gRPC passthrough)
// and doesn't expose such a path, so materialization here always streams
// through GetPart; a filesystem-store-specific fast path can be added later
// without changing this function's signature if that turns out to matter
// for performance.
func downloadToDirectory(ctx context.Context, casStore store.Store, rootDigest digest.Digest, dir string) error {
	data, err := getBlob(ctx, casStore, rootDigest)
	if err != nil {
		return rpcerr.Wrap(err, "worker: fetching directory %s", rootDigest)
	}
	directory, err := remoteexec.DecodeDirectory(data)
	if err != nil {
		return rpcerr.Wrap(err, "worker: decoding directory %s", rootDigest)
	}

	for _, f := range directory.Files {
		if err := materializeFile(ctx, casStore, f, dir); err != nil {
			return err
		}
	}
	for _, sl := range directory.Symlinks {
		dest := filepath.Join(dir, sl.Name)
		if err := os.Symlink(sl.Target, dest); err != nil {
			return rpcerr.Wrap(err, "worker: creating symlink %s", dest)
		}
	}
	for _, sub := range directory.Directories {
		subPath := filepath.Join(dir, sub.Name)
		if err := os.Mkdir(subPath, 0o755); err != nil {
			return rpcerr.Wrap(err, "worker: creating directory %s", subPath)
		}
		if err := downloadToDirectory(ctx, casStore, sub.Digest, subPath); err != nil {
			return err
		}
	}
	return nil
}

func materializeFile(ctx context.Context, casStore store.Store, f remoteexec.FileNode, dir string) error {
	data, err := getBlob(ctx, casStore, f.Digest)
	if err != nil {
		return rpcerr.Wrap(err, "worker: fetching file %s", f.Name)
	}

	dest := filepath.Join(dir, f.Name)
	mode := os.FileMode(0o644)
	if f.IsExecutable {
		mode = 0o755
	}
	if err := os.WriteFile(dest, data, mode); err != nil {
		return rpcerr.Wrap(err, "worker: writing file %s", dest)
	}
	return nil
}

// createOutputParentDirs ensures the parent directory of every declared
// output path exists before execution, matching the Bazel REv2 requirement
// that an action's output paths may name files nested under directories
// that don't yet exist.
func createOutputParentDirs(workDir string, outputFiles, outputDirectories []string) error {
	for _, p := range outputFiles {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(workDir, p)), 0o755); err != nil {
			return rpcerr.Wrap(err, "worker: preparing output directory for %s", p)
		}
	}
	for _, p := range outputDirectories {
		if err := os.MkdirAll(filepath.Join(workDir, p), 0o755); err != nil {
			return rpcerr.Wrap(err, "worker: preparing output directory %s", p)
		}
	}
	return nil
}

// outputKind classifies what was found at a declared output path.
type outputKind int

const (
	outputNone outputKind = iota
	outputFile
	outputDir
	outputSymlink
)

// statOutput classifies the filesystem entry at path without following a
// trailing symlink, returning outputNone if nothing exists there (a
// declared output an action simply didn't produce, which REv2 says to
// silently skip).
func statOutput(path string) (outputKind, os.FileInfo, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return outputNone, nil, nil
		}
		return outputNone, nil, err
	}
	switch {
	case info.Mode()&os.ModeSymlink != 0:
		return outputSymlink, info, nil
	case info.IsDir():
		return outputDir, info, nil
	default:
		return outputFile, info, nil
	}
}

// uploadOutputFile uploads the file at path and returns the OutputFile
// describing it, relPath being its path relative to the action's working
// directory as declared in the Command.
func uploadOutputFile(ctx context.Context, casStore store.Store, path, relPath string, info os.FileInfo) (remoteexec.OutputFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return remoteexec.OutputFile{}, rpcerr.Wrap(err, "worker: reading output file %s", path)
	}
	d, err := putBlob(ctx, casStore, data)
	if err != nil {
		return remoteexec.OutputFile{}, rpcerr.Wrap(err, "worker: uploading output file %s", path)
	}
	return remoteexec.OutputFile{
		Path:         relPath,
		Digest:       d,
		IsExecutable: info.Mode()&0o100 != 0,
	}, nil
}

// uploadOutputSymlink reads the link target at path and returns the
// OutputSymlink describing it.
func uploadOutputSymlink(path, relPath string) (remoteexec.OutputSymlink, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return remoteexec.OutputSymlink{}, rpcerr.Wrap(err, "worker: reading symlink %s", path)
	}
	return remoteexec.OutputSymlink{Path: relPath, Target: target}, nil
}

// uploadOutputDirectory recursively walks path, uploading every file and
// building the Directory/Tree blobs REv2 expects an output directory to be
// addressed by, returning the digest of the uploaded Tree.
func uploadOutputDirectory(ctx context.Context, casStore store.Store, path string) (digest.Digest, error) {
	root, children, err := buildDirectoryTree(ctx, casStore, path)
	if err != nil {
		return digest.Digest{}, err
	}
	tree := &remoteexec.Tree{Root: root, Children: children}
	data, err := remoteexec.EncodeTree(tree)
	if err != nil {
		return digest.Digest{}, rpcerr.Wrap(err, "worker: encoding tree for %s", path)
	}
	return putBlob(ctx, casStore, data)
}

// buildDirectoryTree walks path one level at a time, recursing into
// subdirectories, uploading every file's content, and returning this
// level's Directory plus every descendant Directory it built along the way
// (children is unordered across recursion levels; only root matters for
// addressing, children is the flat list upload_results embeds in the
// output Tree).
func buildDirectoryTree(ctx context.Context, casStore store.Store, path string) (remoteexec.Directory, []remoteexec.Directory, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: reading directory %s", path)
	}

	var dir remoteexec.Directory
	var children []remoteexec.Directory

	for _, entry := range entries {
		full := filepath.Join(path, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: stat %s", full)
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: reading symlink %s", full)
			}
			dir.Symlinks = append(dir.Symlinks, remoteexec.SymlinkNode{Name: entry.Name(), Target: target})

		case info.IsDir():
			childDir, grandchildren, err := buildDirectoryTree(ctx, casStore, full)
			if err != nil {
				return remoteexec.Directory{}, nil, err
			}
			childDir.Sort()
			data, err := remoteexec.EncodeDirectory(&childDir)
			if err != nil {
				return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: encoding directory %s", full)
			}
			d, err := putBlob(ctx, casStore, data)
			if err != nil {
				return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: uploading directory %s", full)
			}
			dir.Directories = append(dir.Directories, remoteexec.DirectoryNode{Name: entry.Name(), Digest: d})
			children = append(children, childDir)
			children = append(children, grandchildren...)

		default:
			data, err := os.ReadFile(full)
			if err != nil {
				return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: reading file %s", full)
			}
			d, err := putBlob(ctx, casStore, data)
			if err != nil {
				return remoteexec.Directory{}, nil, rpcerr.Wrap(err, "worker: uploading file %s", full)
			}
			dir.Files = append(dir.Files, remoteexec.FileNode{
				Name:         entry.Name(),
				Digest:       d,
				IsExecutable: info.Mode()&0o100 != 0,
			})
		}
	}

	dir.Sort()
	return dir, children, nil
}

func sortOutputFiles(files []remoteexec.OutputFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
}

func sortOutputDirectories(dirs []remoteexec.OutputDirectory) {
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].Path < dirs[j].Path })
}

func sortOutputSymlinks(links []remoteexec.OutputSymlink) {
	sort.Slice(links, func(i, j int) bool { return links[i].Path < links[j].Path })
}
