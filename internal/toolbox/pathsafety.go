package toolbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/noteforge/noteforge/internal/kerrors"
)

// resolvePath resolves path relative to workingDir and validates that the
// canonicalized result is a descendant of workingDir, rejecting traversal,
// absolute escapes, symlink escapes, TOCTOU symlink rebinds, and
// hardlinked regular files.
func resolvePath(path, workingDir string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = filepath.Clean(path)
	} else {
		candidate = filepath.Clean(filepath.Join(workingDir, path))
	}

	absRoot, _ := filepath.Abs(workingDir)
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot
	}

	absCandidate, _ := filepath.Abs(candidate)
	real, err := filepath.EvalSymlinks(absCandidate)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", kerrors.New(kerrors.InvalidPath, "cannot resolve path")
		}
		parentReal, parentErr := filepath.EvalSymlinks(filepath.Dir(absCandidate))
		if parentErr != nil {
			return "", kerrors.New(kerrors.InvalidPath, "cannot resolve parent directory")
		}
		real = filepath.Join(parentReal, filepath.Base(absCandidate))
	}

	if !isPathInside(real, rootReal) {
		return "", kerrors.New(kerrors.PathTraversal, "path escapes working directory")
	}
	if hasMutableSymlinkParent(real) {
		return "", kerrors.New(kerrors.PathTraversal, "path contains a mutable symlink component")
	}
	if err := rejectHardlink(real); err != nil {
		return "", err
	}
	return real, nil
}

func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

func hasMutableSymlinkParent(path string) bool {
	clean := filepath.Clean(path)
	components := strings.Split(clean, string(filepath.Separator))
	current := string(filepath.Separator)
	for _, comp := range components {
		if comp == "" {
			continue
		}
		current = filepath.Join(current, comp)
		info, err := os.Lstat(current)
		if err != nil {
			break
		}
		if info.Mode()&os.ModeSymlink != 0 {
			parentDir := filepath.Dir(current)
			if syscall.Access(parentDir, 0x2) == nil {
				return true
			}
		}
	}
	return false
}

func rejectHardlink(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		return nil
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && stat.Nlink > 1 {
		return kerrors.New(kerrors.PathTraversal, "hardlinked file not allowed")
	}
	return nil
}

// isRoot reports whether resolved equals the canonical working directory
// root, used to block deletion of the KB root.
func isRoot(resolved, workingDir string) bool {
	absRoot, _ := filepath.Abs(workingDir)
	rootReal, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		rootReal = absRoot
	}
	return resolved == rootReal
}

func mustBeDescendant(path, workingDir string) error {
	resolved, err := resolvePath(path, workingDir)
	if err != nil {
		return err
	}
	if isRoot(resolved, workingDir) {
		return kerrors.New(kerrors.PathTraversal, fmt.Sprintf("refusing to operate on the kb root: %s", path))
	}
	return nil
}
