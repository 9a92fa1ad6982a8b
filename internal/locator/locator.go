// Package locator implements C2, the Project Locator: resolving a
// project root by upward directory traversal and lazily materializing
// its store (spec.md §4.2).
//
// Grounded on internal/git/gitdir.go's .git-as-file (worktree) parsing
// and internal/beads/beads.go's findDatabaseInTree/FindBeadsDir
// upward-walk pattern, generalized from beads' single ".beads/" marker
// to Intent-Engine's ordered marker list.
package locator

import (
	"context"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/wayfind/intent-engine-sub003/internal/store"
)

// MarkerDir is the directory whose presence always wins immediately,
// mirroring store.MarkerDir.
const MarkerDir = store.MarkerDir

// peerMarkers are applied in listed order when more than one is present
// in the same directory, per spec.md §4.2.3.
var peerMarkers = []string{"Cargo.toml", "package.json", "pyproject.toml", "go.mod"}

var group singleflight.Group

// InferRoot resolves start's project root by upward traversal. The
// returned fallback flag is true when no marker was found up to the
// filesystem root, meaning start itself was used and the caller should
// surface a warning (spec.md §4.2: "do not fail").
//
// Concurrent callers with the same start collapse onto a single walk
// via singleflight, matching the teacher's own indirect dependency on
// golang.org/x/sync promoted here to direct use.
func InferRoot(start string) (root string, fallback bool, err error) {
	key := start
	v, err, _ := group.Do(key, func() (interface{}, error) {
		r, fb, e := inferRoot(start)
		return inferResult{root: r, fallback: fb}, e
	})
	if err != nil {
		return "", false, err
	}
	res := v.(inferResult)
	return res.root, res.fallback, nil
}

type inferResult struct {
	root     string
	fallback bool
}

func inferRoot(start string) (string, bool, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", false, err
	}
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dir = resolved
	}

	for {
		if isDir(filepath.Join(dir, MarkerDir)) {
			return dir, false, nil
		}
		if hasGitMarker(dir) {
			return dir, false, nil
		}
		if firstPeerMarker(dir) != "" {
			return dir, false, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	abs, err := filepath.Abs(start)
	if err != nil {
		return start, true, nil
	}
	return abs, true, nil
}

// hasGitMarker reports whether dir has a `.git` entry, file or
// directory (the submodule/worktree case stores it as a file
// containing "gitdir: ..."), per spec.md §4.2.2. A dangling symlink
// named .git is treated as absent.
func hasGitMarker(dir string) bool {
	path := filepath.Join(dir, ".git")
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	if info.Mode()&os.ModeSymlink != 0 {
		// Follow the symlink; a dangling one means absent.
		_, err := os.Stat(path)
		return err == nil
	}
	return true
}

// firstPeerMarker returns the highest-priority peer marker present in
// dir, or "" if none, applying peerMarkers' listed order (spec.md
// §4.2.3: "within the same directory apply the listed order").
func firstPeerMarker(dir string) string {
	for _, name := range peerMarkers {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return name
		}
	}
	return ""
}

// isDir reports whether path exists and is a directory, tolerating
// permission errors on the traversed directory (spec.md §4.2's edge
// case: "permission errors on a traversed directory do not abort the
// search") by treating them as "not found" rather than propagating.
func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// EnsureStore opens (creating on first write) the store rooted at
// root, materializing MarkerDir lazily — spec.md §4.2's
// `ensure_store(root_dir) -> Store`.
func EnsureStore(ctx context.Context, root string) (*store.Store, error) {
	return store.Open(ctx, root)
}
