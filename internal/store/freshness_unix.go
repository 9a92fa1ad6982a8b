//go:build !windows

package store

import (
	"fmt"
	"os"
	"syscall"
)

// freshnessState records the identity of the on-disk file at open time,
// so a long-lived process can detect that it was replaced underneath it
// (e.g. a git checkout swapping the file), grounded on
// internal/storage/sqlite/freshness_unix.go's getFileInode.
type freshnessState struct {
	inode uint64
	size  int64
}

func statFreshness(path string) (freshnessState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return freshnessState{}, fmt.Errorf("%w: stat %s: %v", ErrStorageFailure, path, err)
	}
	return freshnessState{inode: getFileInode(info), size: info.Size()}, nil
}

func getFileInode(info os.FileInfo) uint64 {
	if sys := info.Sys(); sys != nil {
		if stat, ok := sys.(*syscall.Stat_t); ok {
			return stat.Ino
		}
	}
	return 0
}

// Stale reports whether the file on disk no longer matches the inode
// observed at Open time.
func (s *Store) Stale() (bool, error) {
	fs, err := statFreshness(s.path)
	if err != nil {
		return false, err
	}
	return fs.inode != s.freshness.inode, nil
}
