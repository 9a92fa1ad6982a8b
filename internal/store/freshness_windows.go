//go:build windows

package store

import (
	"fmt"
	"os"
)

// freshnessState on Windows falls back to size+modtime comparison since
// Win32 file IDs aren't exposed through os.FileInfo without extra
// syscalls, mirroring internal/storage/sqlite/freshness_windows.go's
// same fallback.
type freshnessState struct {
	size    int64
	modTime int64
}

func statFreshness(path string) (freshnessState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return freshnessState{}, fmt.Errorf("%w: stat %s: %v", ErrStorageFailure, path, err)
	}
	return freshnessState{size: info.Size(), modTime: info.ModTime().UnixNano()}, nil
}

func (s *Store) Stale() (bool, error) {
	fs, err := statFreshness(s.path)
	if err != nil {
		return false, err
	}
	return fs.size != s.freshness.size || fs.modTime != s.freshness.modTime, nil
}
