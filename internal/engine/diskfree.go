package engine

import (
	"golang.org/x/sys/unix"
)

// DiskFreeFunc returns the bytes available to unprivileged users on the
// filesystem containing path. Injectable for tests.
type DiskFreeFunc func(path string) (uint64, error)

// DiskFree queries the filesystem via statfs.
func DiskFree(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}
