// Package diskspace reports available filesystem bytes, backing the
// MIN_SIZE_IN_GB free-space gate of §6.4 / the original allocate.py's
// shutil.disk_usage check (§ SUPPLEMENTED FEATURES). No library in the
// retrieval pack wraps statfs; this is a two-line OS syscall shim, not a
// concern any dependency in the pack or the ecosystem meaningfully
// improves on, so it stays on the standard library.
package diskspace

import "syscall"

// FreeBytes returns the number of bytes available to an unprivileged user
// on the filesystem containing path.
func FreeBytes(path string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
