//go:build !linux && !darwin && !freebsd && !windows

package diskspace

func freeBytes(string) (uint64, bool) {
	return 0, false
}
