// Package diskspace reports free space on the filesystem holding a directory.
package diskspace

// Result holds the result of a free space probe.
type Result struct {
	// FreeBytes is the space available to unprivileged users.
	FreeBytes uint64

	// Known is false when the platform offers no way to ask, or the probe
	// failed. FreeBytes is zero then.
	Known bool
}

// Free returns the free space on the filesystem containing dir.
func Free(dir string) Result {
	n, ok := freeBytes(dir)
	if !ok {
		return Result{}
	}
	return Result{FreeBytes: n, Known: true}
}
