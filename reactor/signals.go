//go:build linux
// +build linux

package reactor

import "golang.org/x/sys/unix"

// blockSignals blocks SIGHUP and SIGPIPE on the calling (reactor) thread
// so that a supervising goroutine's signal.Notify sees them instead
// (spec.md §5). Must be called after runtime.LockOSThread.
func blockSignals() {
	var set unix.Sigset_t
	sigaddset(&set, unix.SIGHUP)
	sigaddset(&set, unix.SIGPIPE)
	_ = unix.PthreadSigmask(unix.SIG_BLOCK, &set, nil)
}

// sigaddset sets the bit for sig in set; x/sys/unix does not expose the
// C macro, so the bit arithmetic is inlined here (signal numbers are
// 1-based, word size is 64 bits on amd64/arm64 Linux).
func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	set.Val[(sig-1)/64] |= 1 << ((uint(sig) - 1) % 64)
}
