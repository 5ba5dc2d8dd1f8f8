package iomux

import (
	"runtime"

	"github.com/clustercore/batchcore/logx"
	"golang.org/x/sys/unix"
)

var log = logx.For("iomux")

func setNonBlocking(fd int) error {
	return unix.SetNonblock(fd, true)
}

// isTransient reports whether err is a transient I/O condition that the
// caller should retry on the next reactor pass rather than treat as a
// fatal or peer-gone condition.
func isTransient(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR
}

// writeAllBlocking writes all of buf to fd, retrying on EINTR and EAGAIN.
// It is used only for the short synchronous init handshake on a freshly
// attached client, before the fd is handed to the reactor.
func writeAllBlocking(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err == nil {
			continue
		}
		if err == unix.EINTR || err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			runtime.Gosched()
			continue
		}
		return err
	}
	return nil
}
