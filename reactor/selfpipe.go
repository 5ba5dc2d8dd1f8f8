//go:build linux
// +build linux

package reactor

import "golang.org/x/sys/unix"

// selfPipe is the cross-thread wakeup primitive: any goroutine may call
// signal() to force a blocked EpollWait to return, by writing a single
// byte into a non-blocking pipe the reactor also polls for readability.
type selfPipe struct {
	readFD, writeFD int
}

func newSelfPipe() (*selfPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &selfPipe{readFD: fds[0], writeFD: fds[1]}, nil
}

// signal is safe to call from any goroutine, including from a signal
// handler context in spirit (it performs a single non-blocking write).
func (s *selfPipe) signal() {
	var b [1]byte
	b[0] = 1
	_, _ = unix.Write(s.writeFD, b[:])
}

// drain empties the pipe after a wakeup has been observed.
func (s *selfPipe) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(s.readFD, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (s *selfPipe) close() {
	_ = unix.Close(s.readFD)
	_ = unix.Close(s.writeFD)
}
