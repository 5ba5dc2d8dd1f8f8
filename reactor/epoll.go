//go:build linux
// +build linux

package reactor

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/clustercore/batchcore/api"
	"github.com/clustercore/batchcore/logx"
	"golang.org/x/sys/unix"
)

var log = logx.For("reactor")

// epollReactor is the Linux epoll(7) implementation of api.Reactor.
type epollReactor struct {
	epfd int
	wake *selfPipe

	mu       sync.Mutex
	order    []uintptr
	regs     map[uintptr]api.Registrant
	interest map[uintptr]api.EventMask
	closed   bool
}

// New constructs the epoll-backed reactor and registers its self-pipe.
func New() (api.Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll create: %w", err)
	}
	wake, err := newSelfPipe()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: self-pipe: %w", err)
	}
	r := &epollReactor{
		epfd:     epfd,
		wake:     wake,
		regs:     make(map[uintptr]api.Registrant),
		interest: make(map[uintptr]api.EventMask),
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wake.readFD, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wake.readFD),
	}); err != nil {
		wake.close()
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: register self-pipe: %w", err)
	}
	return r, nil
}

func (r *epollReactor) Register(reg api.Registrant) error {
	fd := reg.FD()
	r.mu.Lock()
	if _, exists := r.regs[fd]; exists {
		r.mu.Unlock()
		return fmt.Errorf("reactor: fd %d already registered", fd)
	}
	r.regs[fd] = reg
	r.order = append(r.order, fd)
	r.mu.Unlock()
	return r.ctl(unix.EPOLL_CTL_ADD, fd, api.EventNone)
}

func (r *epollReactor) Unregister(reg api.Registrant) {
	fd := reg.FD()
	r.mu.Lock()
	delete(r.regs, fd)
	delete(r.interest, fd)
	for i, f := range r.order {
		if f == fd {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
}

func (r *epollReactor) SignalWakeup() { r.wake.signal() }

func (r *epollReactor) Shutdown() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wake.signal()
}

func (r *epollReactor) Close() error {
	r.wake.close()
	return unix.Close(r.epfd)
}

// Run blocks, driving registrants until Shutdown is called. It locks
// itself to one OS thread and blocks SIGHUP/SIGPIPE there (spec.md §5),
// so the supervising goroutine's signal.Notify sees them instead.
func (r *epollReactor) Run() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	blockSignals()

	events := make([]unix.EpollEvent, 128)
	for {
		if r.isClosed() {
			return nil
		}
		r.recomputeInterest()

		n, err := unix.EpollWait(r.epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: epoll wait: %w", err)
		}

		ready := make(map[uintptr]uint32, n)
		for i := 0; i < n; i++ {
			fd := uintptr(events[i].Fd)
			if int(fd) == r.wake.readFD {
				r.wake.drain()
				continue
			}
			ready[fd] = events[i].Events
		}
		r.mu.Lock()
		order := append([]uintptr(nil), r.order...)
		r.mu.Unlock()
		for _, fd := range order {
			if ev, ok := ready[fd]; ok {
				r.dispatch(fd, ev)
			}
		}
		r.sweep()
	}
}

func (r *epollReactor) dispatch(fd uintptr, events uint32) {
	r.mu.Lock()
	reg, ok := r.regs[fd]
	r.mu.Unlock()
	if !ok {
		return
	}
	if events&unix.EPOLLIN != 0 && reg.Readable() {
		if err := reg.HandleRead(); err != nil {
			log.Warn().Err(err).Uint64("fd", uint64(fd)).Msg("handle_read failed, requesting shutdown")
			reg.RequestShutdown()
		}
	}
	if events&unix.EPOLLOUT != 0 && reg.Writable() {
		if err := reg.HandleWrite(); err != nil {
			log.Warn().Err(err).Uint64("fd", uint64(fd)).Msg("handle_write failed, requesting shutdown")
			reg.RequestShutdown()
		}
	}
}

// recomputeInterest re-evaluates Readable()/Writable() for every
// registrant on every pass, per spec.md §4.1: readiness must never be
// served from a cached interest set.
func (r *epollReactor) recomputeInterest() {
	r.mu.Lock()
	snapshot := make([]api.Registrant, 0, len(r.order))
	for _, fd := range r.order {
		snapshot = append(snapshot, r.regs[fd])
	}
	r.mu.Unlock()

	for _, reg := range snapshot {
		mask := api.EventNone
		if reg.Readable() {
			mask |= api.EventRead
		}
		if reg.Writable() {
			mask |= api.EventWrite
		}
		_ = r.ctl(unix.EPOLL_CTL_MOD, reg.FD(), mask)
	}
}

func (r *epollReactor) ctl(op int, fd uintptr, mask api.EventMask) error {
	var events uint32
	if mask&api.EventRead != 0 {
		events |= unix.EPOLLIN
	}
	if mask&api.EventWrite != 0 {
		events |= unix.EPOLLOUT
	}
	r.mu.Lock()
	r.interest[fd] = mask
	r.mu.Unlock()
	return unix.EpollCtl(r.epfd, op, int(fd), &unix.EpollEvent{Events: events, Fd: int32(fd)})
}

// sweep removes and closes registrants that requested shutdown and are
// now neither readable nor writable (spec.md §4.1).
func (r *epollReactor) sweep() {
	r.mu.Lock()
	var done []api.Registrant
	remaining := r.order[:0]
	for _, fd := range r.order {
		reg := r.regs[fd]
		if reg.ShuttingDown() && !reg.Readable() && !reg.Writable() {
			delete(r.regs, fd)
			delete(r.interest, fd)
			done = append(done, reg)
			continue
		}
		remaining = append(remaining, fd)
	}
	r.order = remaining
	r.mu.Unlock()

	for _, reg := range done {
		_ = unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(reg.FD()), nil)
		_ = reg.Close()
	}
}

func (r *epollReactor) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}
