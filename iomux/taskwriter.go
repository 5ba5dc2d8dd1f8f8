package iomux

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/clustercore/batchcore/pool"
	"github.com/clustercore/batchcore/protocol"
)

// TaskWriter is the C4 registrant for one task's stdin pipe: it drains a
// FIFO of queued stdin frames into the pipe.
type TaskWriter struct {
	fd      int
	pending *pool.IoBuf
	offset  int
	queue   *queue.Queue

	closed   bool
	shutdown bool
}

func newTaskWriter(fd int) *TaskWriter {
	return &TaskWriter{fd: fd, queue: queue.New()}
}

func (w *TaskWriter) FD() uintptr        { return uintptr(w.fd) }
func (w *TaskWriter) Readable() bool     { return false }
func (w *TaskWriter) ShuttingDown() bool { return w.shutdown }
func (w *TaskWriter) RequestShutdown()   { w.shutdown = true }
func (w *TaskWriter) HandleRead() error  { return nil }

func (w *TaskWriter) Close() error {
	w.drainQueue()
	if w.pending != nil {
		w.pending.Release()
		w.pending = nil
	}
	if w.closed {
		return nil
	}
	return unix.Close(w.fd)
}

// Writable reports a message is queued or in flight.
func (w *TaskWriter) Writable() bool {
	return !w.closed && (w.pending != nil || w.queue.Length() > 0)
}

// Enqueue retains buf and appends it to the writer's FIFO. buf may be a
// zero-length EOF marker.
func (w *TaskWriter) Enqueue(buf *pool.IoBuf) {
	buf.Retain()
	w.queue.Add(buf)
}

func (w *TaskWriter) HandleWrite() error {
	if w.closed {
		return nil
	}
	if w.pending == nil {
		if w.queue.Length() == 0 {
			return nil
		}
		w.pending = w.queue.Remove().(*pool.IoBuf)
		w.offset = 0
		if protocol.DecodedHeader(w.pending).EOF() {
			w.closed = true
			w.shutdown = true
			_ = unix.Close(w.fd)
			w.pending.Release()
			w.pending = nil
			return nil
		}
	}

	payload := protocol.Payload(w.pending)
	for w.offset < len(payload) {
		n, err := unix.Write(w.fd, payload[w.offset:])
		if n > 0 {
			w.offset += n
		}
		if err == nil {
			continue
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			return nil
		case err == unix.EPIPE:
			w.closeAbnormally()
			return nil
		default:
			log.Warn().Err(err).Msg("task writer write error")
			w.closeAbnormally()
			return nil
		}
	}
	w.pending.Release()
	w.pending = nil
	return nil
}

func (w *TaskWriter) closeAbnormally() {
	w.closed = true
	w.shutdown = true
	if w.pending != nil {
		w.pending.Release()
		w.pending = nil
	}
	w.drainQueue()
}

func (w *TaskWriter) drainQueue() {
	for w.queue.Length() > 0 {
		w.queue.Remove().(*pool.IoBuf).Release()
	}
}
