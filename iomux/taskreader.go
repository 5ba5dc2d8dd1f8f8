package iomux

import (
	"golang.org/x/sys/unix"

	"github.com/clustercore/batchcore/protocol"
)

// StreamKind distinguishes a task's stdout stream from its stderr stream.
type StreamKind uint8

const (
	StreamStdout StreamKind = iota
	StreamStderr
)

// TaskReader is the C4 registrant for one task's stdout or stderr pipe:
// it drains the pipe into a no-drop circular buffer and asks the
// coordinator to pack and fan out frames from it.
type TaskReader struct {
	fd      int
	cbuf    *cbuf
	kind    StreamKind
	gtaskID uint16
	ltaskID uint16

	eof        bool
	eofMsgSent bool
	shutdown   bool

	coord *Coordinator
}

func newTaskReader(coord *Coordinator, fd int, kind StreamKind, gtaskID, ltaskID uint16) *TaskReader {
	return &TaskReader{
		fd:      fd,
		cbuf:    newCbuf(4 * coord.opts.MaxPayload),
		kind:    kind,
		gtaskID: gtaskID,
		ltaskID: ltaskID,
		coord:   coord,
	}
}

func (t *TaskReader) msgType() protocol.MsgType {
	if t.kind == StreamStdout {
		return protocol.MsgStdout
	}
	return protocol.MsgStderr
}

func (t *TaskReader) FD() uintptr        { return uintptr(t.fd) }
func (t *TaskReader) Writable() bool     { return false }
func (t *TaskReader) ShuttingDown() bool { return t.shutdown }
func (t *TaskReader) RequestShutdown()   { t.shutdown = true }
func (t *TaskReader) Close() error       { return unix.Close(t.fd) }
func (t *TaskReader) HandleWrite() error { return nil }

// Readable reports free capacity remains and the EOF frame has not yet
// been emitted (spec.md §4.4).
func (t *TaskReader) Readable() bool {
	return !t.eofMsgSent && t.cbuf.Free() > 0
}

func (t *TaskReader) HandleRead() error {
	n, err := t.cbuf.FillFrom(t.fd)
	switch {
	case err == nil:
		if n == 0 {
			t.eof = true
		}
	case isTransient(err):
		// no data available this pass; fall through to routing in case
		// previously buffered data still needs packing.
	default:
		log.Warn().Err(err).Int("gtaskid", int(t.gtaskID)).Msg("task reader read error, treating as eof")
		t.eof = true
	}

	t.coord.routeTaskOutput(t)

	if t.cbuf.Used() == 0 && t.eof && !t.eofMsgSent {
		if t.coord.emitTaskEOF(t) {
			t.eofMsgSent = true
			t.RequestShutdown()
		}
	}
	return nil
}
