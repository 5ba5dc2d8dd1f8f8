package iomux

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/clustercore/batchcore/api"
	"github.com/clustercore/batchcore/pool"
	"github.com/clustercore/batchcore/protocol"
)

// Coordinator is the C6 per-node IO multiplexer: it owns the buffer pool,
// attaches task endpoints and client endpoints to the reactor, and routes
// frames between them (spec.md §4.6).
type Coordinator struct {
	opts    Options
	pool    *pool.Pool
	reactor api.Reactor

	mu          sync.Mutex
	taskWriters map[uint16]*TaskWriter
	readers     []*TaskReader
	clients     []*Client
	cache       *queue.Queue
}

// NewCoordinator constructs a Coordinator bound to reactor r.
func NewCoordinator(r api.Reactor, opts Options) *Coordinator {
	c := &Coordinator{
		opts:        opts,
		pool:        pool.New(opts.NIn, opts.NOut, opts.MaxPayload),
		reactor:     r,
		taskWriters: make(map[uint16]*TaskWriter),
		cache:       queue.New(),
	}
	c.pool.OnOutgoingFree(c.onOutgoingFree)
	return c
}

// AttachTaskStdin registers gtaskID's stdin pipe for writing (C4).
func (c *Coordinator) AttachTaskStdin(gtaskID uint16, fd int) error {
	if err := setNonBlocking(fd); err != nil {
		return fmt.Errorf("iomux: set nonblocking task stdin: %w", err)
	}
	w := newTaskWriter(fd)
	c.mu.Lock()
	c.taskWriters[gtaskID] = w
	c.mu.Unlock()
	if err := c.reactor.Register(w); err != nil {
		return fmt.Errorf("iomux: register task stdin: %w", err)
	}
	c.reactor.SignalWakeup()
	return nil
}

// AttachTaskStdout registers gtaskID/ltaskID's stdout pipe for reading (C4).
func (c *Coordinator) AttachTaskStdout(gtaskID, ltaskID uint16, fd int) error {
	return c.attachTaskReader(gtaskID, ltaskID, fd, StreamStdout)
}

// AttachTaskStderr registers gtaskID/ltaskID's stderr pipe for reading (C4).
func (c *Coordinator) AttachTaskStderr(gtaskID, ltaskID uint16, fd int) error {
	return c.attachTaskReader(gtaskID, ltaskID, fd, StreamStderr)
}

func (c *Coordinator) attachTaskReader(gtaskID, ltaskID uint16, fd int, kind StreamKind) error {
	if err := setNonBlocking(fd); err != nil {
		return fmt.Errorf("iomux: set nonblocking task output: %w", err)
	}
	r := newTaskReader(c, fd, kind, gtaskID, ltaskID)
	c.mu.Lock()
	c.readers = append(c.readers, r)
	c.mu.Unlock()
	if err := c.reactor.Register(r); err != nil {
		return fmt.Errorf("iomux: register task output: %w", err)
	}
	c.reactor.SignalWakeup()
	return nil
}

// AttachClient registers a new client connection fd, sending the init
// handshake synchronously before handing the connection to the reactor
// (spec.md §6).
func (c *Coordinator) AttachClient(fd int) (*Client, error) {
	if err := setNonBlocking(fd); err != nil {
		return nil, fmt.Errorf("iomux: set nonblocking client: %w", err)
	}

	init := protocol.EncodeInitMessage(protocol.InitMessage{
		CredSig:    c.opts.CredSig,
		NodeID:     c.opts.NodeID,
		StdoutObjs: uint32(c.countReaders(StreamStdout)),
		StderrObjs: uint32(c.countReaders(StreamStderr)),
	})
	if err := writeAllBlocking(fd, init); err != nil {
		return nil, fmt.Errorf("iomux: send init message: %w", err)
	}

	cl := newClient(c, fd)
	c.mu.Lock()
	c.clients = append(c.clients, cl)
	c.mu.Unlock()
	if err := c.reactor.Register(cl); err != nil {
		return nil, fmt.Errorf("iomux: register client: %w", err)
	}
	c.reactor.SignalWakeup()
	return cl, nil
}

// PoolStats reports the buffer pool's free-list occupancy, for use by
// debug/metrics probes.
func (c *Coordinator) PoolStats() (freeIncoming, freeOutgoing int) {
	return c.pool.FreeIncoming(), c.pool.FreeOutgoing()
}

// ClientCount reports the number of attached client endpoints, for use
// by debug/metrics probes.
func (c *Coordinator) ClientCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// TaskWriterCount reports the number of attached task stdin writers,
// for use by debug/metrics probes.
func (c *Coordinator) TaskWriterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.taskWriters)
}

func (c *Coordinator) countReaders(kind StreamKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.readers {
		if r.kind == kind {
			n++
		}
	}
	return n
}

// ReaderCount reports the number of attached task stdout/stderr readers
// of the given kind, for use by debug/metrics probes.
func (c *Coordinator) ReaderCount(kind StreamKind) int { return c.countReaders(kind) }

// routeTaskOutput packs as many frames as r's buffered data and the
// outgoing pool allow, fanning each one out to attached clients and the
// replay cache. It returns early (not an error) when the pool is
// exhausted; the next onOutgoingFree invite resumes packing.
func (c *Coordinator) routeTaskOutput(r *TaskReader) {
	for {
		n := r.cbuf.NextFrameLen(c.opts.BufferedStdio, c.opts.MaxPayload)
		if n == 0 {
			return
		}
		buf, ok := c.pool.AcquireOutgoing()
		if !ok {
			return
		}
		copied := r.cbuf.Drain(buf.Storage()[protocol.HeaderSize : protocol.HeaderSize+n])
		protocol.EncodeHeader(buf.Storage(), protocol.Header{
			Type:    r.msgType(),
			GTaskID: r.gtaskID,
			LTaskID: r.ltaskID,
			Length:  uint32(copied),
		})
		buf.SetLength(protocol.HeaderSize + copied)
		c.fanOutTaskFrame(buf)
	}
}

// emitTaskEOF packs a zero-length EOF frame for r. It returns false if the
// outgoing pool is exhausted; the reader then stays readable and the
// caller retries on its next HandleRead pass.
func (c *Coordinator) emitTaskEOF(r *TaskReader) bool {
	buf, ok := c.pool.AcquireOutgoing()
	if !ok {
		return false
	}
	protocol.EncodeHeader(buf.Storage(), protocol.Header{Type: r.msgType(), GTaskID: r.gtaskID, LTaskID: r.ltaskID, Length: 0})
	buf.SetLength(protocol.HeaderSize)
	c.fanOutTaskFrame(buf)
	return true
}

// fanOutTaskFrame retains buf once per live client and once for the
// replay cache, then releases the caller's own implicit reference by
// virtue of never holding one itself: buf arrives already unreferenced
// beyond the pool's allocation refcount of zero, so every retain below is
// a net new owner.
func (c *Coordinator) fanOutTaskFrame(buf *pool.IoBuf) {
	c.mu.Lock()
	for _, cl := range c.clients {
		if !cl.outEOF {
			buf.Retain()
			cl.queue.Add(buf)
		}
	}
	buf.Retain()
	c.cache.Add(buf)
	var evicted *pool.IoBuf
	if c.cache.Length() > c.opts.MaxMsgCache {
		evicted = c.cache.Remove().(*pool.IoBuf)
	}
	c.mu.Unlock()

	if evicted != nil {
		evicted.Release()
	}
	c.reactor.SignalWakeup()
}

// onOutgoingFree is invited by the pool whenever an outgoing buffer's
// refcount drops to zero; it resumes packing for every task reader that
// was blocked on pool exhaustion.
func (c *Coordinator) onOutgoingFree() {
	c.mu.Lock()
	readers := append([]*TaskReader(nil), c.readers...)
	c.mu.Unlock()
	for _, r := range readers {
		if c.pool.FreeOutgoing() == 0 {
			return
		}
		c.routeTaskOutput(r)
	}
}

// primeClientQueue seeds cl's outgoing queue with the current replay
// cache, in cache (oldest-first) order, so a late-attaching client catches
// up on recent output (spec.md §4.5, IO.attach-catchup).
func (c *Coordinator) primeClientQueue(cl *Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < c.cache.Length(); i++ {
		buf := c.cache.Get(i).(*pool.IoBuf)
		buf.Retain()
		cl.queue.Add(buf)
	}
}

// routeClientStdin delivers a decoded client message to the addressed
// task stdin writer(s). msg is not released here; the caller retains
// ownership of its single reference. An unrecognized h.Type is a
// protocol violation (spec.md §4.5): the caller must tear down the
// client endpoint that sent it rather than absorb the frame silently.
func (c *Coordinator) routeClientStdin(msg *pool.IoBuf, h protocol.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch h.Type {
	case protocol.MsgStdin:
		if w, ok := c.taskWriters[h.GTaskID]; ok {
			w.Enqueue(msg)
		}
	case protocol.MsgAllStdin:
		for _, w := range c.taskWriters {
			w.Enqueue(msg)
		}
	default:
		log.Warn().Uint16("type", uint16(h.Type)).Msg("client sent unexpected frame type, dropping connection")
		return fmt.Errorf("iomux: client frame type %d: %w", h.Type, api.ErrProtocolViolation)
	}
	return nil
}

// Shutdown gracefully tears the coordinator down: every writer and reader
// is closed immediately, while clients are given a bounded number of
// reactor passes to flush pending output before being closed, matching
// spec.md §4.7's graceful-shutdown requirement.
func (c *Coordinator) Shutdown() error {
	c.mu.Lock()
	writers := make([]*TaskWriter, 0, len(c.taskWriters))
	for _, w := range c.taskWriters {
		writers = append(writers, w)
	}
	readers := append([]*TaskReader(nil), c.readers...)
	clients := append([]*Client(nil), c.clients...)
	c.mu.Unlock()

	for _, w := range writers {
		c.reactor.Unregister(w)
		_ = w.Close()
	}
	for _, r := range readers {
		c.reactor.Unregister(r)
		_ = r.Close()
	}
	for _, cl := range clients {
		for i := 0; i < 64 && cl.Writable(); i++ {
			if err := cl.HandleWrite(); err != nil {
				break
			}
		}
		c.reactor.Unregister(cl)
		_ = cl.Close()
	}

	c.reactor.SignalWakeup()
	return nil
}
