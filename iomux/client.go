package iomux

import (
	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/clustercore/batchcore/pool"
	"github.com/clustercore/batchcore/protocol"
)

// Client is the C5 registrant for one attached client connection: it
// decodes inbound stdin frames (routing them through the coordinator) and
// drains an outbound FIFO of task-output frames, primed from the
// coordinator's replay cache on first write opportunity (spec.md §4.5).
type Client struct {
	fd    int
	coord *Coordinator

	inMsg          *pool.IoBuf
	inHeaderFilled int
	inRemaining    uint32
	inEOF          bool

	outMsg    *pool.IoBuf
	outOffset int
	outEOF    bool

	queue        *queue.Queue
	queuePrimed  bool
	shutdown     bool
}

func newClient(coord *Coordinator, fd int) *Client {
	return &Client{fd: fd, coord: coord, queue: queue.New()}
}

func (c *Client) FD() uintptr        { return uintptr(c.fd) }
func (c *Client) ShuttingDown() bool { return c.shutdown }
func (c *Client) RequestShutdown()   { c.shutdown = true }

func (c *Client) Close() error {
	if c.inMsg != nil {
		c.inMsg.Release()
		c.inMsg = nil
	}
	if c.outMsg != nil {
		c.outMsg.Release()
		c.outMsg = nil
	}
	c.drainOutQueue()
	return unix.Close(c.fd)
}

// Readable reports the client can keep reading: either a message is
// already in flight, or an incoming buffer is available to start one.
func (c *Client) Readable() bool {
	return !c.inEOF && (c.inMsg != nil || c.coord.pool.FreeIncoming() > 0)
}

// Writable primes the replay cache into the queue on first opportunity,
// then reports whether output is pending.
func (c *Client) Writable() bool {
	if !c.queuePrimed {
		c.coord.primeClientQueue(c)
		c.queuePrimed = true
	}
	return !c.outEOF && (c.outMsg != nil || c.queue.Length() > 0)
}

func (c *Client) HandleRead() error {
	for {
		if c.inMsg == nil {
			buf, ok := c.coord.pool.AcquireIncoming()
			if !ok {
				return nil
			}
			buf.Retain()
			c.inMsg = buf
			c.inHeaderFilled = 0
		}

		if c.inHeaderFilled < protocol.HeaderSize {
			n, err := unix.Read(c.fd, c.inMsg.Storage()[c.inHeaderFilled:protocol.HeaderSize])
			if n > 0 {
				c.inHeaderFilled += n
			}
			if err := c.handleReadErr(n, err); err != nil || n <= 0 {
				return nil
			}
			if c.inHeaderFilled < protocol.HeaderSize {
				return nil
			}
			h := protocol.DecodeHeader(c.inMsg.Storage())
			if int(h.Length) > c.coord.opts.MaxPayload {
				log.Warn().Uint32("length", h.Length).Msg("client sent oversize frame, dropping connection")
				c.closeOutAbnormally()
				return nil
			}
			c.inMsg.SetLength(protocol.HeaderSize + int(h.Length))
			c.inRemaining = h.Length
			if c.inRemaining == 0 {
				if err := c.deliverInMsg(); err != nil {
					c.closeOutAbnormally()
					return nil
				}
				continue
			}
		}

		payloadEnd := protocol.HeaderSize + int(protocol.DecodeHeader(c.inMsg.Storage()).Length)
		filled := payloadEnd - int(c.inRemaining)
		n, err := unix.Read(c.fd, c.inMsg.Storage()[filled:payloadEnd])
		if n > 0 {
			c.inRemaining -= uint32(n)
		}
		if err := c.handleReadErr(n, err); err != nil || n <= 0 {
			return nil
		}
		if c.inRemaining == 0 {
			if err := c.deliverInMsg(); err != nil {
				c.closeOutAbnormally()
				return nil
			}
			continue
		}
	}
}

// handleReadErr normalizes a read(2) result: nil means keep going, a
// transient condition returns nil with n==0 to stop this pass, anything
// else marks EOF.
func (c *Client) handleReadErr(n int, err error) error {
	if err == nil {
		if n == 0 {
			c.markReadEOF()
		}
		return nil
	}
	if isTransient(err) {
		return nil
	}
	c.markReadEOF()
	return err
}

func (c *Client) markReadEOF() {
	c.inEOF = true
	if c.inMsg != nil {
		c.inMsg.Release()
		c.inMsg = nil
	}
}

// deliverInMsg hands a complete inbound frame to the coordinator. An
// unrecognized frame type is a protocol violation (spec.md §4.5, §7):
// the error propagates to HandleRead, which tears the connection down
// the same way it does for an oversize frame.
func (c *Client) deliverInMsg() error {
	msg := c.inMsg
	c.inMsg = nil
	h := protocol.DecodeHeader(msg.Storage())
	err := c.coord.routeClientStdin(msg, h)
	msg.Release()
	return err
}

func (c *Client) HandleWrite() error {
	for {
		if c.outMsg == nil {
			if c.queue.Length() == 0 {
				return nil
			}
			c.outMsg = c.queue.Remove().(*pool.IoBuf)
			c.outOffset = 0
		}

		out := c.outMsg.Bytes()
		for c.outOffset < len(out) {
			n, err := unix.Write(c.fd, out[c.outOffset:])
			if n > 0 {
				c.outOffset += n
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
				c.closeOutAbnormally()
				return nil
			default:
				log.Warn().Err(err).Msg("client write error")
				c.closeOutAbnormally()
				return nil
			}
		}
		c.outMsg.Release()
		c.outMsg = nil
	}
}

func (c *Client) closeOutAbnormally() {
	c.outEOF = true
	if c.outMsg != nil {
		c.outMsg.Release()
		c.outMsg = nil
	}
	c.drainOutQueue()
	c.shutdownNow()
}

func (c *Client) drainOutQueue() {
	for c.queue.Length() > 0 {
		c.queue.Remove().(*pool.IoBuf).Release()
	}
}

// shutdownNow half-closes the read side and marks in_eof, matching the
// teardown sequence the coordinator drives on a peer-gone condition
// (spec.md §4.5).
func (c *Client) shutdownNow() {
	_ = unix.Shutdown(c.fd, unix.SHUT_RD)
	c.markReadEOF()
	c.RequestShutdown()
}
