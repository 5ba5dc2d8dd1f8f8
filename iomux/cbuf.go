package iomux

import "golang.org/x/sys/unix"

// cbuf is the no-drop circular byte buffer behind each TaskReader
// (spec.md §3), sized 4*MaxPayload. It never discards bytes: a reader
// that cannot make room stops being Readable() until the coordinator has
// drained some of it.
type cbuf struct {
	buf  []byte
	r    int // read offset
	used int
}

func newCbuf(capacity int) *cbuf {
	return &cbuf{buf: make([]byte, capacity)}
}

func (c *cbuf) Cap() int  { return len(c.buf) }
func (c *cbuf) Used() int { return c.used }
func (c *cbuf) Free() int { return len(c.buf) - c.used }

// FillFrom issues a single read(2) into the largest contiguous free span
// starting at the write cursor. A free region that wraps the end of the
// backing array is filled over at most two passes (one per call), which
// is fine: the reactor calls FillFrom again on the next readable pass.
func (c *cbuf) FillFrom(fd int) (int, error) {
	free := c.Free()
	if free == 0 {
		return 0, nil
	}
	w := (c.r + c.used) % len(c.buf)
	end := w + free
	if end > len(c.buf) {
		end = len(c.buf)
	}
	n, err := unix.Read(fd, c.buf[w:end])
	if n > 0 {
		c.used += n
	}
	return n, err
}

// IndexByte returns the offset of the first occurrence of b within the
// first limit bytes of buffered data, or -1 if absent.
func (c *cbuf) IndexByte(b byte, limit int) int {
	n := c.used
	if limit < n {
		n = limit
	}
	for i := 0; i < n; i++ {
		if c.buf[(c.r+i)%len(c.buf)] == b {
			return i
		}
	}
	return -1
}

// Drain copies up to len(dst) buffered bytes into dst and advances the
// read cursor, returning the number of bytes copied.
func (c *cbuf) Drain(dst []byte) int {
	n := c.used
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = c.buf[(c.r+i)%len(c.buf)]
	}
	c.r = (c.r + n) % len(c.buf)
	c.used -= n
	return n
}

// NextFrameLen applies the line-buffering policy of spec.md §4.4 and
// returns the number of bytes the next outgoing frame should carry, or 0
// if nothing is ready to pack yet (a partial line with capacity
// remaining is held for the next read).
func (c *cbuf) NextFrameLen(buffered bool, maxPayload int) int {
	if !buffered {
		n := c.used
		if n > maxPayload {
			n = maxPayload
		}
		return n
	}
	limit := c.used
	if limit > maxPayload {
		limit = maxPayload
	}
	if idx := c.IndexByte('\n', limit); idx >= 0 {
		return idx + 1
	}
	if c.used >= maxPayload {
		return maxPayload
	}
	return 0
}
