package iomux

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/clustercore/batchcore/protocol"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	opts := DefaultOptions()
	opts.MaxPayload = 4096
	opts.MaxMsgCache = 4
	return NewCoordinator(&fakeReactor{}, opts)
}

// socketpair returns a connected pair of nonblocking stream fds, standing
// in for a client's network connection.
func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	return fds[0], fds[1]
}

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	if err := unix.Pipe2(fds[:], 0); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	return fds[0], fds[1]
}

// readInitMessage drains and discards the coordinator's init handshake
// from the peer end of a client connection.
func readInitMessage(t *testing.T, fd int) {
	t.Helper()
	want := protocol.CredSigLen + 4 + 4 + 4
	got := 0
	buf := make([]byte, want)
	for got < want {
		n, err := unix.Read(fd, buf[got:])
		if err != nil {
			t.Fatalf("read init message: %v", err)
		}
		got += n
	}
}

func readExactly(t *testing.T, fd int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	for got < n {
		k, err := unix.Read(fd, buf[got:])
		if err != nil {
			if isTransient(err) {
				continue
			}
			t.Fatalf("read: %v", err)
		}
		got += k
	}
	return buf
}

// TestTwoTaskFanIn covers spec.md §8 scenario 1: two tasks' stdout is
// interleaved onto a single attached client, each frame tagged by its
// gtaskid and carrying that task's payload.
func TestTwoTaskFanIn(t *testing.T) {
	c := newTestCoordinator(t)

	r1, w1 := pipe(t)
	r2, w2 := pipe(t)
	if err := c.AttachTaskStdout(1, 1, r1); err != nil {
		t.Fatalf("attach task 1: %v", err)
	}
	if err := c.AttachTaskStdout(2, 1, r2); err != nil {
		t.Fatalf("attach task 2: %v", err)
	}

	clientSide, peerSide := socketpair(t)
	cl, err := c.AttachClient(clientSide)
	if err != nil {
		t.Fatalf("attach client: %v", err)
	}
	readInitMessage(t, peerSide)

	if _, err := unix.Write(w1, []byte("hello from task one\n")); err != nil {
		t.Fatalf("write task1: %v", err)
	}
	if _, err := unix.Write(w2, []byte("hello from task two\n")); err != nil {
		t.Fatalf("write task2: %v", err)
	}

	for _, r := range c.readers {
		if err := r.HandleRead(); err != nil {
			t.Fatalf("HandleRead: %v", err)
		}
	}
	for cl.Writable() {
		if err := cl.HandleWrite(); err != nil {
			t.Fatalf("HandleWrite: %v", err)
		}
	}

	seenTask1, seenTask2 := false, false
	for i := 0; i < 2; i++ {
		hdr := readExactly(t, peerSide, protocol.HeaderSize)
		h := protocol.DecodeHeader(hdr)
		payload := readExactly(t, peerSide, int(h.Length))
		switch h.GTaskID {
		case 1:
			seenTask1 = true
			if string(payload) != "hello from task one\n" {
				t.Errorf("task1 payload = %q", payload)
			}
		case 2:
			seenTask2 = true
			if string(payload) != "hello from task two\n" {
				t.Errorf("task2 payload = %q", payload)
			}
		}
	}
	if !seenTask1 || !seenTask2 {
		t.Errorf("did not see both tasks' output: task1=%v task2=%v", seenTask1, seenTask2)
	}
}

// TestLateAttachReceivesCache covers spec.md §8 scenario 2 and the
// IO.attach-catchup invariant: a client attaching after output has
// already been produced still receives the cached frames.
func TestLateAttachReceivesCache(t *testing.T) {
	c := newTestCoordinator(t)

	r1, w1 := pipe(t)
	if err := c.AttachTaskStdout(1, 1, r1); err != nil {
		t.Fatalf("attach task: %v", err)
	}
	if _, err := unix.Write(w1, []byte("cached line\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, r := range c.readers {
		if err := r.HandleRead(); err != nil {
			t.Fatalf("HandleRead: %v", err)
		}
	}

	clientSide, peerSide := socketpair(t)
	cl, err := c.AttachClient(clientSide)
	if err != nil {
		t.Fatalf("attach client: %v", err)
	}
	readInitMessage(t, peerSide)

	for cl.Writable() {
		if err := cl.HandleWrite(); err != nil {
			t.Fatalf("HandleWrite: %v", err)
		}
	}

	hdr := readExactly(t, peerSide, protocol.HeaderSize)
	h := protocol.DecodeHeader(hdr)
	payload := readExactly(t, peerSide, int(h.Length))
	if string(payload) != "cached line\n" {
		t.Errorf("payload = %q, want cached line", payload)
	}
}

// TestClientEPIPEStopsFanOut covers spec.md §8 scenario 3: a client that
// goes away mid-stream (write returns EPIPE) is dropped from future
// fan-out without disrupting other clients or the task stream.
func TestClientEPIPEStopsFanOut(t *testing.T) {
	c := newTestCoordinator(t)

	r1, w1 := pipe(t)
	if err := c.AttachTaskStdout(1, 1, r1); err != nil {
		t.Fatalf("attach task: %v", err)
	}

	clientSide, peerSide := socketpair(t)
	cl, err := c.AttachClient(clientSide)
	if err != nil {
		t.Fatalf("attach client: %v", err)
	}
	readInitMessage(t, peerSide)
	unix.Close(peerSide) // peer gone; next write to clientSide returns EPIPE

	if _, err := unix.Write(w1, []byte("line one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for _, r := range c.readers {
		if err := r.HandleRead(); err != nil {
			t.Fatalf("HandleRead: %v", err)
		}
	}
	for i := 0; i < 8 && cl.Writable(); i++ {
		_ = cl.HandleWrite()
	}

	if !cl.outEOF {
		t.Errorf("expected client outEOF after EPIPE, got outEOF=false")
	}
	if !cl.ShuttingDown() {
		t.Errorf("expected client to request shutdown after EPIPE")
	}

	// the client's dropped references leave outgoing buffers free for further routing.
	if c.pool.FreeOutgoing() == 0 {
		t.Errorf("outgoing pool unexpectedly exhausted after single frame")
	}
}

// TestAllStdinFanOut covers spec.md §8 scenario 4: an ALLSTDIN frame from
// a client is delivered to every attached task's stdin.
func TestAllStdinFanOut(t *testing.T) {
	c := newTestCoordinator(t)

	r1, w1 := pipe(t)
	r2, w2 := pipe(t)
	if err := c.AttachTaskStdin(1, w1); err != nil {
		t.Fatalf("attach stdin 1: %v", err)
	}
	if err := c.AttachTaskStdin(2, w2); err != nil {
		t.Fatalf("attach stdin 2: %v", err)
	}

	clientSide, peerSide := socketpair(t)
	_, err := c.AttachClient(clientSide)
	if err != nil {
		t.Fatalf("attach client: %v", err)
	}
	readInitMessage(t, peerSide)

	frame := make([]byte, protocol.HeaderSize+len("broadcast\n"))
	protocol.EncodeHeader(frame, protocol.Header{Type: protocol.MsgAllStdin, Length: uint32(len("broadcast\n"))})
	copy(frame[protocol.HeaderSize:], "broadcast\n")
	if _, err := unix.Write(peerSide, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	for _, cl := range c.clients {
		if err := cl.HandleRead(); err != nil {
			t.Fatalf("HandleRead: %v", err)
		}
	}
	for _, w := range c.taskWriters {
		for w.Writable() {
			if err := w.HandleWrite(); err != nil {
				t.Fatalf("HandleWrite: %v", err)
			}
		}
	}

	got1 := readExactly(t, r1, len("broadcast\n"))
	got2 := readExactly(t, r2, len("broadcast\n"))
	if string(got1) != "broadcast\n" {
		t.Errorf("task1 stdin = %q", got1)
	}
	if string(got2) != "broadcast\n" {
		t.Errorf("task2 stdin = %q", got2)
	}
}
