package pool

import (
	"math/rand"
	"testing"
)

func TestPoolAcquireRelease_Basic(t *testing.T) {
	p := New(2, 2, 64)

	b, ok := p.AcquireOutgoing()
	if !ok {
		t.Fatal("expected buffer, got exhaustion")
	}
	if p.FreeOutgoing() != 1 {
		t.Fatalf("expected 1 free outgoing, got %d", p.FreeOutgoing())
	}
	b.Retain()
	if b.RefCount() != 1 {
		t.Fatalf("expected refcount 1, got %d", b.RefCount())
	}
	b.Release()
	if b.RefCount() != 0 {
		t.Fatalf("expected refcount 0, got %d", b.RefCount())
	}
	if p.FreeOutgoing() != 2 {
		t.Fatalf("expected buffer returned to pool, got %d free", p.FreeOutgoing())
	}
}

func TestPoolExhaustionIsBackpressureNotFailure(t *testing.T) {
	p := New(1, 1, 16)
	b1, ok := p.AcquireIncoming()
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	_, ok = p.AcquireIncoming()
	if ok {
		t.Fatal("expected exhaustion on second acquire")
	}
	b1.Retain()
	b1.Release()
	_, ok = p.AcquireIncoming()
	if !ok {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestPoolOutgoingFreeHookFiresOnZeroRefcount(t *testing.T) {
	p := New(1, 1, 16)
	fired := 0
	p.OnOutgoingFree(func() { fired++ })

	b, _ := p.AcquireOutgoing()
	b.Retain()
	b.Retain()
	b.Release()
	if fired != 0 {
		t.Fatalf("hook must not fire before refcount reaches zero, fired=%d", fired)
	}
	b.Release()
	if fired != 1 {
		t.Fatalf("expected hook to fire exactly once, fired=%d", fired)
	}
}

// TestPoolRefcountPropertyBased performs randomized acquire/retain/release
// sequences and checks that the free-list size plus the number of buffers
// still holding references always equals the pool's fixed capacity, mirroring the
// teacher's randomized ring-buffer invariant test.
func TestPoolRefcountPropertyBased(t *testing.T) {
	const capacity = 8
	p := New(0, capacity, 32)

	var held []*IoBuf
	for i := 0; i < 5000; i++ {
		switch rand.Intn(3) {
		case 0: // acquire
			if b, ok := p.AcquireOutgoing(); ok {
				b.Retain()
				held = append(held, b)
			}
		case 1: // retain an existing buffer (simulating another fan-out target)
			if len(held) > 0 {
				held[rand.Intn(len(held))].Retain()
			}
		case 2: // release one reference from a random held buffer
			if len(held) > 0 {
				idx := rand.Intn(len(held))
				b := held[idx]
				b.Release()
				if b.RefCount() == 0 {
					held = append(held[:idx], held[idx+1:]...)
				}
			}
		}
		if p.FreeOutgoing()+len(held) != capacity {
			t.Fatalf("accounting drift: free=%d held=%d capacity=%d", p.FreeOutgoing(), len(held), capacity)
		}
	}
}
