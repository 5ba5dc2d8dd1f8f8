// Package pool implements the fixed-capacity, reference-counted buffer
// pool described in spec.md §4.3 (C3): two pre-sized free lists —
// incoming and outgoing — of IoBuf, sized once at job start and never
// grown. Allocation never occurs on a hot path: acquisition only ever
// pops from a free list or reports exhaustion.
package pool

import (
	"sync/atomic"

	"github.com/clustercore/batchcore/api"
)

// Kind identifies which free list an IoBuf was drawn from.
type Kind uint8

const (
	Incoming Kind = iota
	Outgoing
)

// HeaderSize is the on-wire frame header size of protocol.Header: type
// (u16) + gtaskid (u16) + ltaskid (u16) + length (u32).
const HeaderSize = 10

// IoBuf is an owned byte region of capacity HeaderSize+MaxPayload, shared
// across many fan-out queues via an explicit reference count. The zero
// value is not usable; IoBufs are only produced by Pool.
//
// Invariant (IO.refcount): the sum of an IoBuf's queue memberships plus
// in-progress-message references equals RefCount(); when it reaches zero
// the buffer is in exactly one free list and contents are not reused
// until the next Acquire.
type IoBuf struct {
	storage []byte
	length  int
	refs    int32
	kind    Kind
	pool    *Pool
}

// Bytes returns the buffer's current payload view.
func (b *IoBuf) Bytes() []byte { return b.storage[:b.length] }

// Storage returns the full backing array (HeaderSize+MaxPayload), for
// codecs that need to write the header in place.
func (b *IoBuf) Storage() []byte { return b.storage }

// SetLength sets the logical payload length; n must not exceed cap(Storage()).
func (b *IoBuf) SetLength(n int) { b.length = n }

// Len returns the current logical payload length.
func (b *IoBuf) Len() int { return b.length }

// Kind reports the free list this buffer returns to on Release.
func (b *IoBuf) Kind() Kind { return b.kind }

// Retain adds one unit to the reference count. Call once per queue or
// in-progress-message slot that comes to hold this buffer.
func (b *IoBuf) Retain() {
	atomic.AddInt32(&b.refs, 1)
}

// Release removes one unit from the reference count. When it reaches
// zero the buffer returns to its origin pool and, for an outgoing
// buffer, the pool's registered repack hook runs (spec.md §4.6, "on
// outgoing release").
func (b *IoBuf) Release() {
	n := atomic.AddInt32(&b.refs, -1)
	api.Invariantf(n >= 0, "pool: IoBuf released with refcount already zero")
	if n == 0 {
		b.pool.recycle(b)
	}
}

// RefCount returns the current reference count, for tests and debug probes.
func (b *IoBuf) RefCount() int32 { return atomic.LoadInt32(&b.refs) }
