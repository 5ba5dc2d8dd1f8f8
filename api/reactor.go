// Package api
//
// Defines the abstract interface for the level-triggered event reactor and
// the registrants it drives. Implementations live in package reactor;
// registrants live in package iomux.
package api

// EventMask is a bitset of readiness conditions.
type EventMask uint8

const (
	EventNone  EventMask = 0
	EventRead  EventMask = 1 << 0
	EventWrite EventMask = 1 << 1
	EventError EventMask = 1 << 2
)

// Registrant is a single reactor client: a file descriptor plus the
// readiness predicates and handlers the reactor drives every pass.
//
// All methods execute on the reactor's single goroutine. A registrant must
// not block in Readable/Writable/HandleRead/HandleWrite beyond the final
// non-blocking read/write syscall.
type Registrant interface {
	FD() uintptr

	// Readable/Writable are re-evaluated on every pass; implementations
	// must not cache a stale interest set across passes.
	Readable() bool
	Writable() bool

	HandleRead() error
	HandleWrite() error

	// ShuttingDown reports whether the registrant has requested removal.
	// The reactor removes and Closes a registrant once it reports
	// ShuttingDown() and is neither Readable() nor Writable().
	ShuttingDown() bool
	RequestShutdown()

	Close() error
}

// Reactor drives a set of Registrants with level-triggered readiness.
type Reactor interface {
	Register(r Registrant) error
	Unregister(r Registrant)

	// SignalWakeup forces the next Wait to return immediately. Safe to
	// call from any goroutine.
	SignalWakeup()

	// Run blocks, dispatching handlers until Shutdown is called.
	Run() error

	// Shutdown asks Run to return; safe to call from any goroutine.
	Shutdown()

	Close() error
}
