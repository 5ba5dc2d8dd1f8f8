// Package reactor implements the level-triggered event reactor of
// spec.md §4.1 (C1): on each pass it asks every registered api.Registrant
// for its current readiness, builds the corresponding epoll interest set,
// waits with no timeout, and dispatches ready handlers in registration
// order. A self-pipe wakeup lets any goroutine force the next Wait to
// return immediately.
package reactor
