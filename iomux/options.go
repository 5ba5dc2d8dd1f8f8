// Package iomux implements the per-node stdio multiplexer: task endpoints
// (C4), client endpoints (C5) and the coordinator that fans task output
// out to attached clients and back-routes client stdin to tasks (C6).
package iomux

import "github.com/clustercore/batchcore/protocol"

// Options carries the configuration table of spec.md §6.
type Options struct {
	// BufferedStdio enables line-mode framing of task output (spec.md §4.4).
	BufferedStdio bool
	// MaxMsgCache bounds the outgoing replay cache (STDIO_MAX_MSG_CACHE).
	MaxMsgCache int
	// MaxPayload bounds a single frame's payload (MAX_PAYLOAD).
	MaxPayload int
	// NIn, NOut size the incoming/outgoing buffer pool free lists.
	NIn, NOut int

	CredSig [protocol.CredSigLen]byte
	NodeID  uint32
}

// DefaultOptions returns sane defaults for a single job invocation with a
// modest task/client fan-out.
func DefaultOptions() Options {
	return Options{
		BufferedStdio: true,
		MaxMsgCache:   64,
		MaxPayload:    64 * 1024,
		NIn:           32,
		NOut:          128,
	}
}
