// Package control provides the runtime configuration, metrics and debug
// introspection layer shared by the IO multiplexer and the gang
// scheduler: a hot-reloadable key/value config store (the options tables
// of spec.md §6), a metrics registry, and a probe-based debug dumper.
package control
