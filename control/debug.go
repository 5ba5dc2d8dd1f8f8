// Runtime debug handler and probe reflector for internal inspection, e.g.
// a coordinator's pool occupancy or a scheduler's active-row bitmaps.

package control

import (
	"sync"

	"github.com/clustercore/batchcore/gang"
	"github.com/clustercore/batchcore/iomux"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any)
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}

// RegisterIOMuxProbes wires a Coordinator's live occupancy counters into
// dp: pool free-list depth, attached client count, and per-stream task
// endpoint counts. pool.free_* approaching zero is spec.md §7's
// resource-exhaustion backpressure made observable without a debugger.
func RegisterIOMuxProbes(dp *DebugProbes, coord *iomux.Coordinator) {
	dp.RegisterProbe("iomux.pool_free_incoming", func() any {
		in, _ := coord.PoolStats()
		return in
	})
	dp.RegisterProbe("iomux.pool_free_outgoing", func() any {
		_, out := coord.PoolStats()
		return out
	})
	dp.RegisterProbe("iomux.clients", func() any { return coord.ClientCount() })
	dp.RegisterProbe("iomux.task_writers", func() any { return coord.TaskWriterCount() })
	dp.RegisterProbe("iomux.task_stdout_readers", func() any { return coord.ReaderCount(iomux.StreamStdout) })
	dp.RegisterProbe("iomux.task_stderr_readers", func() any { return coord.ReaderCount(iomux.StreamStderr) })
}

// RegisterGangProbes wires a Scheduler's live job/partition counts into
// dp, split by RowState and SigState so the active-row state diagram
// (spec.md §4.8/§4.9) is observable without a debugger.
func RegisterGangProbes(dp *DebugProbes, s *gang.Scheduler) {
	dp.RegisterProbe("gang.partitions", func() any { return s.PartitionCount() })
	dp.RegisterProbe("gang.jobs_total", func() any {
		total, _, _, _ := s.JobStats()
		return total
	})
	dp.RegisterProbe("gang.jobs_active", func() any {
		_, active, _, _ := s.JobStats()
		return active
	})
	dp.RegisterProbe("gang.jobs_filler", func() any {
		_, _, filler, _ := s.JobStats()
		return filler
	})
	dp.RegisterProbe("gang.jobs_suspended", func() any {
		_, _, _, suspended := s.JobStats()
		return suspended
	})
}
