// Package gang implements the cluster gang scheduler: a resource model
// (C7), per-partition active-row engine (C8), scheduler coordinator (C9)
// and background timeslicer (C10) that time-slice jobs within a
// partition and enforce cross-partition preemption by priority
// (spec.md §2, §4.7-4.10).
package gang

import "time"

// GranularityType selects the bit domain the resource model bitmaps are
// indexed over (spec.md §4.7, SLURM's select_type_param/gr_type).
type GranularityType int

const (
	GrNode GranularityType = iota
	GrCPU
	GrSocket
	GrCore
)

// Options carries the GANG configuration table of spec.md §6.
type Options struct {
	// SelectTypeParam chooses Granularity; MEMORY variants collapse to
	// the base granularity at the call site (spec.md §6).
	Granularity GranularityType

	// TimeSlice is the timeslicer's rotation period (sched_time_slice).
	TimeSlice time.Duration

	// FastSchedule records the fast_schedule setting (spec.md §4.7, §6).
	// Neither Scheduler nor BuildResourceModel reads it: phys_res_cnt is
	// built from the counts of whichever ResourceTopology was passed to
	// NewScheduler, and this flag does not switch between advertised and
	// live counts.
	FastSchedule bool
}

// DefaultOptions mirrors SLURM's gang plugin defaults: core granularity,
// 30 second time slice, fast (advertised) schedule.
func DefaultOptions() Options {
	return Options{
		Granularity:  GrCore,
		TimeSlice:    30 * time.Second,
		FastSchedule: true,
	}
}
