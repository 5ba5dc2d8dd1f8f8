package gang

// FitsInActiveRow implements spec.md §4.8's job_fits_in_active_row: a job
// with no resource conflict against the partition's active row always
// fits; NODE/SOCKET granularity has no way to share a conflicting slot,
// so any conflict is a hard miss; CPU/CORE allow the conflict so long as
// the summed demand stays within phys_res_cnt.
func FitsInActiveRow(rm *ResourceModel, part *Partition, job *Job) bool {
	if part.ActiveResmap == nil || part.JobsActive == 0 {
		return true
	}
	conflict := job.Resmap.And(part.ActiveResmap)
	if conflict.PopCount() == 0 {
		return true
	}
	if rm.granularity == GrNode || rm.granularity == GrSocket {
		return false
	}
	for _, i := range conflict.SetBits() {
		rank := job.Resmap.RankOf(i)
		contrib := 0
		if rank < len(job.AllocCPUs) {
			contrib = job.AllocCPUs[rank]
		}
		if part.ActiveCPUs[i]+contrib > rm.PhysResCnt(i) {
			return false
		}
	}
	return true
}

// AddJobToActive implements spec.md §4.8's add_job_to_active: the first
// job into an empty active row seeds it, a fresh cycle (jobs_active==0
// but a resmap already allocated from a prior cycle) overwrites it, and
// every subsequent job ORs in. CPU/CORE active_cpus sums are clamped at
// phys_res_cnt per slot, which matters when a shadow's own demand has
// already pushed a slot to capacity.
func AddJobToActive(rm *ResourceModel, part *Partition, job *Job) {
	needsCPUs := rm.granularity == GrCPU || rm.granularity == GrCore

	switch {
	case part.ActiveResmap == nil:
		part.ActiveResmap = rm.NewResmap()
		part.ActiveResmap.CopyFrom(job.Resmap)
		if needsCPUs {
			part.ActiveCPUs = make([]int, rm.resmapSize)
			applyJobCPUs(rm, part.ActiveCPUs, job, true)
		}
	case part.JobsActive == 0:
		part.ActiveResmap.CopyFrom(job.Resmap)
		if needsCPUs {
			for i := range part.ActiveCPUs {
				part.ActiveCPUs[i] = 0
			}
			applyJobCPUs(rm, part.ActiveCPUs, job, true)
		}
	default:
		part.ActiveResmap.Or(job.Resmap)
		if needsCPUs {
			applyJobCPUs(rm, part.ActiveCPUs, job, false)
		}
	}
	part.JobsActive++
}

func applyJobCPUs(rm *ResourceModel, activeCPUs []int, job *Job, overwrite bool) {
	for rank, bit := range job.Resmap.SetBits() {
		contrib := 0
		if rank < len(job.AllocCPUs) {
			contrib = job.AllocCPUs[rank]
		}
		if overwrite {
			activeCPUs[bit] = contrib
			continue
		}
		sum := activeCPUs[bit] + contrib
		if cap := rm.PhysResCnt(bit); sum > cap {
			sum = cap
		}
		activeCPUs[bit] = sum
	}
}

// BuildActiveRow implements spec.md §4.8's build_active_row: a from-
// scratch rebuild that admits all shadows unconditionally, then
// first-fits jobs in stored order. Jobs that do not fit keep whatever
// RowState they already had.
func BuildActiveRow(rm *ResourceModel, part *Partition) {
	part.ActiveResmap = nil
	part.ActiveCPUs = nil
	part.JobsActive = 0

	for _, s := range part.Shadows {
		AddJobToActive(rm, part, s)
	}
	for _, j := range part.Jobs {
		if FitsInActiveRow(rm, part, j) {
			AddJobToActive(rm, part, j)
			j.RowState = Active
		}
	}
}

// UpdateActiveRow implements spec.md §4.8's update_active_row: a rebuild
// that honors existing row membership rather than recomputing it from
// scratch. Existing ACTIVE jobs that no longer fit are shadow-preempted
// (suspended, shadows cleared, demoted to NO_ACTIVE); the same applies to
// FILLER jobs. If addNew, a third pass admits previously NO_ACTIVE jobs
// that now fit, as FILLER.
func UpdateActiveRow(rm *ResourceModel, part *Partition, addNew bool, signaler SignalSender, clearShadows func(*Job)) error {
	part.ActiveResmap = nil
	part.ActiveCPUs = nil
	part.JobsActive = 0

	for _, s := range part.Shadows {
		AddJobToActive(rm, part, s)
	}

	for _, rowState := range []RowState{Active, Filler} {
		for _, j := range part.Jobs {
			if j.RowState != rowState {
				continue
			}
			if FitsInActiveRow(rm, part, j) {
				AddJobToActive(rm, part, j)
				continue
			}
			j.RowState = NoActive
			clearShadows(j)
			if j.SigState != Suspend {
				if err := signaler.Suspend(j.ID); err != nil {
					return err
				}
				j.SigState = Suspend
			}
		}
	}

	if addNew {
		for _, j := range part.Jobs {
			if j.RowState != NoActive {
				continue
			}
			if !FitsInActiveRow(rm, part, j) {
				continue
			}
			AddJobToActive(rm, part, j)
			j.RowState = Filler
			if j.SigState != Resume {
				if err := signaler.Resume(j.ID); err != nil {
					return err
				}
				j.SigState = Resume
			}
		}
	}
	return nil
}

// AddJobToPart appends job to part's job list and admits it if it fits
// the current active row (spec.md §4.8's state diagram: (none) →
// FILLER on fit, NO_ACTIVE otherwise). It reports whether the job was
// admitted, so the caller knows whether update_all_active_rows() is
// needed for shadow-preemption of peers (spec.md §4.9's job_start).
func AddJobToPart(rm *ResourceModel, part *Partition, job *Job, signaler SignalSender) (admitted bool, err error) {
	part.Jobs = append(part.Jobs, job)

	if FitsInActiveRow(rm, part, job) {
		AddJobToActive(rm, part, job)
		job.RowState = Filler
		if job.SigState != Resume {
			if err := signaler.Resume(job.ID); err != nil {
				return false, err
			}
			job.SigState = Resume
		}
		return true, nil
	}

	job.RowState = NoActive
	if job.SigState != Suspend {
		if err := signaler.Suspend(job.ID); err != nil {
			return false, err
		}
		job.SigState = Suspend
	}
	return false, nil
}

// RemoveJobFromPart removes jobID from part's job list and returns it, or
// nil if not present. The caller is responsible for clearing the
// removed job's shadow entries across every partition (spec.md's
// _clear_shadow walks all partitions, not just this one) and for
// rebuilding active rows afterward.
func RemoveJobFromPart(part *Partition, jobID string) *Job {
	for i, j := range part.Jobs {
		if j.ID == jobID {
			return part.removeJobAt(i)
		}
	}
	return nil
}
