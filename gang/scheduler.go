package gang

import (
	"fmt"
	"sort"
	"sync"

	"github.com/clustercore/batchcore/logx"
)

var log = logx.For("gang")

// Scheduler is the C9 scheduler coordinator: public entry points init,
// fini, job_start, job_fini, job_scan and reconfig over a priority-sorted
// partition list, plus shadow casting and the timeslicer it drives
// (spec.md §4.9).
type Scheduler struct {
	opts Options

	jobSource       JobSource
	partitionSource PartitionSource
	topo            ResourceTopology
	jobCores        JobCoreQuery
	signaler        SignalSender

	// mu is spec.md §5's data_lock: held by every public entry point and
	// by the timeslicer for the duration of a scan pass.
	mu         sync.Mutex
	rm         *ResourceModel
	partitions []*Partition
	sorted     []*Partition

	ts *timeslicer
}

// NewScheduler constructs a Scheduler. Call Init to build the resource
// model, load partitions and jobs, and start the timeslicer.
func NewScheduler(opts Options, jobSource JobSource, partitionSource PartitionSource, topo ResourceTopology, jobCores JobCoreQuery, signaler SignalSender) *Scheduler {
	return &Scheduler{
		opts:            opts,
		jobSource:       jobSource,
		partitionSource: partitionSource,
		topo:            topo,
		jobCores:        jobCores,
		signaler:        signaler,
	}
}

// Init implements spec.md §4.9's init(): derives the resource model,
// builds empty partitions from the external partition list, adopts
// existing jobs via JobScan, and spawns the timeslicer.
func (s *Scheduler) Init() error {
	s.mu.Lock()
	s.rm = BuildResourceModel(s.opts.Granularity, s.topo, s.jobCores)

	specs, err := s.partitionSource.ListPartitions()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("gang: list partitions: %w", err)
	}
	s.partitions = make([]*Partition, 0, len(specs))
	for _, spec := range specs {
		s.partitions = append(s.partitions, newPartition(spec))
	}
	s.resortPartitions()
	s.mu.Unlock()

	if err := s.JobScan(); err != nil {
		return err
	}

	s.ts = newTimeslicer(s, s.opts.TimeSlice)
	s.ts.start()
	return nil
}

// Fini implements spec.md §4.9's fini(): signals the timeslicer to shut
// down, waits for it to exit (a bounded wait that logs a warning and
// gives up on timeout; the goroutine is not cancelled), then discards all
// partitions.
func (s *Scheduler) Fini() error {
	if s.ts != nil {
		s.ts.stop()
	}
	s.mu.Lock()
	s.partitions = nil
	s.sorted = nil
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) resortPartitions() {
	s.sorted = append(s.sorted[:0], s.partitions...)
	sortPartitionsByPriorityDesc(s.sorted)
}

// sortPartitionsByPriorityDesc matches gang.c's choice of a bubble sort
// for parts_sorted: partitions are few and priorities may mutate between
// passes, so a full stable sort every time is simplest and cheap enough.
func sortPartitionsByPriorityDesc(parts []*Partition) {
	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Priority > parts[j].Priority })
}

func (s *Scheduler) findPartition(name string) *Partition {
	for _, p := range s.partitions {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (s *Scheduler) findJob(id string) (*Partition, *Job) {
	for _, p := range s.partitions {
		if j := p.findJob(id); j != nil {
			return p, j
		}
	}
	return nil, nil
}

func (s *Scheduler) buildJob(ej ExternalJob) *Job {
	resmap := s.rm.JobToResmap(ej.ID, ej.NodeBitmap)
	return &Job{
		ID:        ej.ID,
		Resmap:    resmap,
		AllocCPUs: s.rm.AllocCPUs(ej.ID, resmap),
		RowState:  NoActive,
		SigState:  Resume,
	}
}

// JobStart implements spec.md §4.9's job_start(job): locates the job's
// partition, admits it via AddJobToPart, casts a shadow if admitted, and
// triggers updateAllActiveRows because admission may have shadow-
// preempted peers in lower-priority partitions.
func (s *Scheduler) JobStart(ej ExternalJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part := s.findPartition(ej.PartitionName)
	if part == nil {
		return fmt.Errorf("gang: job %s: partition %q not found", ej.ID, ej.PartitionName)
	}
	job := s.buildJob(ej)
	admitted, err := AddJobToPart(s.rm, part, job, s.signaler)
	if err != nil {
		return fmt.Errorf("gang: job %s: admit: %w", ej.ID, err)
	}
	if admitted {
		s.castShadows(job, part.Priority)
		return s.updateAllActiveRows(false)
	}
	return nil
}

// JobFini implements spec.md §4.9's job_fini(job): removes the job from
// its partition (clearing any shadows it cast everywhere first), then
// triggers updateAllActiveRows because the freed resources may admit a
// FILLER elsewhere.
func (s *Scheduler) JobFini(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, job := s.findJob(jobID)
	if part == nil {
		return nil
	}
	s.clearShadows(job)
	RemoveJobFromPart(part, jobID)
	return s.updateAllActiveRows(true)
}

// JobScan implements spec.md §4.9's job_scan(): reconciles the tracked
// job set against the authoritative external job list. A RUNNING or
// SUSPENDED job not yet tracked is resumed (in case a prior incarnation
// left it suspended) and added; a tracked job whose external state has
// moved to COMPLETING/COMPLETED, or that is simply absent, is removed.
func (s *Scheduler) JobScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	external, err := s.jobSource.ListJobs()
	if err != nil {
		return fmt.Errorf("gang: list jobs: %w", err)
	}

	seen := make(map[string]bool, len(external))
	for _, ej := range external {
		seen[ej.ID] = true
		part, existing := s.findJob(ej.ID)
		switch ej.State {
		case JobRunning, JobSuspended:
			if existing != nil {
				continue
			}
			if err := s.signaler.Resume(ej.ID); err != nil {
				log.Warn().Err(err).Str("job", ej.ID).Msg("resume on scan adoption failed")
			}
			targetPart := s.findPartition(ej.PartitionName)
			if targetPart == nil {
				log.Warn().Str("job", ej.ID).Str("partition", ej.PartitionName).Msg("job scan: unknown partition")
				continue
			}
			job := s.buildJob(ej)
			job.SigState = Resume
			admitted, err := AddJobToPart(s.rm, targetPart, job, s.signaler)
			if err != nil {
				return fmt.Errorf("gang: job scan admit %s: %w", ej.ID, err)
			}
			if admitted {
				s.castShadows(job, targetPart.Priority)
			}
		default:
			if existing != nil {
				s.clearShadows(existing)
				RemoveJobFromPart(part, ej.ID)
			}
		}
	}

	// anything tracked but absent from the external snapshot is gone.
	for _, p := range s.partitions {
		for _, j := range append([]*Job(nil), p.Jobs...) {
			if !seen[j.ID] {
				s.clearShadows(j)
				RemoveJobFromPart(p, j.ID)
			}
		}
	}

	return s.updateAllActiveRows(true)
}

// Reconfig implements spec.md §4.9's reconfig(): rebuilds the partition
// list from the current external partition source, transferring jobs
// for partitions whose name survives (re-confirming membership in the
// authoritative job list and resuming any that were suspended), resuming
// every suspended job held by a removed partition, then re-adopting the
// authoritative state via JobScan. The design accepts that a transferred
// job's new partition may not geometrically overlap its old one; it does
// not attempt to prove non-overlap (spec.md §4.9).
func (s *Scheduler) Reconfig() error {
	s.mu.Lock()
	old := s.partitions
	specs, err := s.partitionSource.ListPartitions()
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("gang: reconfig: list partitions: %w", err)
	}
	s.rm = BuildResourceModel(s.opts.Granularity, s.topo, s.jobCores)

	fresh := make([]*Partition, 0, len(specs))
	byName := make(map[string]*Partition, len(specs))
	for _, spec := range specs {
		p := newPartition(spec)
		fresh = append(fresh, p)
		byName[spec.Name] = p
	}

	authoritative, jerr := s.jobSource.ListJobs()
	if jerr != nil {
		s.mu.Unlock()
		return fmt.Errorf("gang: reconfig: list jobs: %w", jerr)
	}
	byID := make(map[string]ExternalJob, len(authoritative))
	for _, ej := range authoritative {
		byID[ej.ID] = ej
	}

	// Transfer jobs from each surviving partition into its replacement,
	// preserving job_list order (gang.c's reconfig preserves timeslicing
	// state this way). Each transferred job's resmap/alloc_cpus are
	// rebuilt against the freshly-built s.rm and the job is re-admitted
	// via AddJobToPart, exactly as gang.c's _add_job_to_part(newp_ptr,
	// job_ptr->job_id, job_ptr->node_bitmap) recomputes them rather than
	// carrying over the old partition's bitmaps, which may no longer
	// match s.rm.resmapSize after a topology change.
	var admittedJobs []*Job
	var admittedParts []*Partition
	for _, p := range old {
		target, survives := byName[p.Name]
		for _, j := range p.Jobs {
			ej, stillExists := byID[j.ID]
			if survives && stillExists {
				if j.SigState == Suspend {
					if err := s.signaler.Resume(j.ID); err != nil {
						log.Warn().Err(err).Str("job", j.ID).Msg("reconfig resume failed")
					}
				}
				newJob := s.buildJob(ej)
				newJob.SigState = Resume
				admitted, err := AddJobToPart(s.rm, target, newJob, s.signaler)
				if err != nil {
					s.mu.Unlock()
					return fmt.Errorf("gang: reconfig: transfer job %s: %w", j.ID, err)
				}
				if admitted {
					admittedJobs = append(admittedJobs, newJob)
					admittedParts = append(admittedParts, target)
				}
				continue
			}
			if j.SigState == Suspend {
				if err := s.signaler.Resume(j.ID); err != nil {
					log.Warn().Err(err).Str("job", j.ID).Msg("reconfig resume of orphaned job failed")
				}
				j.SigState = Resume
			}
		}
	}

	s.partitions = fresh
	s.resortPartitions()
	for i, j := range admittedJobs {
		s.castShadows(j, admittedParts[i].Priority)
	}
	s.mu.Unlock()

	return s.JobScan()
}

// PartitionCount reports the number of partitions currently tracked,
// for use by debug/metrics probes.
func (s *Scheduler) PartitionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.partitions)
}

// JobStats reports, across every partition, the total job count, the
// counts of jobs in the Active and Filler RowStates, and the count of jobs
// whose SigState is Suspend, for use by debug/metrics probes.
func (s *Scheduler) JobStats() (total, active, filler, suspended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.partitions {
		for _, j := range p.Jobs {
			total++
			switch j.RowState {
			case Active:
				active++
			case Filler:
				filler++
			}
			if j.SigState == Suspend {
				suspended++
			}
		}
	}
	return
}

// updateAllActiveRows walks every partition and rebuilds its active row
// via UpdateActiveRow, admitting previously NO_ACTIVE jobs when addNew.
// Callers hold s.mu.
func (s *Scheduler) updateAllActiveRows(addNew bool) error {
	for _, p := range s.partitions {
		if err := UpdateActiveRow(s.rm, p, addNew, s.signaler, s.clearShadows); err != nil {
			return fmt.Errorf("gang: update active row for partition %q: %w", p.Name, err)
		}
	}
	return nil
}
