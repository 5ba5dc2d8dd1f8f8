package gang

// ExternalJobState mirrors the authoritative job states the scheduler
// reads from the external job list (spec.md §4.9 job_scan). Everything
// other than Running/Suspended is treated as "not tracked" or "gone".
type ExternalJobState int

const (
	JobPending ExternalJobState = iota
	JobRunning
	JobSuspended
	JobCompleting
	JobCompleted
)

// ExternalJob is the subset of a job record GANG needs from the
// authoritative external job list: identity, partition membership and
// node allocation. The scheduler never owns job scheduling, placement or
// lifecycle beyond time-slicing (spec.md Non-goals).
type ExternalJob struct {
	ID            string
	PartitionName string
	State         ExternalJobState
	// NodeBitmap has one bit per cluster node, set where the job holds
	// an allocation.
	NodeBitmap *Bitmap
}

// PartitionSpec is the subset of partition configuration GANG needs:
// name, scheduling priority and node membership (for SOCKET/CORE
// expansion in the resource model).
type PartitionSpec struct {
	Name     string
	Priority int
	// Nodes lists the cluster-wide node indices that belong to this
	// partition, ascending.
	Nodes []int
}

// JobSource is the authoritative external job list (spec.md §4.9's
// scan_slurm_job_list and the per-call job_start/job_fini callers).
// Placement, fair-share and backfill all live on the other side of this
// interface; GANG only reads state and node allocation.
type JobSource interface {
	// ListJobs returns the current snapshot of every job the scheduler
	// should consider, in arbitrary order.
	ListJobs() ([]ExternalJob, error)
}

// PartitionSource is the authoritative external partition list
// (spec.md §4.9's reconfig).
type PartitionSource interface {
	ListPartitions() ([]PartitionSpec, error)
}

// ResourceTopology supplies the per-node/per-socket resource counts the
// resource model needs to build phys_res_cnt (spec.md §4.7). Whether the
// counts are advertised or live depends only on the implementation
// supplied; Options.FastSchedule does not select one.
type ResourceTopology interface {
	// NodeCount returns the total number of cluster nodes, the bit
	// domain for NODE/CPU granularity.
	NodeCount() int
	// SocketsPerNode returns node idx's socket count, the bit domain
	// unit for SOCKET/CORE granularity.
	SocketsPerNode(node int) int
	// CoresPerSocket returns node/socket's core count (fast_schedule
	// path: advertised; slow path: live select plugin query — the
	// caller is expected to pick the implementation accordingly).
	CoresPerSocket(node, socket int) int
	// CPUsOnNode returns node idx's total CPU count, for CPU granularity.
	CPUsOnNode(node int) int
}

// JobCoreQuery answers gang.c's job_cores(job, node, socket): how many
// cores of node/socket a job holds, used to expand a node-level
// allocation bitmap down to SOCKET/CORE granularity and to build
// alloc_cpus (spec.md §4.7).
type JobCoreQuery interface {
	JobCores(jobID string, node, socket int) int
}

// SignalSender issues the SUSPEND/RESUME primitive on a job (spec.md
// §4.8's signal state machine). It must not require any GANG lock itself
// (spec.md §5's single-level-locking requirement): implementations
// should be a thin wrapper over an external signal/suspend API.
type SignalSender interface {
	Suspend(jobID string) error
	Resume(jobID string) error
}
