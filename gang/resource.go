package gang

// ResourceModel is the resource model of spec.md §4.7 (C7): a choice of
// granularity, the resulting bit domain size, a run-length-encoded
// per-slot capacity table (phys_res_cnt) and the node/socket mapping
// needed to expand a job's node allocation down to that domain.
type ResourceModel struct {
	granularity GranularityType
	resmapSize  int

	// phys_res_cnt as two parallel run-length-encoded arrays: values[k]
	// holds the capacity of reps[k] consecutive slots (spec.md §4.7).
	// Lookup is O(groups); acceptable because groups are far fewer than
	// the number of slots.
	values []int
	reps   []int

	// bitNode/bitSocket map a SOCKET/CORE bit index back to its
	// (node, socket) pair, built once at construction in the same
	// node-major order used for expansion.
	bitNode   []int
	bitSocket []int

	topo     ResourceTopology
	jobCores JobCoreQuery
}

// BuildResourceModel derives gr_type's bit domain, phys_res_cnt and the
// bit-index-to-topology mapping from the cluster's resource topology
// (spec.md §4.7, §4.9's init()). It uses topo's counts as given; whether
// they are advertised or live is decided by the topo implementation, not
// by Options.FastSchedule, which this function does not see.
func BuildResourceModel(gran GranularityType, topo ResourceTopology, jobCores JobCoreQuery) *ResourceModel {
	rm := &ResourceModel{granularity: gran, topo: topo, jobCores: jobCores}

	nodes := topo.NodeCount()
	switch gran {
	case GrNode, GrCPU:
		rm.resmapSize = nodes
		if gran == GrCPU {
			rm.buildPhysResCntPerNode(nodes)
		}
	case GrSocket, GrCore:
		bit := 0
		for n := 0; n < nodes; n++ {
			sockets := topo.SocketsPerNode(n)
			for s := 0; s < sockets; s++ {
				rm.bitNode = append(rm.bitNode, n)
				rm.bitSocket = append(rm.bitSocket, s)
				bit++
			}
		}
		rm.resmapSize = bit
		if gran == GrCore {
			rm.buildPhysResCntPerSocket()
		}
	}
	return rm
}

func (rm *ResourceModel) buildPhysResCntPerNode(nodes int) {
	caps := make([]int, nodes)
	for n := 0; n < nodes; n++ {
		caps[n] = rm.topo.CPUsOnNode(n)
	}
	rm.compressRLE(caps)
}

func (rm *ResourceModel) buildPhysResCntPerSocket() {
	caps := make([]int, len(rm.bitNode))
	for i := range caps {
		caps[i] = rm.topo.CoresPerSocket(rm.bitNode[i], rm.bitSocket[i])
	}
	rm.compressRLE(caps)
}

func (rm *ResourceModel) compressRLE(caps []int) {
	rm.values = rm.values[:0]
	rm.reps = rm.reps[:0]
	for _, c := range caps {
		if len(rm.values) > 0 && rm.values[len(rm.values)-1] == c {
			rm.reps[len(rm.reps)-1]++
			continue
		}
		rm.values = append(rm.values, c)
		rm.reps = append(rm.reps, 1)
	}
}

// PhysResCnt returns slot i's capacity, O(groups).
func (rm *ResourceModel) PhysResCnt(i int) int {
	pos := 0
	for k, reps := range rm.reps {
		if i < pos+reps {
			return rm.values[k]
		}
		pos += reps
	}
	return 0
}

// ResmapSize returns the bit domain size.
func (rm *ResourceModel) ResmapSize() int { return rm.resmapSize }

// NewResmap allocates a zeroed Bitmap sized to the model's bit domain.
func (rm *ResourceModel) NewResmap() *Bitmap { return NewBitmap(rm.resmapSize) }

// JobToResmap expands a job's node allocation bitmap down to the
// model's bit domain (spec.md §4.7). For NODE/CPU the node bitmap is
// copied directly; for SOCKET/CORE it expands node-by-node, setting a
// bit per socket that holds at least one allocated core.
func (rm *ResourceModel) JobToResmap(jobID string, nodeBitmap *Bitmap) *Bitmap {
	out := rm.NewResmap()
	switch rm.granularity {
	case GrNode, GrCPU:
		out.CopyFrom(nodeBitmap)
	case GrSocket, GrCore:
		for bit := range rm.bitNode {
			if rm.jobCores.JobCores(jobID, rm.bitNode[bit], rm.bitSocket[bit]) >= 1 {
				out.Set(bit)
			}
		}
	}
	return out
}

// AllocCPUs accumulates per-bit CPU/core counts for a job, in the same
// rank order as resmap's set bits (spec.md §4.8's rank_of indexing).
// It is only meaningful for CPU and CORE granularity; other granularities
// return nil.
func (rm *ResourceModel) AllocCPUs(jobID string, resmap *Bitmap) []int {
	switch rm.granularity {
	case GrCPU:
		bits := resmap.SetBits()
		out := make([]int, len(bits))
		for rank, node := range bits {
			total := 0
			for s := 0; s < rm.topo.SocketsPerNode(node); s++ {
				total += rm.jobCores.JobCores(jobID, node, s)
			}
			out[rank] = total
		}
		return out
	case GrCore:
		bits := resmap.SetBits()
		out := make([]int, len(bits))
		for rank, bit := range bits {
			out[rank] = rm.jobCores.JobCores(jobID, rm.bitNode[bit], rm.bitSocket[bit])
		}
		return out
	default:
		return nil
	}
}
