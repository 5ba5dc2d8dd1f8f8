// FileTopology stands in for the external job list, partition list and
// resource topology collaborators spec.md's Non-goals place outside
// this repository (placement, fair-share, backfill and the real SLURM
// select plugin all live elsewhere). It satisfies JobSource,
// PartitionSource, ResourceTopology and JobCoreQuery by reading a JSON
// snapshot file, the same shape a real scan_slurm_job_list adapter
// would present.

package gang

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

type fileSnapshot struct {
	Partitions []PartitionSpec `json:"partitions"`
	Nodes      []jsonNode      `json:"nodes"`
	Jobs       []jsonJob       `json:"jobs"`
}

type jsonNode struct {
	Index          int `json:"index"`
	Sockets        int `json:"sockets"`
	CoresPerSocket int `json:"cores_per_socket"`
	CPUs           int `json:"cpus"`
}

type jsonJob struct {
	ID            string      `json:"id"`
	PartitionName string      `json:"partition"`
	State         string      `json:"state"`
	Nodes         []int       `json:"nodes"`
	CoresPerNode  map[int]int `json:"cores_per_node,omitempty"`
}

// FileTopology reloads its entire snapshot on every Reload call; callers
// wire Reload to a SIGHUP handler for the same "recover by rescanning"
// behavior spec.md §6 requires of a real job-list adapter.
type FileTopology struct {
	mu   sync.RWMutex
	path string
	snap fileSnapshot
}

// NewFileTopology loads path once and returns the adapter, or an error
// if the initial load fails.
func NewFileTopology(path string) (*FileTopology, error) {
	ft := &FileTopology{path: path}
	if err := ft.Reload(); err != nil {
		return nil, err
	}
	return ft, nil
}

// Reload re-reads and re-parses the snapshot file wholesale.
func (ft *FileTopology) Reload() error {
	data, err := os.ReadFile(ft.path)
	if err != nil {
		return fmt.Errorf("gang: read topology file %s: %w", ft.path, err)
	}
	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("gang: parse topology file %s: %w", ft.path, err)
	}
	ft.mu.Lock()
	ft.snap = snap
	ft.mu.Unlock()
	return nil
}

// ListPartitions implements PartitionSource.
func (ft *FileTopology) ListPartitions() ([]PartitionSpec, error) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	out := make([]PartitionSpec, len(ft.snap.Partitions))
	copy(out, ft.snap.Partitions)
	return out, nil
}

func parseJobState(s string) ExternalJobState {
	switch s {
	case "RUNNING":
		return JobRunning
	case "SUSPENDED":
		return JobSuspended
	case "COMPLETING":
		return JobCompleting
	case "COMPLETED":
		return JobCompleted
	default:
		return JobPending
	}
}

// ListJobs implements JobSource.
func (ft *FileTopology) ListJobs() ([]ExternalJob, error) {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	out := make([]ExternalJob, 0, len(ft.snap.Jobs))
	for _, j := range ft.snap.Jobs {
		nb := NewBitmap(len(ft.snap.Nodes))
		for _, n := range j.Nodes {
			if n >= 0 && n < nb.Size() {
				nb.Set(n)
			}
		}
		out = append(out, ExternalJob{
			ID:            j.ID,
			PartitionName: j.PartitionName,
			State:         parseJobState(j.State),
			NodeBitmap:    nb,
		})
	}
	return out, nil
}

func (ft *FileTopology) findNode(idx int) (jsonNode, bool) {
	for _, n := range ft.snap.Nodes {
		if n.Index == idx {
			return n, true
		}
	}
	return jsonNode{}, false
}

// NodeCount implements ResourceTopology.
func (ft *FileTopology) NodeCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.snap.Nodes)
}

// SocketsPerNode implements ResourceTopology.
func (ft *FileTopology) SocketsPerNode(node int) int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if n, ok := ft.findNode(node); ok {
		return n.Sockets
	}
	return 0
}

// CoresPerSocket implements ResourceTopology.
func (ft *FileTopology) CoresPerSocket(node, socket int) int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if n, ok := ft.findNode(node); ok {
		return n.CoresPerSocket
	}
	return 0
}

// CPUsOnNode implements ResourceTopology.
func (ft *FileTopology) CPUsOnNode(node int) int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	if n, ok := ft.findNode(node); ok {
		return n.CPUs
	}
	return 0
}

// JobCores implements JobCoreQuery. The snapshot format tracks core
// counts per node only, not per node+socket; callers on single-socket
// nodes get exact answers, multi-socket nodes get the node total
// attributed to socket 0 and zero elsewhere.
func (ft *FileTopology) JobCores(jobID string, node, socket int) int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	for _, j := range ft.snap.Jobs {
		if j.ID != jobID {
			continue
		}
		if j.CoresPerNode == nil {
			return 0
		}
		if socket != 0 {
			return 0
		}
		return j.CoresPerNode[node]
	}
	return 0
}
