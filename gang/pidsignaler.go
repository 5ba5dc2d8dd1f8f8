package gang

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// PIDSignaler is the concrete SignalSender a daemon wires into Scheduler:
// it realizes spec.md §2's "SIGSTOP-style signals" by sending SIGSTOP and
// SIGCONT to a job's process group. The scheduler itself never learns a
// PID; callers register one via SetPID when a job starts and remove it
// via RemovePID when it exits, independent of JobStart/JobFini.
type PIDSignaler struct {
	mu   sync.RWMutex
	pids map[string]int
}

// NewPIDSignaler returns an empty PIDSignaler.
func NewPIDSignaler() *PIDSignaler {
	return &PIDSignaler{pids: make(map[string]int)}
}

// SetPID records jobID's process group leader PID.
func (s *PIDSignaler) SetPID(jobID string, pid int) {
	s.mu.Lock()
	s.pids[jobID] = pid
	s.mu.Unlock()
}

// RemovePID forgets jobID's PID.
func (s *PIDSignaler) RemovePID(jobID string) {
	s.mu.Lock()
	delete(s.pids, jobID)
	s.mu.Unlock()
}

func (s *PIDSignaler) lookup(jobID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pid, ok := s.pids[jobID]
	if !ok {
		return 0, fmt.Errorf("gang: no pid registered for job %s", jobID)
	}
	return pid, nil
}

// Suspend sends SIGSTOP to jobID's process group.
func (s *PIDSignaler) Suspend(jobID string) error {
	pid, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if err := unix.Kill(-pid, unix.SIGSTOP); err != nil {
		return fmt.Errorf("gang: suspend %s (pgid %d): %w", jobID, pid, err)
	}
	return nil
}

// Resume sends SIGCONT to jobID's process group.
func (s *PIDSignaler) Resume(jobID string) error {
	pid, err := s.lookup(jobID)
	if err != nil {
		return err
	}
	if err := unix.Kill(-pid, unix.SIGCONT); err != nil {
		return fmt.Errorf("gang: resume %s (pgid %d): %w", jobID, pid, err)
	}
	return nil
}
