package gang

import (
	"sync"
	"time"
)

// timeslicer is the C10 background task: every interval it rotates each
// partition's job list by at most one slice and rebuilds active rows,
// issuing the resulting SUSPEND/RESUME signals (spec.md §4.10).
type timeslicer struct {
	s        *Scheduler
	interval time.Duration

	// threadMu is spec.md §5's thread_lock: guards concurrent
	// start/stop of the background goroutine, distinct from the
	// scheduler's data_lock.
	threadMu sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newTimeslicer(s *Scheduler, interval time.Duration) *timeslicer {
	return &timeslicer{s: s, interval: interval}
}

func (t *timeslicer) start() {
	t.threadMu.Lock()
	defer t.threadMu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})
	go t.run(t.stopCh, t.doneCh)
}

// stop signals shutdown and waits for the current pass to finish. The
// cooperative flag is the only cancellation primitive; if the goroutine
// fails to observe it within a generous bound, stop gives up waiting
// rather than blocking fini() forever (spec.md §5's "bounded hard
// cancellation as a last resort" — Go offers no means to forcibly
// terminate a goroutine, so the bound here is an observability backstop,
// not an actual kill).
func (t *timeslicer) stop() {
	t.threadMu.Lock()
	defer t.threadMu.Unlock()
	if !t.running {
		return
	}
	close(t.stopCh)
	select {
	case <-t.doneCh:
	case <-time.After(5 * t.interval):
		log.Warn().Msg("timeslicer did not observe shutdown within bound")
	}
	t.running = false
}

func (t *timeslicer) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	s := t.s
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		s.mu.Lock()
		sortPartitionsByPriorityDesc(s.sorted)
		for _, p := range s.sorted {
			if p.JobsActive < len(p.Jobs)+len(p.Shadows) {
				if err := s.cycleJobList(p); err != nil {
					log.Warn().Err(err).Str("partition", p.Name).Msg("cycle_job_list failed")
				}
			}
		}
		s.mu.Unlock()

		select {
		case <-stopCh:
			return
		case <-time.After(t.interval):
		}
	}
}

// cycleJobList implements spec.md §4.10's cycle_job_list: at most one
// timeslice rotation per partition per tick. Callers hold s.mu.
func (s *Scheduler) cycleJobList(part *Partition) error {
	rotated := make([]*Job, 0, len(part.Jobs))
	var toTail []*Job
	for _, j := range part.Jobs {
		switch j.RowState {
		case Active:
			j.RowState = NoActive
			toTail = append(toTail, j)
		case Filler:
			j.RowState = NoActive
			rotated = append(rotated, j)
		default:
			rotated = append(rotated, j)
		}
	}
	part.Jobs = append(rotated, toTail...)

	BuildActiveRow(s.rm, part)

	for _, j := range part.Jobs {
		if j.RowState == NoActive && j.SigState == Resume {
			s.clearShadows(j)
			if err := s.signaler.Suspend(j.ID); err != nil {
				return err
			}
			j.SigState = Suspend
		}
	}
	for _, j := range part.Jobs {
		if j.RowState == Active && j.SigState == Suspend {
			if err := s.signaler.Resume(j.ID); err != nil {
				return err
			}
			j.SigState = Resume
			s.castShadows(j, part.Priority)
		}
	}
	return nil
}
