package gang

import (
	"testing"
	"time"
)

type fakeJobSource struct{ jobs []ExternalJob }

func (f *fakeJobSource) ListJobs() ([]ExternalJob, error) { return f.jobs, nil }

type fakePartitionSource struct{ specs []PartitionSpec }

func (f *fakePartitionSource) ListPartitions() ([]PartitionSpec, error) { return f.specs, nil }

func nodeMap(nodes ...int) *Bitmap {
	b := NewBitmap(2)
	for _, n := range nodes {
		b.Set(n)
	}
	return b
}

func newTestScheduler(t *testing.T, specs []PartitionSpec, jobs []ExternalJob) (*Scheduler, *fakeSignaler) {
	t.Helper()
	sig := newFakeSignaler()
	s := NewScheduler(Options{Granularity: GrNode, TimeSlice: time.Hour}, &fakeJobSource{jobs: jobs}, &fakePartitionSource{specs: specs}, fakeTopology{}, newFakeJobCores(), sig)
	if err := s.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = s.Fini() })
	return s, sig
}

// TestShadowPriority is GANG.shadow-priority: every shadow entry in a
// partition's Shadows list belongs to a strictly higher-priority
// partition.
func TestShadowPriority(t *testing.T) {
	specs := []PartitionSpec{
		{Name: "high", Priority: 10},
		{Name: "low", Priority: 1},
	}
	s, sig := newTestScheduler(t, specs, nil)

	if err := s.JobStart(ExternalJob{ID: "hj", PartitionName: "high", State: JobRunning, NodeBitmap: nodeMap(0)}); err != nil {
		t.Fatalf("JobStart: %v", err)
	}

	low := s.findPartition("low")
	for _, sh := range low.Shadows {
		owner, _ := s.findJob(sh.ID)
		if owner == nil {
			continue
		}
		if owner.Priority <= low.Priority {
			t.Errorf("shadow %s owner priority %d not strictly greater than %d", sh.ID, owner.Priority, low.Priority)
		}
	}
	if len(low.Shadows) != 1 {
		t.Errorf("expected high-priority job to cast a shadow into low, got %d shadows", len(low.Shadows))
	}
	if sig.resumed["hj"] != 0 {
		t.Errorf("expected hj, already RESUME on admission, not to be re-signalled, got %d resumes", sig.resumed["hj"])
	}
}

// TestJobFiniClearsShadowsEverywhere exercises JobFini and the
// cross-partition _clear_shadow walk.
func TestJobFiniClearsShadowsEverywhere(t *testing.T) {
	specs := []PartitionSpec{
		{Name: "high", Priority: 10},
		{Name: "low", Priority: 1},
	}
	s, _ := newTestScheduler(t, specs, nil)

	if err := s.JobStart(ExternalJob{ID: "hj", PartitionName: "high", State: JobRunning, NodeBitmap: nodeMap(0)}); err != nil {
		t.Fatalf("JobStart: %v", err)
	}
	low := s.findPartition("low")
	if len(low.Shadows) != 1 {
		t.Fatalf("expected a shadow before JobFini, got %d", len(low.Shadows))
	}

	if err := s.JobFini("hj"); err != nil {
		t.Fatalf("JobFini: %v", err)
	}
	if len(low.Shadows) != 0 {
		t.Errorf("expected shadow cleared after JobFini, got %d", len(low.Shadows))
	}
}

// TestJobScanAdoptsAndRetiresJobs exercises job_scan's reconciliation
// against the authoritative external job list.
func TestJobScanAdoptsAndRetiresJobs(t *testing.T) {
	specs := []PartitionSpec{{Name: "p1", Priority: 1}}
	jobs := []ExternalJob{
		{ID: "j1", PartitionName: "p1", State: JobRunning, NodeBitmap: nodeMap(0)},
	}
	s, _ := newTestScheduler(t, specs, jobs)

	p1 := s.findPartition("p1")
	if p1.findJob("j1") == nil {
		t.Fatal("expected j1 adopted on Init's JobScan")
	}

	s.mu.Lock()
	s.jobSource = &fakeJobSource{jobs: nil}
	s.mu.Unlock()
	if err := s.JobScan(); err != nil {
		t.Fatalf("JobScan: %v", err)
	}
	if p1.findJob("j1") != nil {
		t.Error("expected j1 retired after disappearing from the external job list")
	}
}

// TestShadowPreemption is SPEC_FULL.md's shadow-preemption-across-
// partitions scenario: a higher-priority job casts a shadow into a
// lower-priority partition and suspends whatever conflicts with it
// there; once the higher-priority job finishes, the shadow clears and
// the lower-priority job recovers to RESUME via updateAllActiveRows.
func TestShadowPreemption(t *testing.T) {
	specs := []PartitionSpec{
		{Name: "p-hi", Priority: 100},
		{Name: "p-lo", Priority: 10},
	}
	s, sig := newTestScheduler(t, specs, nil)

	if err := s.JobStart(ExternalJob{ID: "j-hi", PartitionName: "p-hi", State: JobRunning, NodeBitmap: nodeMap(0)}); err != nil {
		t.Fatalf("JobStart(j-hi): %v", err)
	}
	if err := s.JobStart(ExternalJob{ID: "j-lo", PartitionName: "p-lo", State: JobRunning, NodeBitmap: nodeMap(0)}); err != nil {
		t.Fatalf("JobStart(j-lo): %v", err)
	}

	pHi := s.findPartition("p-hi")
	pLo := s.findPartition("p-lo")
	_, jHi := s.findJob("j-hi")
	_, jLo := s.findJob("j-lo")

	if jLo.SigState != Suspend {
		t.Errorf("expected j-lo SUSPEND while shadowed by j-hi, got %v", jLo.SigState)
	}
	if jHi.SigState != Resume {
		t.Errorf("expected j-hi RESUME, got %v", jHi.SigState)
	}
	if len(pLo.Shadows) != 1 || pLo.Shadows[0].ID != "j-hi" {
		t.Fatalf("expected p-lo.Shadows to contain j-hi, got %v", pLo.Shadows)
	}
	_ = pHi

	if err := s.JobFini("j-hi"); err != nil {
		t.Fatalf("JobFini(j-hi): %v", err)
	}
	if len(pLo.Shadows) != 0 {
		t.Errorf("expected p-lo.Shadows cleared after JobFini(j-hi), got %v", pLo.Shadows)
	}
	if jLo.SigState != Resume {
		t.Errorf("expected j-lo to recover to RESUME once j-hi's shadow clears, got %v", jLo.SigState)
	}
	if jLo.RowState != Filler {
		t.Errorf("expected j-lo admitted as FILLER after recovery, got %v", jLo.RowState)
	}
	if sig.resumed["j-lo"] == 0 {
		t.Errorf("expected j-lo to receive a Resume signal on recovery")
	}
}

// TestFairnessUnderTimeslicing is GANG.fairness: with two conflicting
// jobs under continuous timeslicing, each one enters ACTIVE at least
// once across a bounded number of cycle_job_list passes.
func TestFairnessUnderTimeslicing(t *testing.T) {
	rm := BuildResourceModel(GrNode, fakeTopology{}, newFakeJobCores())
	part := &Partition{Name: "p1", Priority: 1}
	sig := newFakeSignaler()
	s := &Scheduler{opts: Options{Granularity: GrNode}, rm: rm, partitions: []*Partition{part}, sorted: []*Partition{part}, signaler: sig}

	nb := NewBitmap(2)
	nb.Set(0)
	jobA := coreJob("jA", rm.JobToResmap("jA", nb), nil)
	jobB := coreJob("jB", rm.JobToResmap("jB", nb), nil)
	if _, err := AddJobToPart(rm, part, jobA, sig); err != nil {
		t.Fatalf("add jobA: %v", err)
	}
	if _, err := AddJobToPart(rm, part, jobB, sig); err != nil {
		t.Fatalf("add jobB: %v", err)
	}

	everActive := map[string]bool{}
	for i := 0; i < 6; i++ {
		for _, j := range part.Jobs {
			if j.RowState == Active {
				everActive[j.ID] = true
			}
		}
		if err := s.cycleJobList(part); err != nil {
			t.Fatalf("cycleJobList: %v", err)
		}
	}
	for _, j := range part.Jobs {
		if j.RowState == Active {
			everActive[j.ID] = true
		}
	}

	if !everActive["jA"] || !everActive["jB"] {
		t.Errorf("expected both jobs to become ACTIVE at least once, got %v", everActive)
	}
}
