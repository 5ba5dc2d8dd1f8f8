package gang

// castShadows implements spec.md §4.9's shadow casting: after job is
// admitted in its own partition (priority ownerPriority), it is appended
// to the shadow list of every partition whose priority is strictly
// lower, deduplicated.
func (s *Scheduler) castShadows(job *Job, ownerPriority int) {
	for _, p := range s.partitions {
		if p.Priority >= ownerPriority {
			continue
		}
		if containsShadow(p, job) {
			continue
		}
		p.Shadows = append(p.Shadows, job)
	}
}

// clearShadows implements gang.c's _clear_shadow: it walks every
// partition (not just the job's own) removing any shadow entry pointing
// at job, compacting the vector. Carried from original_source per
// SPEC_FULL.md's SUPPLEMENTED FEATURES: a job suspended or removed must
// stop casting a shadow anywhere, not only in its home partition.
func (s *Scheduler) clearShadows(job *Job) {
	for _, p := range s.partitions {
		p.Shadows = removeShadow(p.Shadows, job)
	}
}

func containsShadow(p *Partition, job *Job) bool {
	for _, s := range p.Shadows {
		if s == job {
			return true
		}
	}
	return false
}

func removeShadow(shadows []*Job, job *Job) []*Job {
	out := shadows[:0]
	for _, s := range shadows {
		if s != job {
			out = append(out, s)
		}
	}
	return out
}
