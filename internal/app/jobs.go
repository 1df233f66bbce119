package service

import (
	"sync"
	"time"

	"github.com/okian/resultportal/internal/domain/model"
)

// jobTracker keeps the most recent import jobs in memory. When more than
// max jobs are tracked the oldest finished ones are dropped.
type jobTracker struct {
	mu    sync.RWMutex
	jobs  map[string]*model.ImportJob
	order []string
	max   int
}

func newJobTracker(maxJobs int) *jobTracker {
	return &jobTracker{jobs: make(map[string]*model.ImportJob), max: maxJobs}
}

func (t *jobTracker) add(job model.ImportJob) { //nolint:gocritic // hugeParam
	t.mu.Lock()
	defer t.mu.Unlock()
	j := job
	t.jobs[job.ID] = &j
	t.order = append(t.order, job.ID)
	t.evictLocked()
}

func (t *jobTracker) evictLocked() {
	if t.max <= 0 || len(t.order) <= t.max {
		return
	}
	kept := t.order[:0]
	excess := len(t.order) - t.max
	for _, id := range t.order {
		if excess > 0 && t.jobs[id].State.Terminal() {
			delete(t.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}

func (t *jobTracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.jobs, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *jobTracker) update(id string, fn func(*model.ImportJob)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.jobs[id]; ok {
		fn(j)
	}
}

func (t *jobTracker) get(id string) (model.ImportJob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return model.ImportJob{}, false
	}
	out := *j
	out.Errors = append([]model.RowError(nil), j.Errors...)
	return out, true
}

func (t *jobTracker) countByState() map[model.ImportState]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[model.ImportState]int, 4)
	for _, j := range t.jobs {
		out[j.State]++
	}
	return out
}

func finish(j *model.ImportJob, state model.ImportState, at time.Time) {
	j.State = state
	j.FinishedAt = &at
}
