package orchestrator

import (
	"container/heap"
	"time"

	"github.com/cuongbtq/case-pipeline/internal/orchestrator/domain"
	"github.com/cuongbtq/case-pipeline/internal/pipeline"
)

// pipelineState is an immutable definition together with its gate evaluator.
type pipelineState struct {
	def   *domain.Definition
	gates *pipeline.GateEvaluator
}

// task is a job plus the pipeline it was created against.
type task struct {
	job        *domain.Job
	pipeline   *pipelineState
	seq        uint64
	enqueuedAt time.Time
	index      int
}

// jobQueue orders pending tasks by priority, then by enqueue sequence.
type jobQueue struct {
	items []*task
	byID  map[string]*task
}

func newJobQueue() *jobQueue {
	return &jobQueue{byID: make(map[string]*task)}
}

func (q *jobQueue) Len() int { return len(q.items) }

func (q *jobQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.job.Priority != b.job.Priority {
		return a.job.Priority < b.job.Priority
	}
	return a.seq < b.seq
}

func (q *jobQueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *jobQueue) Push(x any) {
	t := x.(*task)
	t.index = len(q.items)
	q.items = append(q.items, t)
}

func (q *jobQueue) Pop() any {
	old := q.items
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	q.items = old[:n-1]
	return t
}

func (q *jobQueue) push(t *task) {
	heap.Push(q, t)
	q.byID[t.job.JobID] = t
}

func (q *jobQueue) pop() (*task, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	t := heap.Pop(q).(*task)
	delete(q.byID, t.job.JobID)
	return t, true
}

func (q *jobQueue) remove(jobID string) (*task, bool) {
	t, ok := q.byID[jobID]
	if !ok {
		return nil, false
	}
	heap.Remove(q, t.index)
	delete(q.byID, jobID)
	return t, true
}

// position returns the 1-based admission position of a pending job.
func (q *jobQueue) position(jobID string) int {
	t, ok := q.byID[jobID]
	if !ok {
		return 0
	}
	pos := 1
	for _, other := range q.items {
		if other == t {
			continue
		}
		if other.job.Priority < t.job.Priority || (other.job.Priority == t.job.Priority && other.seq < t.seq) {
			pos++
		}
	}
	return pos
}

// recentJobs keeps snapshots of terminal jobs, evicting the oldest first.
type recentJobs struct {
	limit int
	order []string
	byID  map[string]domain.JobRecord
}

func newRecentJobs(limit int) *recentJobs {
	return &recentJobs{limit: limit, byID: make(map[string]domain.JobRecord)}
}

func (r *recentJobs) add(rec domain.JobRecord) {
	if _, ok := r.byID[rec.JobID]; !ok {
		r.order = append(r.order, rec.JobID)
	}
	r.byID[rec.JobID] = rec
	for len(r.order) > r.limit {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *recentJobs) get(jobID string) (domain.JobRecord, bool) {
	rec, ok := r.byID[jobID]
	return rec, ok
}
