package scheduler

import (
	"sort"
	"time"

	"github.com/aristath/taskforce/internal/model"
)

// QueueEntry is a pending assignment waiting for a busy worker.
type QueueEntry struct {
	TaskID     string
	ProjectID  string
	Priority   model.Priority
	EnqueuedAt time.Time
	seq        uint64 // Tie-break so equal timestamps stay FIFO
}

// workerQueue holds one worker's pending entries ordered by priority rank
// (high first), then enqueue order.
type workerQueue struct {
	entries []QueueEntry
}

func (q *workerQueue) less(i, j int) bool {
	a, b := q.entries[i], q.entries[j]
	if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
		return ra > rb
	}
	if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	}
	return a.seq < b.seq
}

// push adds an entry and returns its 1-based position.
func (q *workerQueue) push(e QueueEntry) int {
	q.entries = append(q.entries, e)
	sort.SliceStable(q.entries, q.less)
	return q.position(e.TaskID)
}

// pop removes and returns the head.
func (q *workerQueue) pop() (QueueEntry, bool) {
	if len(q.entries) == 0 {
		return QueueEntry{}, false
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, true
}

// position returns the 1-based position of a task, or 0 when absent.
func (q *workerQueue) position(taskID string) int {
	for i, e := range q.entries {
		if e.TaskID == taskID {
			return i + 1
		}
	}
	return 0
}

// remove drops a task from the queue. Reports whether it was present.
func (q *workerQueue) remove(taskID string) bool {
	for i, e := range q.entries {
		if e.TaskID == taskID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (q *workerQueue) len() int { return len(q.entries) }

func (q *workerQueue) snapshot() []QueueEntry {
	return append([]QueueEntry(nil), q.entries...)
}
