// Package taskqueue implements the Task Queue: a priority, dependency,
// gate-dependency, and spec-conflict aware scheduler that owns task-status
// transitions and consults the Gate State Machine for unblocking.
package taskqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sort"
	"time"

	cerrors "github.com/relaygate/castellan/internal/errors"
	"github.com/relaygate/castellan/internal/truth"
)

// Priority is a task's scheduling priority. Lower rank runs first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

func rank(p Priority) int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityMedium]
}

// promote returns the next-higher priority, capped at critical.
func promote(p Priority) Priority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

const defaultMaxAttempts = 3

// NewTask describes a task to enqueue.
type NewTask struct {
	ID             string
	Type           string
	Priority       Priority
	WorkerCategory string
	Description    string
	DependsOn      []string
	GateDependency string
	SpecRefs       []string
	MaxAttempts    int
}

// scheduledTask is the in-memory ordering unit backing the heap; the
// authoritative task record lives in the Truth Store.
type scheduledTask struct {
	taskID    string
	priority  Priority
	createdAt time.Time
	index     int
}

type taskHeap []*scheduledTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if rank(h[i].priority) != rank(h[j].priority) {
		return rank(h[i].priority) < rank(h[j].priority)
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	item := x.(*scheduledTask)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is the Task Queue. It keeps an in-memory priority heap of
// queue-eligible task ids per project for fast dequeue ordering, while the
// Truth Store remains the durable record of task state.
type Queue struct {
	store *truth.Store
	gates gateOracle
	heaps map[string]*taskHeap // projectID -> heap of QUEUED task ids
}

// gateOracle is the subset of the Gate State Machine the queue needs to
// check gate_dependency blockers without importing gatefsm directly
// (avoids a taskqueue<->gatefsm import cycle; the Core wires the concrete
// *gatefsm.FSM in).
type gateOracle interface {
	IsApproved(ctx context.Context, projectID, gate string) (bool, error)
}

// New constructs a Task Queue backed by store, consulting gates to resolve
// gate_dependency blockers.
func New(store *truth.Store, gates gateOracle) *Queue {
	return &Queue{store: store, gates: gates, heaps: make(map[string]*taskHeap)}
}

func (q *Queue) heapFor(projectID string) *taskHeap {
	h, ok := q.heaps[projectID]
	if !ok {
		h = &taskHeap{}
		heap.Init(h)
		q.heaps[projectID] = h
	}
	return h
}

// Enqueue assigns blockers per the initial-blocker computation, rejects
// circular dependsOn via DFS, and records the task as QUEUED (if no
// blockers) or BLOCKED (otherwise).
func (q *Queue) Enqueue(ctx context.Context, projectID string, nt NewTask) error {
	if nt.ID == "" {
		return cerrors.InvalidInput("task id is required", "assign a unique task id before enqueueing")
	}
	existing, err := q.store.ListTasks(ctx, projectID, "")
	if err != nil {
		return err
	}
	depGraph := make(map[string][]string, len(existing)+1)
	for _, t := range existing {
		depGraph[t.ID] = t.DependsOn
	}
	depGraph[nt.ID] = nt.DependsOn
	if hasCycle(nt.ID, depGraph) {
		return cerrors.Conflict(fmt.Sprintf("task %s introduces a circular dependency", nt.ID))
	}

	blockers, err := q.computeBlockers(ctx, projectID, nt.GateDependency, nt.DependsOn, existing)
	if err != nil {
		return err
	}
	status := "QUEUED"
	if len(blockers) > 0 {
		status = "BLOCKED"
	}

	priority := nt.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	maxAttempts := nt.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}

	ev, err := truth.NewEvent(truth.EventTaskCreated, projectID, "system", truth.TaskEventPayload{
		TaskID: nt.ID, Type: nt.Type, Priority: string(priority), Status: status, Description: nt.Description,
		Blockers: blockers, WorkerCategory: nt.WorkerCategory, DependsOn: nt.DependsOn,
		GateDependency: nt.GateDependency, SpecRefs: nt.SpecRefs, MaxAttempts: maxAttempts,
	})
	if err != nil {
		return err
	}
	if _, err := q.store.AppendEvent(ctx, ev); err != nil {
		return err
	}

	if status == "QUEUED" {
		heap.Push(q.heapFor(projectID), &scheduledTask{taskID: nt.ID, priority: priority, createdAt: time.Now()})
	}
	return nil
}

// computeBlockers implements the spec's initial blocker computation: a
// gate:<G> token if gateDependency is set and not yet approved, and a
// single tasks:<id,...> token listing the not-yet-complete dependencies.
func (q *Queue) computeBlockers(ctx context.Context, projectID, gateDependency string, dependsOn []string, existing []truth.Task) ([]string, error) {
	var blockers []string

	if gateDependency != "" {
		approved, err := q.gates.IsApproved(ctx, projectID, gateDependency)
		if err != nil {
			return nil, err
		}
		if !approved {
			blockers = append(blockers, "gate:"+gateDependency)
		}
	}

	if len(dependsOn) > 0 {
		completed := make(map[string]bool, len(existing))
		for _, t := range existing {
			if t.Status == "COMPLETED" {
				completed[t.ID] = true
			}
		}
		var pending []string
		for _, dep := range dependsOn {
			if !completed[dep] {
				pending = append(pending, dep)
			}
		}
		if len(pending) > 0 {
			sort.Strings(pending)
			blockers = append(blockers, fmt.Sprintf("tasks:%s", joinIDs(pending)))
		}
	}

	return blockers, nil
}

func joinIDs(ids []string) string {
	out := ids[0]
	for _, id := range ids[1:] {
		out += "," + id
	}
	return out
}

// hasCycle runs a DFS from start over depGraph (task -> its dependencies)
// to detect whether start's dependency closure loops back to itself.
func hasCycle(start string, depGraph map[string][]string) bool {
	visited := make(map[string]bool)
	var visit func(node string) bool
	visit = func(node string) bool {
		if node == start && visited[node] {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, dep := range depGraph[node] {
			if dep == start {
				return true
			}
			if visit(dep) {
				return true
			}
		}
		return false
	}
	for _, dep := range depGraph[start] {
		if dep == start || visit(dep) {
			return true
		}
	}
	return false
}
