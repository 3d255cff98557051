package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	// DefaultSweepInterval is how often terminal tasks are garbage-collected.
	DefaultSweepInterval = 30 * time.Minute
	// DefaultRetention is how long a terminal task stays queryable.
	DefaultRetention = time.Hour
	// MaxRetryCount bounds the caller-driven retry bookkeeping per task.
	MaxRetryCount = 3
)

// Task is one user-initiated transfer, tracked end-to-end.
type Task struct {
	ID           string
	State        State
	TargetFolder string
	RetryCount   int
	ErrorMessage string
	StartTime    time.Time
	// Origin is caller-supplied context (source reference, originating surface).
	// The transfer engine never inspects or mutates it.
	Origin any

	finishedAt time.Time
}

// CreateTaskParams is the tagged variant for task creation: the caller decides
// up front what it is passing instead of the registry inspecting it at runtime.
type CreateTaskParams struct {
	Origin any
	Folder *string
}

// Tracker is an in-memory registry of upload tasks keyed by task ID.
// All operations are synchronous and safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	clock  clockwork.Clock
	logger log.Logger

	SweepInterval time.Duration
	Retention     time.Duration
}

// NewTracker ...
func NewTracker(logger log.Logger, clock clockwork.Clock) *Tracker {
	if logger == nil {
		logger = log.NewLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		tasks:         map[string]*Task{},
		clock:         clock,
		logger:        logger,
		SweepInterval: DefaultSweepInterval,
		Retention:     DefaultRetention,
	}
}

// CreateTask registers a new task in StatePending and returns its ID.
func (t *Tracker) CreateTask(params CreateTaskParams) string {
	now := t.clock.Now()
	id := fmt.Sprintf("task-%d-%s", now.UnixMilli(), uuid.NewString()[:8])

	newTask := &Task{
		ID:        id,
		State:     StatePending,
		StartTime: now,
		Origin:    params.Origin,
	}
	if params.Folder != nil {
		newTask.TargetFolder = *params.Folder
	}

	t.mu.Lock()
	t.tasks[id] = newTask
	t.mu.Unlock()

	t.logger.Debugf("Task %s created", id)
	return id
}

// UpdateState moves the task forward in its lifecycle. Unknown IDs are a
// no-op because callers may race with the sweep. Backward transitions and
// transitions out of a terminal state are ignored. An optional message is
// stored as the task's status/error text.
func (t *Tracker) UpdateState(id string, state State, message ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return
	}
	if !canTransition(tsk.State, state) {
		t.logger.Debugf("Task %s: ignoring transition %s -> %s", id, tsk.State, state)
		return
	}

	tsk.State = state
	if len(message) > 0 {
		tsk.ErrorMessage = message[0]
	}
	if state.IsTerminal() {
		tsk.finishedAt = t.clock.Now()
	}
}

// Fail is the repair path for tasks whose observing surface disappeared: it
// forces StateError regardless of the current state, terminal included.
func (t *Tracker) Fail(id string, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return
	}
	tsk.State = StateError
	tsk.ErrorMessage = message
	tsk.finishedAt = t.clock.Now()
}

// GetState returns the task's state, or false if the ID is unknown.
func (t *Tracker) GetState(id string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return "", false
	}
	return tsk.State, true
}

// Snapshot returns a copy of the task record.
func (t *Tracker) Snapshot(id string) (Task, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *tsk, true
}

// SetFolder sets the destination sub-path of the task. Unknown IDs are a no-op.
func (t *Tracker) SetFolder(id string, folder string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tsk, ok := t.tasks[id]; ok {
		tsk.TargetFolder = folder
	}
}

// ShouldRetry reports whether the task still has caller-driven retry budget.
func (t *Tracker) ShouldRetry(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return false
	}
	return tsk.RetryCount < MaxRetryCount
}

// IncrementRetryCount bumps the task's retry counter and returns the new value.
// The counter never exceeds MaxRetryCount.
func (t *Tracker) IncrementRetryCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	tsk, ok := t.tasks[id]
	if !ok {
		return 0
	}
	if tsk.RetryCount < MaxRetryCount {
		tsk.RetryCount++
	}
	return tsk.RetryCount
}

// Len returns the number of tracked tasks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tasks)
}

// Run sweeps terminal tasks older than the retention window until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.sweep()
		}
	}
}

func (t *Tracker) sweep() {
	cutoff := t.clock.Now().Add(-t.Retention)

	t.mu.Lock()
	defer t.mu.Unlock()

	for id, tsk := range t.tasks {
		if tsk.State.IsTerminal() && tsk.finishedAt.Before(cutoff) {
			delete(t.tasks, id)
			t.logger.Debugf("Task %s swept (%s since %s)", id, tsk.State, tsk.finishedAt.Format(time.RFC3339))
		}
	}
}
