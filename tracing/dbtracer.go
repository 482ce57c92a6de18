package tracing

import (
	"sort"
	"sync"

	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/tebeka/atexit"
)

// Tables written by the DBTracer.
const (
	TaskTable     = "trace_task"
	TaskStepTable = "trace_step"
)

// TaskEntry is a row of the task table. Tasks that had not ended when the
// tracer was terminated are stored with Finished unset and the termination
// time as EndTime.
type TaskEntry struct {
	ID        string
	ParentID  string
	Kind      string
	What      string
	Location  string
	StartTime float64
	EndTime   float64
	Steps     int
	Finished  bool
}

// StepEntry is a row of the step table.
type StepEntry struct {
	TaskID string
	Time   float64
	What   string
}

// DBTracer is a tracer that stores tasks and their steps into a database.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller sim.TimeTeller
	backend    datarecording.DataRecorder

	startTime, endTime sim.VTimeInSec

	tracingTasks map[string]*Task
	terminated   bool
}

// NewDBTracer creates a new DBTracer and the tables it writes.
func NewDBTracer(
	timeTeller sim.TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(TaskTable, TaskEntry{})
	dataRecorder.CreateTable(TaskStepTable, StepEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]*Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// SetTimeRange restricts the tracer to the tasks that overlap with the given
// time range. A zero end time leaves the range open.
func (t *DBTracer) SetTimeRange(startTime, endTime sim.VTimeInSec) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startTime = startTime
	t.endTime = endTime
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	task.StartTime = t.timeTeller.CurrentTime()
	if t.terminated || (t.endTime > 0 && task.StartTime > t.endTime) {
		return
	}

	t.tracingTasks[task.ID] = &task
}

// StepTask records a step of a task.
func (t *DBTracer) StepTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	for _, step := range task.Steps {
		step.Time = t.timeTeller.CurrentTime()
		original.Steps = append(original.Steps, step)
	}
}

// EndTask marks the end of a task and writes it.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.tracingTasks[task.ID]
	if !ok {
		return
	}

	delete(t.tracingTasks, task.ID)

	original.EndTime = t.timeTeller.CurrentTime()
	if original.EndTime < t.startTime {
		return
	}

	t.write(original, true)
}

func (t *DBTracer) write(task *Task, finished bool) {
	t.backend.InsertData(TaskTable, TaskEntry{
		ID:        task.ID,
		ParentID:  task.ParentID,
		Kind:      task.Kind,
		What:      task.What,
		Location:  task.Where,
		StartTime: float64(task.StartTime),
		EndTime:   float64(task.EndTime),
		Steps:     len(task.Steps),
		Finished:  finished,
	})

	for _, step := range task.Steps {
		t.backend.InsertData(TaskStepTable, StepEntry{
			TaskID: task.ID,
			Time:   float64(step.Time),
			What:   step.What,
		})
	}
}

// Terminate writes the unfinished tasks and flushes the backend. Later tasks
// are ignored.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	t.terminated = true

	ids := make([]string, 0, len(t.tracingTasks))
	for id := range t.tracingTasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := t.timeTeller.CurrentTime()
	for _, id := range ids {
		task := t.tracingTasks[id]
		task.EndTime = now
		t.write(task, false)
	}

	t.tracingTasks = nil
	_ = t.backend.Flush()
}
