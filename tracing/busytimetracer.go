package tracing

import (
	"sync"

	"github.com/sarchlab/qnetsim/sim"
)

// BusyTimeTracer measures how long a component has at least one filtered task
// in flight. Overlapping tasks are counted once, so the busy time of a link
// protocol is the time it spends serving requests.
type BusyTimeTracer struct {
	timeTeller sim.TimeTeller
	filter     TaskFilter

	lock      sync.Mutex
	inflight  map[string]bool
	busySince sim.VTimeInSec
	busyTime  sim.VTimeInSec
}

// NewBusyTimeTracer creates a new BusyTimeTracer.
func NewBusyTimeTracer(
	timeTeller sim.TimeTeller,
	filter TaskFilter,
) *BusyTimeTracer {
	return &BusyTimeTracer{
		timeTeller: timeTeller,
		filter:     filter,
		inflight:   make(map[string]bool),
	}
}

// BusyTime returns the busy time so far, including the current busy period.
func (t *BusyTimeTracer) BusyTime() sim.VTimeInSec {
	t.lock.Lock()
	defer t.lock.Unlock()

	if len(t.inflight) == 0 {
		return t.busyTime
	}

	return t.busyTime + t.timeTeller.CurrentTime() - t.busySince
}

// StartTask opens a busy period if the component was idle.
func (t *BusyTimeTracer) StartTask(task Task) {
	if !t.filter(task) {
		return
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	if len(t.inflight) == 0 {
		t.busySince = t.timeTeller.CurrentTime()
	}

	t.inflight[task.ID] = true
}

// StepTask does nothing
func (t *BusyTimeTracer) StepTask(_ Task) {
	// Do nothing
}

// EndTask closes the busy period when the last task ends.
func (t *BusyTimeTracer) EndTask(task Task) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if !t.inflight[task.ID] {
		return
	}

	delete(t.inflight, task.ID)

	if len(t.inflight) == 0 {
		t.busyTime += t.timeTeller.CurrentTime() - t.busySince
	}
}
