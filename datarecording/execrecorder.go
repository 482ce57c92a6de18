package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfoTable is the table that describes the run that produced a database.
const ExecInfoTable = "exec_info"

// ExecInfo is one property of a run.
type ExecInfo struct {
	Property string
	Value    string
}

const timeLayout = "2006-01-02 15:04:05.000000000"

// An ExecRecorder records how and when a simulation was run.
type ExecRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
	now      func() time.Time
}

// NewExecRecorder creates the exec_info table in the recorder.
func NewExecRecorder(recorder DataRecorder) *ExecRecorder {
	recorder.CreateTable(ExecInfoTable, ExecInfo{})

	return &ExecRecorder{
		recorder: recorder,
		now:      time.Now,
	}
}

// Start records the start time, the command line and the working directory.
func (e *ExecRecorder) Start() {
	e.Add("Start Time", e.now().Format(timeLayout))
	e.Add("Command", strings.Join(os.Args, " "))

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "unknown"
	}

	e.Add("Working Directory", cwd)
}

// Add records a property of the run, such as the seed.
func (e *ExecRecorder) Add(property, value string) {
	e.entries = append(e.entries, ExecInfo{Property: property, Value: value})
}

// End writes the properties along with the end time.
func (e *ExecRecorder) End() error {
	e.Add("End Time", e.now().Format(timeLayout))

	for _, entry := range e.entries {
		e.recorder.InsertData(ExecInfoTable, entry)
	}

	e.entries = nil

	return e.recorder.Flush()
}
