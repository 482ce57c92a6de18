// Package simulation wires a repeater chain together with the services that
// observe it: metrics, the protocol log, the result database and the monitor.
package simulation

import (
	"errors"
	"fmt"
	"os"

	"github.com/sarchlab/qnetsim/chain"
	"github.com/sarchlab/qnetsim/config"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/fsm"
	"github.com/sarchlab/qnetsim/monitoring"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/simlog"
	"github.com/sarchlab/qnetsim/stats"
	"github.com/sarchlab/qnetsim/tracing"
)

// A Simulation owns a chain and everything attached to it.
type Simulation struct {
	id     string
	cfg    config.Config
	engine *sim.SerialEngine
	rt     *coop.Runtime
	chain  *chain.Chain

	collector    *stats.Collector
	logger       *simlog.ProtocolLogger
	logFile      *os.File
	recorder     datarecording.DataRecorder
	execRecorder *datarecording.ExecRecorder
	tables       *stats.TableWriter
	tracer       *tracing.DBTracer
	monitor      *monitoring.Monitor

	components    []sim.Named
	compNameIndex map[string]int

	terminated bool
}

// A Summary describes the outcome of Run.
type Summary struct {
	Sessions  int
	Aborted   int
	Delivered int
	Discarded uint64
	Swaps     uint64
	Expired   uint64
	Orphaned  uint64
	SimTime   sim.VTimeInSec

	// LinkPairs and LinkTimeouts count what the link requests of every hop
	// ended with.
	LinkPairs    uint64
	LinkTimeouts uint64

	// LinkUtilization is the fraction of the simulated time that the link
	// protocols spent serving requests, averaged over the protocols.
	LinkUtilization float64

	// MeanSessionTime and MaxSessionTime measure the sessions at the headend,
	// from the moment they are opened to the last delivery.
	MeanSessionTime sim.VTimeInSec
	MaxSessionTime  sim.VTimeInSec
}

// ID returns the unique id of the simulation.
func (s *Simulation) ID() string {
	return s.id
}

// Config returns the parameters of the simulation.
func (s *Simulation) Config() config.Config {
	return s.cfg
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() *sim.SerialEngine {
	return s.engine
}

// GetChain returns the simulated chain.
func (s *Simulation) GetChain() *chain.Chain {
	return s.chain
}

// GetCollector returns the metrics of the simulation.
func (s *Simulation) GetCollector() *stats.Collector {
	return s.collector
}

// GetDataRecorder returns the data recorder, or nil when no database is
// configured.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.recorder
}

// GetMonitor returns the monitor, or nil when monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// RegisterComponent registers a component with the simulation.
func (s *Simulation) RegisterComponent(c sim.Named) {
	name := c.Name()
	if _, found := s.compNameIndex[name]; found {
		panic("component " + name + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[name] = len(s.components) - 1
}

// GetComponentByName returns the component with the given name, or nil.
func (s *Simulation) GetComponentByName(name string) sim.Named {
	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// Components returns all the registered components.
func (s *Simulation) Components() []sim.Named {
	return s.components
}

func (s *Simulation) machines() []*fsm.Machine {
	out := []*fsm.Machine{s.chain.Head.Machine(), s.chain.Tail.Machine()}
	for _, r := range s.chain.Relays {
		out = append(out, r.Machine())
	}

	return out
}

// Run asks the headend for the configured sessions, one after another, and
// runs the engine until the chain falls idle.
func (s *Simulation) Run() (Summary, error) {
	count := s.cfg.Session.Count
	reps := s.cfg.Session.Repetitions

	sessionTime := tracing.NewAverageTimeTracer(s.engine,
		tracing.KindIs(tracing.KindSession))
	tracing.CollectTrace(s.chain.Head, sessionTime)

	linkSteps := tracing.NewStepCountTracer(
		tracing.KindIs(tracing.KindLinkRequest))
	linkBusy := make([]*tracing.BusyTimeTracer, 0, len(s.chain.Protocols))
	for _, p := range s.chain.Protocols {
		busy := tracing.NewBusyTimeTracer(s.engine,
			tracing.KindIs(tracing.KindLinkRequest))
		tracing.CollectTrace(p, linkSteps)
		tracing.CollectTrace(p, busy)
		linkBusy = append(linkBusy, busy)
	}

	if s.monitor != nil {
		bar := s.monitor.CreateProgressBar("Sessions", uint64(reps))
		defer s.monitor.CompleteProgressBar(bar)

		s.chain.Head.AcceptHook(sim.HookFunc(func(ctx sim.HookCtx) {
			switch ctx.Pos {
			case tracing.HookPosTaskStart:
				bar.IncrementInProgress(1)
			case tracing.HookPosTaskEnd:
				bar.MoveInProgressToFinished(1)
			}
		}))
	}

	reqs := make([]*session.Request, 0, reps)
	for range reps {
		reqs = append(reqs, s.chain.Head.InitiateSharing(count))
		s.chain.Tail.Receive()
	}

	if err := s.engine.Run(); err != nil {
		return Summary{}, fmt.Errorf("running the chain: %w", err)
	}

	s.engine.Finished()

	summary := Summary{
		Discarded:       s.chain.Head.Discarded() + s.chain.Tail.Discarded(),
		SimTime:         s.engine.CurrentTime(),
		MeanSessionTime: sessionTime.AverageTime(),
		MaxSessionTime:  sessionTime.MaxTime(),
		LinkPairs:       linkSteps.GetStepCount("pair"),
		LinkTimeouts:    linkSteps.GetStepCount("timeout"),
	}

	if summary.SimTime > 0 && len(linkBusy) > 0 {
		var busy sim.VTimeInSec
		for _, b := range linkBusy {
			busy += b.BusyTime()
		}

		summary.LinkUtilization = float64(busy) /
			float64(summary.SimTime) / float64(len(linkBusy))
	}

	for _, r := range s.chain.Relays {
		summary.Swaps += r.Swaps()
		summary.Expired += r.Expired()
		summary.Orphaned += r.Orphaned()
	}

	for _, req := range reqs {
		for _, rsp := range req.Responses().Drain() {
			switch rsp.Body.Result {
			case session.ResultOK:
				summary.Delivered++
			case session.ResultAborted:
				summary.Aborted++
			}

			if rsp.Body.Final {
				summary.Sessions++
			}
		}
	}

	if s.execRecorder != nil {
		s.execRecorder.Add("Sessions", fmt.Sprint(summary.Sessions))
		s.execRecorder.Add("Delivered", fmt.Sprint(summary.Delivered))
		s.execRecorder.Add("Simulated Time", summary.SimTime.String())
	}

	return summary, nil
}

// Terminate writes what is left to the database and closes the outputs. It
// can be called more than once.
func (s *Simulation) Terminate() error {
	if s.terminated {
		return nil
	}

	s.terminated = true

	var errs []error

	if s.recorder != nil {
		s.tracer.Terminate()
		errs = append(errs, s.execRecorder.End(), s.recorder.Close())
	}

	errs = append(errs, s.closeLog())

	return errors.Join(errs...)
}

func (s *Simulation) closeLog() error {
	if s.logFile == nil {
		return nil
	}

	err := s.logFile.Close()
	s.logFile = nil

	return err
}
