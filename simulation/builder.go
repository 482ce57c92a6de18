package simulation

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"

	"github.com/sarchlab/qnetsim/chain"
	"github.com/sarchlab/qnetsim/config"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/monitoring"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/sim"
	"github.com/sarchlab/qnetsim/simlog"
	"github.com/sarchlab/qnetsim/stats"
	"github.com/sarchlab/qnetsim/tracing"
)

// Builder can be used to build a simulation.
type Builder struct {
	cfg        config.Config
	registerer prometheus.Registerer
	logWriter  io.Writer
}

// MakeBuilder creates a new builder with the default configuration.
func MakeBuilder() Builder {
	return Builder{
		cfg:       config.Default(),
		logWriter: os.Stderr,
	}
}

// WithConfig sets the parameters of the simulation.
func (b Builder) WithConfig(cfg config.Config) Builder {
	b.cfg = cfg
	return b
}

// WithRegisterer sets where the metrics are registered. By default, every
// simulation gets its own registry.
func (b Builder) WithRegisterer(reg prometheus.Registerer) Builder {
	b.registerer = reg
	return b
}

// WithLogWriter sets where the protocol log goes when no log file is
// configured.
func (b Builder) WithLogWriter(w io.Writer) Builder {
	b.logWriter = w
	return b
}

// Build builds the simulation. The chain processes are started, but no event
// is run until Run is called.
func (b Builder) Build() (*Simulation, error) {
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := simlog.ParseLevel(b.cfg.Output.LogLevel)
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:            xid.New().String(),
		cfg:           b.cfg,
		compNameIndex: make(map[string]int),
	}

	s.engine = sim.NewSerialEngine()
	s.rt = coop.NewRuntime("Runtime", s.engine)
	s.chain = b.buildChain(s.rt)

	for _, h := range s.chain.Hookables() {
		if named, ok := h.(sim.Named); ok {
			s.RegisterComponent(named)
		}
	}

	if err := b.buildMetrics(s); err != nil {
		return nil, err
	}

	if err := b.buildLogger(s, level); err != nil {
		return nil, err
	}

	if err := b.buildRecorder(s); err != nil {
		s.closeLog()
		return nil, err
	}

	if b.cfg.Monitor.Enabled {
		b.buildMonitor(s)
	}

	return s, nil
}

func (b Builder) buildChain(rt *coop.Runtime) *chain.Chain {
	station := phys.MakeStationBuilder().
		WithFreq(sim.FreqFromPeriod(b.cfg.Link.Period.Time())).
		WithSuccessProbability(b.cfg.Link.SuccessProbability).
		WithHeraldLatency(b.cfg.Link.HeraldLatency.Time()).
		WithFidelity(b.cfg.Link.Fidelity)

	// Validate has already rejected unknown schemes.
	scheme, _ := purify.ParseScheme(b.cfg.Purification.Scheme)

	return chain.MakeBuilder().
		WithRuntime(rt).
		WithRelays(b.cfg.Chain.Relays).
		WithSlotsPerNode(b.cfg.Chain.SlotsPerNode).
		WithStation(station).
		WithChannelLatency(b.cfg.Channel.Latency.Time()).
		WithCutoff(b.cfg.Relay.Cutoff.Time()).
		WithSwapTime(b.cfg.Relay.SwapTime.Time()).
		WithPurification(b.cfg.Purification.Iterations,
			b.cfg.Purification.QueueLimit).
		WithNetworkPurification(b.cfg.Purification.NetworkIterations).
		WithPurificationScheme(scheme).
		WithSeed(b.cfg.Seed).
		Build("Chain")
}

func (b Builder) buildMetrics(s *Simulation) error {
	reg := b.registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	collector, err := stats.NewCollector(reg, s.engine)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	collector.Attach(s.chain.Hookables()...)
	s.collector = collector

	return nil
}

func (b Builder) buildLogger(s *Simulation, level simlog.Level) error {
	w := b.logWriter
	if b.cfg.Output.LogFile != "" {
		f, err := os.Create(b.cfg.Output.LogFile)
		if err != nil {
			return fmt.Errorf("creating log file: %w", err)
		}

		s.logFile = f
		w = f
	}

	if w == nil {
		w = io.Discard
	}

	logger := log.New(w, "", 0)

	s.logger = simlog.NewProtocolLogger(logger, s.engine, level)
	if level == simlog.LevelDebug {
		s.logger.PrintFormat()
		s.engine.AcceptHook(sim.NewEventLogger(logger))
	}

	for _, h := range s.chain.Hookables() {
		h.AcceptHook(s.logger)
	}

	for _, m := range s.machines() {
		m.AcceptHook(s.logger)
	}

	return nil
}

func (b Builder) buildRecorder(s *Simulation) error {
	if b.cfg.Output.Database == "" {
		return nil
	}

	recorder, err := datarecording.New(b.cfg.Output.Database)
	if err != nil {
		return err
	}

	s.recorder = recorder

	s.execRecorder = datarecording.NewExecRecorder(recorder)
	s.execRecorder.Start()
	s.execRecorder.Add("Simulation ID", s.id)
	s.execRecorder.Add("Seed", strconv.FormatUint(b.cfg.Seed, 10))
	s.execRecorder.Add("Relays", strconv.Itoa(b.cfg.Chain.Relays))

	s.tables = stats.NewTableWriter(recorder, s.engine)
	s.tables.Attach(s.chain.Hookables()...)

	s.tracer = tracing.NewDBTracer(s.engine, recorder)
	for _, h := range s.chain.Hookables() {
		if domain, ok := h.(tracing.NamedHookable); ok {
			tracing.CollectTrace(domain, s.tracer)
		}
	}

	return nil
}

func (b Builder) buildMonitor(s *Simulation) {
	s.monitor = monitoring.NewMonitor().
		WithPortNumber(b.cfg.Monitor.Port).
		WithBrowser(b.cfg.Monitor.OpenBrowser)
	s.monitor.RegisterEngine(s.engine)
	s.monitor.RegisterMetrics(s.collector.Handler())

	for _, c := range s.components {
		s.monitor.RegisterComponent(c)
	}

	s.monitor.StartServer()
}
