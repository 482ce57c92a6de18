// Package config loads the parameters of a repeater chain simulation from a
// YAML file and from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sarchlab/qnetsim/purify"
	"github.com/sarchlab/qnetsim/sim"
)

// Duration is a simulated time that is written with a unit suffix, such as
// "20us" or "1.5ms". A bare number is taken in seconds.
type Duration sim.VTimeInSec

var durationPattern = regexp.MustCompile(`^\s*(\d+\.?\d*(?:[eE][-+]?\d+)?)\s*([a-z]*)\s*$`)

// ParseDuration parses a unit-suffixed duration.
func ParseDuration(s string) (Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	var unit sim.VTimeInSec
	switch m[2] {
	case "", "s":
		unit = sim.Second
	case "ms":
		unit = sim.Millisecond
	case "us":
		unit = sim.Microsecond
	case "ns":
		unit = sim.Nanosecond
	default:
		return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, m[2])
	}

	return Duration(sim.VTimeInSec(v) * unit), nil
}

// Time returns the duration as a simulated time.
func (d Duration) Time() sim.VTimeInSec {
	return sim.VTimeInSec(d)
}

// String prints the duration with its largest fitting unit.
func (d Duration) String() string {
	return d.Time().String()
}

// UnmarshalYAML accepts both unit-suffixed strings and plain numbers.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	v, err := ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = v

	return nil
}

// MarshalYAML writes the duration with its unit.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// ChainConfig sets the shape of the chain.
type ChainConfig struct {
	Relays       int `yaml:"relays"`
	SlotsPerNode int `yaml:"slots_per_node"`
}

// LinkConfig sets the heralded generation of every hop.
type LinkConfig struct {
	SuccessProbability float64  `yaml:"success_probability"`
	Period             Duration `yaml:"period"`
	HeraldLatency      Duration `yaml:"herald_latency"`
	Fidelity           float64  `yaml:"fidelity"`
}

// ChannelConfig sets the classical fibres.
type ChannelConfig struct {
	Latency Duration `yaml:"latency"`
}

// RelayConfig sets the relays.
type RelayConfig struct {
	Cutoff   Duration `yaml:"cutoff"`
	SwapTime Duration `yaml:"swap_time"`
}

// SessionConfig sets the workload that the headend asks for.
type SessionConfig struct {
	Count       int `yaml:"count"`
	Repetitions int `yaml:"repetitions"`
}

// PurificationConfig sets the optional purification of every hop and of the
// end-to-end pairs. Zero iterations disable it. The scheme is "bbpssw" or
// "dejmps".
type PurificationConfig struct {
	Iterations        int    `yaml:"iterations"`
	QueueLimit        int    `yaml:"queue_limit"`
	NetworkIterations int    `yaml:"network_iterations"`
	Scheme            string `yaml:"scheme"`
}

// OutputConfig sets where results go. An empty database disables recording.
type OutputConfig struct {
	Database string `yaml:"database"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
}

// MonitorConfig sets the monitoring web server.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

// Config holds all the parameters of a simulation.
type Config struct {
	Seed         uint64             `yaml:"seed"`
	Chain        ChainConfig        `yaml:"chain"`
	Link         LinkConfig         `yaml:"link"`
	Channel      ChannelConfig      `yaml:"channel"`
	Relay        RelayConfig        `yaml:"relay"`
	Session      SessionConfig      `yaml:"session"`
	Purification PurificationConfig `yaml:"purification"`
	Output       OutputConfig       `yaml:"output"`
	Monitor      MonitorConfig      `yaml:"monitor"`
}

// Log levels understood by the protocol logger.
const (
	LogLevelError   = "error"
	LogLevelWarning = "warning"
	LogLevelInfo    = "info"
	LogLevelDebug   = "debug"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Seed: 1,
		Chain: ChainConfig{
			Relays:       1,
			SlotsPerNode: 4,
		},
		Link: LinkConfig{
			SuccessProbability: 0.5,
			Period:             Duration(1 * sim.Microsecond),
			HeraldLatency:      Duration(1 * sim.Microsecond),
			Fidelity:           1,
		},
		Channel: ChannelConfig{
			Latency: Duration(1 * sim.Microsecond),
		},
		Relay: RelayConfig{
			Cutoff: Duration(1 * sim.Millisecond),
		},
		Session: SessionConfig{
			Count:       10,
			Repetitions: 1,
		},
		Purification: PurificationConfig{
			Scheme: purify.SchemeBBPSSW.String(),
		},
		Output: OutputConfig{
			LogLevel: LogLevelError,
		},
	}
}

// Parse reads a configuration from YAML. Missing fields keep their default
// values.
func Parse(data []byte) (Config, error) {
	c := Default()

	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	return c, nil
}

// Load reads a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}

	return Parse(data)
}

// Dump writes the configuration as YAML.
func (c Config) Dump() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every value that cannot describe a simulation.
func (c Config) Validate() error {
	var errs []error

	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Chain.Relays >= 0, "chain.relays must not be negative")
	check(c.Chain.SlotsPerNode >= 1, "chain.slots_per_node must be positive")
	check(c.Chain.Relays == 0 || c.Chain.SlotsPerNode >= 2,
		"chain.slots_per_node must be at least 2 with relays")
	check(c.Link.SuccessProbability > 0 && c.Link.SuccessProbability <= 1,
		"link.success_probability %v out of (0, 1]", c.Link.SuccessProbability)
	check(c.Link.Period > 0, "link.period must be positive")
	check(c.Link.HeraldLatency >= 0, "link.herald_latency must not be negative")
	check(c.Link.Fidelity >= 0 && c.Link.Fidelity <= 1,
		"link.fidelity %v out of [0, 1]", c.Link.Fidelity)
	check(c.Channel.Latency >= 0, "channel.latency must not be negative")
	check(c.Relay.Cutoff > 0, "relay.cutoff must be positive")
	check(c.Relay.SwapTime >= 0, "relay.swap_time must not be negative")
	check(c.Session.Count >= 1, "session.count must be positive")
	check(c.Session.Repetitions >= 1, "session.repetitions must be positive")
	check(c.Purification.Iterations >= 0,
		"purification.iterations must not be negative")
	check(c.Purification.QueueLimit >= 0,
		"purification.queue_limit must not be negative")
	check(c.Purification.NetworkIterations >= 0,
		"purification.network_iterations must not be negative")
	if _, err := purify.ParseScheme(c.Purification.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("purification.scheme: %w", err))
	}
	check(c.Monitor.Port >= 0 && c.Monitor.Port < 65536,
		"monitor.port %d out of range", c.Monitor.Port)

	switch strings.ToLower(c.Output.LogLevel) {
	case LogLevelError, LogLevelWarning, LogLevelInfo, LogLevelDebug:
	default:
		errs = append(errs,
			fmt.Errorf("output.log_level %q is unknown", c.Output.LogLevel))
	}

	return errors.Join(errs...)
}
