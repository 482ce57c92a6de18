// Package stats turns the hooks of a chain into Prometheus metrics and into
// tables of a data recorder.
package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sarchlab/qnetsim/link"
	"github.com/sarchlab/qnetsim/phys"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/relay"
	"github.com/sarchlab/qnetsim/session"
	"github.com/sarchlab/qnetsim/sim"
)

// A Collector is a hook that keeps the protocol metrics of a chain. Times are
// in simulated seconds.
type Collector struct {
	gatherer prometheus.Gatherer

	Heralds   *prometheus.CounterVec
	Pairs     *prometheus.CounterVec
	Timeouts  *prometheus.CounterVec
	Swaps     *prometheus.CounterVec
	Expired   *prometheus.CounterVec
	Orphaned  *prometheus.CounterVec
	Delivered *prometheus.CounterVec
	Discarded *prometheus.CounterVec
	Sessions  *prometheus.CounterVec
	LiveSlots *prometheus.GaugeVec

	SwapFidelity    prometheus.Histogram
	DeliveryLatency *prometheus.HistogramVec

	timeTeller sim.TimeTeller
}

// NewCollector registers the metrics against the provided registerer,
// defaulting to the global Prometheus registry when nil.
//
//nolint:funlen
func NewCollector(
	reg prometheus.Registerer,
	timeTeller sim.TimeTeller,
) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer, timeTeller: timeTeller}

	counters := []struct {
		dst    **prometheus.CounterVec
		name   string
		help   string
		labels []string
	}{
		{&c.Heralds, "qnetsim_heralds_total",
			"Heralded attempts, labeled by station and outcome.",
			[]string{"station", "outcome"}},
		{&c.Pairs, "qnetsim_link_pairs_total",
			"Pairs delivered by a link layer.", []string{"link"}},
		{&c.Timeouts, "qnetsim_link_timeouts_total",
			"Link requests that timed out.", []string{"link"}},
		{&c.Swaps, "qnetsim_swaps_total",
			"Swaps performed by a relay.", []string{"relay"}},
		{&c.Expired, "qnetsim_expired_total",
			"Pairs that expired at a relay.", []string{"relay"}},
		{&c.Orphaned, "qnetsim_orphaned_total",
			"Messages left without a pair at the end of a session.",
			[]string{"relay"}},
		{&c.Delivered, "qnetsim_delivered_total",
			"End-to-end pairs handed to the application.",
			[]string{"endpoint"}},
		{&c.Discarded, "qnetsim_discarded_total",
			"End-to-end pairs discarded by an endpoint.",
			[]string{"endpoint"}},
		{&c.Sessions, "qnetsim_sessions_total",
			"Sessions finished by an endpoint, labeled by result.",
			[]string{"endpoint", "result"}},
	}

	for _, def := range counters {
		vec, err := registerCounterVec(reg, prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: def.name, Help: def.help},
			def.labels), def.name)
		if err != nil {
			return nil, err
		}

		*def.dst = vec
	}

	liveSlots, err := registerGaugeVec(reg, prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "qnetsim_live_slots",
			Help: "Slots reserved or holding a pair, per bank.",
		}, []string{"bank"}), "qnetsim_live_slots")
	if err != nil {
		return nil, err
	}
	c.LiveSlots = liveSlots

	swapFidelity, err := registerHistogram(reg, prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "qnetsim_swap_fidelity",
			Help:    "Fidelity of the pairs produced by swaps.",
			Buckets: prometheus.LinearBuckets(0.25, 0.05, 16),
		}), "qnetsim_swap_fidelity")
	if err != nil {
		return nil, err
	}
	c.SwapFidelity = swapFidelity

	latency, err := registerHistogramVec(reg, prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "qnetsim_delivery_latency_seconds",
			Help: "Simulated time from a session request to each delivery.",
			Buckets: prometheus.ExponentialBuckets(
				float64(sim.Microsecond), 2, 20),
		}, []string{"endpoint"}), "qnetsim_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}
	c.DeliveryLatency = latency

	return c, nil
}

// Attach makes the collector listen to the given components.
func (c *Collector) Attach(domains ...sim.Hookable) {
	for _, d := range domains {
		d.AcceptHook(c)
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Func updates the metrics.
func (c *Collector) Func(ctx sim.HookCtx) {
	name := ""
	if named, ok := ctx.Domain.(sim.Named); ok {
		name = named.Name()
	}

	switch ctx.Pos {
	case phys.HookPosHerald:
		outcome := "failure"
		if ctx.Item.(phys.AttemptResult).Success {
			outcome = "success"
		}

		c.Heralds.WithLabelValues(name, outcome).Inc()
	case link.HookPosDeliver:
		c.countLink(name, ctx.Item.(link.Response))
	case relay.HookPosSwap:
		c.Swaps.WithLabelValues(name).Inc()
		c.SwapFidelity.Observe(ctx.Item.(relay.SwapEvent).Fidelity)
	case relay.HookPosExpire:
		c.Expired.WithLabelValues(name).Inc()
	case relay.HookPosSessionEnd:
		report := ctx.Item.(relay.SessionReport)
		c.Orphaned.WithLabelValues(name).Add(float64(report.Orphaned))
	case session.HookPosDeliver:
		c.countDelivery(name, ctx.Item.(session.Response), ctx.Detail)
	case session.HookPosDiscard:
		c.Discarded.WithLabelValues(name).Inc()
	case qmem.HookPosAllocate, qmem.HookPosRelease:
		if bank, ok := ctx.Domain.(*qmem.Bank); ok {
			c.LiveSlots.WithLabelValues(name).Set(float64(bank.InUse()))
		}
	}
}

func (c *Collector) countLink(name string, resp link.Response) {
	switch resp.Result {
	case link.ResultOK:
		n := 1
		if resp.Mode == link.Atomic {
			n = len(resp.Records)
		}

		c.Pairs.WithLabelValues(name).Add(float64(n))
	case link.ResultTimeout:
		c.Timeouts.WithLabelValues(name).Inc()
	}
}

func (c *Collector) countDelivery(name string, resp session.Response, detail any) {
	if resp.Result == session.ResultOK {
		c.Delivered.WithLabelValues(name).Inc()

		if req, ok := detail.(*session.Request); ok {
			latency := c.timeTeller.CurrentTime() - req.SubmittedAt
			c.DeliveryLatency.WithLabelValues(name).Observe(float64(latency))
		}
	}

	if resp.Final {
		c.Sessions.WithLabelValues(name, string(resp.Result)).Inc()
	}
}

func registerCounterVec(
	reg prometheus.Registerer,
	vec *prometheus.CounterVec,
	name string,
) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}

			return nil, fmt.Errorf(
				"collector %s already registered with incompatible type", name)
		}

		return nil, err
	}

	return vec, nil
}

func registerGaugeVec(
	reg prometheus.Registerer,
	vec *prometheus.GaugeVec,
	name string,
) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}

			return nil, fmt.Errorf(
				"collector %s already registered with incompatible type", name)
		}

		return nil, err
	}

	return vec, nil
}

func registerHistogram(
	reg prometheus.Registerer,
	h prometheus.Histogram,
	name string,
) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}

			return nil, fmt.Errorf(
				"collector %s already registered with incompatible type", name)
		}

		return nil, err
	}

	return h, nil
}

func registerHistogramVec(
	reg prometheus.Registerer,
	vec *prometheus.HistogramVec,
	name string,
) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}

			return nil, fmt.Errorf(
				"collector %s already registered with incompatible type", name)
		}

		return nil, err
	}

	return vec, nil
}
