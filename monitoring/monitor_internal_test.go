package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qnetsim/chain"
	"github.com/sarchlab/qnetsim/coop"
	"github.com/sarchlab/qnetsim/qmem"
	"github.com/sarchlab/qnetsim/sim"
)

type sampleBank struct {
	name  string
	size  int
	inUse int
}

func (b *sampleBank) Name() string { return b.name }
func (b *sampleBank) Size() int    { return b.size }
func (b *sampleBank) InUse() int   { return b.inUse }

func get(m *Monitor, url string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	return rec
}

func decode[T any](rec *httptest.ResponseRecorder) T {
	var v T
	Expect(json.Unmarshal(rec.Body.Bytes(), &v)).To(Succeed())

	return v
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		engine *sim.SerialEngine
	)

	BeforeEach(func() {
		engine = sim.NewSerialEngine()
		m = NewMonitor()
		m.RegisterEngine(engine)
	})

	It("should register components and banks", func() {
		m.RegisterComponent(qmem.NewBank("Node.Bank", 4))
		m.RegisterComponent(&sampleBank{name: "Other", size: 2})

		Expect(m.components).To(HaveLen(2))
		Expect(m.banks).To(HaveLen(2))

		rec := get(m, "/api/list_components")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(decode[[]string](rec)).To(Equal([]string{"Node.Bank", "Other"}))
	})

	It("should report the current time", func() {
		rec := get(m, "/api/now")

		Expect(rec.Body.String()).To(Equal(`{"now":0.0000000000}`))
	})

	Context("when listing banks", func() {
		BeforeEach(func() {
			m.RegisterComponent(&sampleBank{name: "A", size: 10, inUse: 4})
			m.RegisterComponent(&sampleBank{name: "B", size: 4, inUse: 3})
			m.RegisterComponent(&sampleBank{name: "C", size: 2, inUse: 1})
		})

		It("should sort by percent", func() {
			banks := decode[[]bankRsp](get(m, "/api/banks"))

			Expect(banks).To(Equal([]bankRsp{
				{Bank: "B", Level: 3, Cap: 4},
				{Bank: "C", Level: 1, Cap: 2},
				{Bank: "A", Level: 4, Cap: 10},
			}))
		})

		It("should sort by level with limit and offset", func() {
			banks := decode[[]bankRsp](
				get(m, "/api/banks?sort=level&limit=1&offset=1"))

			Expect(banks).To(Equal([]bankRsp{{Bank: "B", Level: 3, Cap: 4}}))
		})

		It("should return nothing past the end", func() {
			banks := decode[[]bankRsp](get(m, "/api/banks?offset=10"))

			Expect(banks).To(BeEmpty())
		})

		It("should reject unknown sort methods", func() {
			rec := get(m, "/api/banks?sort=name")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("should reject bad numbers", func() {
			rec := get(m, "/api/banks?limit=many")

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	It("should list the states of a chain", func() {
		c := chain.MakeBuilder().
			WithRuntime(coop.NewRuntime("Runtime", engine)).
			Build("Chain")
		for _, h := range c.Hookables() {
			if named, ok := h.(sim.Named); ok {
				m.RegisterComponent(named)
			}
		}

		states := decode[[]stateRsp](get(m, "/api/states"))

		Expect(states).To(ContainElement(stateRsp{
			Component: c.Relays[0].Name(),
			State:     "IDLE",
		}))
		Expect(states).To(ContainElement(stateRsp{
			Component: c.Head.Name(),
			State:     "IDLE",
		}))
		Expect(m.banks).To(HaveLen(3))
	})

	It("should answer 404 for unknown components", func() {
		rec := get(m, "/api/component/Nobody")

		Expect(rec.Code).To(Equal(http.StatusNotFound))
	})

	It("should track progress bars", func() {
		bar := m.CreateProgressBar("Sessions", 4)
		bar.IncrementInProgress(2)
		bar.MoveInProgressToFinished(1)

		bars := decode[[]progressRsp](get(m, "/api/progress"))
		Expect(bars).To(HaveLen(1))
		Expect(bars[0].Name).To(Equal("Sessions"))
		Expect(bars[0].Finished).To(Equal(uint64(1)))
		Expect(bars[0].InProgress).To(Equal(uint64(1)))

		m.CompleteProgressBar(bar)
		Expect(decode[[]progressRsp](get(m, "/api/progress"))).To(BeEmpty())
	})

	It("should serve metrics when registered", func() {
		m.RegisterMetrics(http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte("qnetsim_swaps_total 1\n"))
			}))

		Expect(get(m, "/metrics").Body.String()).
			To(ContainSubstring("qnetsim_swaps_total"))
	})

	It("should serve the page", func() {
		rec := get(m, "/")

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(HavePrefix("<!DOCTYPE html>"))
	})
})
