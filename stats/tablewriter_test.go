package stats

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/qnetsim/datarecording"
	"github.com/sarchlab/qnetsim/sim"
)

var _ = Describe("TableWriter", func() {
	It("should record deliveries, swaps and relay sessions", func() {
		path := filepath.Join(GinkgoT().TempDir(), "run")
		recorder, err := datarecording.New(path)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = recorder.Close() }()

		engine := sim.NewSerialEngine()
		c := buildChain(engine)
		writer := NewTableWriter(recorder, engine)
		writer.Attach(c.Hookables()...)

		c.Head.InitiateSharing(2)
		c.Tail.Receive()
		Expect(engine.Run()).To(Succeed())
		Expect(recorder.Flush()).To(Succeed())

		reader, err := datarecording.NewReader(path + ".sqlite3")
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = reader.Close() }()

		reader.MapTable(DeliveryTable, DeliveryEntry{})
		reader.MapTable(SwapTable, SwapEntry{})
		reader.MapTable(RelaySessionTable, RelaySessionEntry{})

		ctx := context.Background()

		deliveries, total, err := reader.Query(ctx, DeliveryTable,
			datarecording.QueryParams{
				Where:   "Endpoint = ?",
				Args:    []any{c.Head.Name()},
				OrderBy: "Time",
			})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(2))
		Expect(deliveries[0].(*DeliveryEntry).Session).To(Equal("s1"))
		Expect(deliveries[0].(*DeliveryEntry).Final).To(BeFalse())
		Expect(deliveries[1].(*DeliveryEntry).Final).To(BeTrue())
		Expect(deliveries[1].(*DeliveryEntry).Fidelity).
			To(BeNumerically("~", 1, 1e-12))

		_, swaps, err := reader.Query(ctx, SwapTable, datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(swaps).To(Equal(int(c.Relays[0].Swaps())))

		reports, total, err := reader.Query(ctx, RelaySessionTable,
			datarecording.QueryParams{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(1))

		report := reports[0].(*RelaySessionEntry)
		Expect(report.Relay).To(Equal(c.Relays[0].Name()))
		Expect(report.Swaps).To(Equal(swaps))
	})
})
