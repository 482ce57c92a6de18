package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func execute(args ...string) (string, error) {
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

var _ = Describe("CLI", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		configFile = ""
		envFiles = nil
	})

	It("should print the effective configuration", func() {
		file := filepath.Join(dir, "chain.yaml")
		Expect(os.WriteFile(file,
			[]byte("chain:\n  relays: 3\nrelay:\n  cutoff: 20us\n"), 0o600)).
			To(Succeed())

		out, err := execute("config", "--config", file)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("relays: 3"))
		Expect(out).To(ContainSubstring("cutoff: 20.000us"))
	})

	It("should apply the env file", func() {
		envFile := filepath.Join(dir, "run.env")
		Expect(os.WriteFile(envFile, []byte("QNETSIM_SEED=77\n"), 0o600)).
			To(Succeed())
		DeferCleanup(os.Unsetenv, "QNETSIM_SEED")

		out, err := execute("config", "--env", envFile)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(ContainSubstring("seed: 77"))
	})

	It("should report invalid configurations", func() {
		file := filepath.Join(dir, "bad.yaml")
		Expect(os.WriteFile(file,
			[]byte("session:\n  count: 0\n"), 0o600)).To(Succeed())

		_, err := execute("config", "--config", file)

		Expect(err).To(MatchError(ContainSubstring("session.count")))
	})

	It("should run a simulation and record it", func() {
		db := filepath.Join(dir, "run")

		out, err := execute("run",
			"--relays", "1", "--count", "2", "--repetitions", "2",
			"--db", db)

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchRegexp(`sessions\s+2\n`))
		Expect(out).To(MatchRegexp(`delivered\s+4\n`))
		Expect(db + ".sqlite3").To(BeAnExistingFile())
	})

	It("should report a recorded simulation", func() {
		db := filepath.Join(dir, "run")

		_, err := execute("run",
			"--relays", "1", "--count", "2", "--repetitions", "1",
			"--seed", "5", "--db", db)
		Expect(err).NotTo(HaveOccurred())

		out, err := execute("report", db+".sqlite3")

		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(MatchRegexp(`Seed\s+5\n`))
		Expect(out).To(MatchRegexp(`delivery rows\s+4\n`))
		Expect(out).To(ContainSubstring("Chain.Relay[0].Net"))
	})

	It("should fail to report a missing database", func() {
		_, err := execute("report", filepath.Join(dir, "missing.sqlite3"))

		Expect(err).To(HaveOccurred())
	})
})
