package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/dogmatiq/vista"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("func newRootCommand()", func() {
	var (
		envFile string
		ran     bool
	)

	BeforeEach(func() {
		envFile = filepath.Join(GinkgoT().TempDir(), ".env")
		err := os.WriteFile(
			envFile,
			[]byte("EVENTSTORE_URI=memory://\nREDIS_URI=memory://\nLOG_LEVEL=error\n"),
			0600,
		)
		Expect(err).ShouldNot(HaveOccurred())

		ran = false
		prev := runEngine
		DeferCleanup(func() { runEngine = prev })
	})

	execute := func(ctx context.Context, args ...string) error {
		cmd := newRootCommand()
		cmd.SetArgs(args)
		return cmd.ExecuteContext(ctx)
	}

	It("requires the consumer flag", func() {
		err := execute(context.Background(), "--env-file", envFile)
		Expect(err).To(MatchError(ContainSubstring(`"consumer" not set`)))
	})

	It("rejects an unknown role", func() {
		err := execute(context.Background(), "-c", "<unknown>", "--env-file", envFile)
		Expect(err).To(MatchError(ContainSubstring("unrecognized consumer role")))
	})

	It("fails if the environment file does not exist", func() {
		err := execute(context.Background(), "-c", "state", "--env-file", envFile+".missing")
		Expect(err).To(MatchError(ContainSubstring("unable to read environment file")))
	})

	It("treats cancelation of the context as a clean shutdown", func() {
		ctx, cancel := context.WithCancel(context.Background())

		runEngine = func(ctx context.Context, _ *vista.Engine) error {
			ran = true
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}

		err := execute(ctx, "--consumer", "dto", "--env-file", envFile)
		Expect(err).ShouldNot(HaveOccurred())
		Expect(ran).To(BeTrue())
	})

	It("returns errors from the engine", func() {
		runEngine = func(context.Context, *vista.Engine) error {
			ran = true
			return errors.New("<error>")
		}

		err := execute(context.Background(), "-c", "delay", "--env-file", envFile)
		Expect(err).To(MatchError("<error>"))
		Expect(ran).To(BeTrue())
	})
})
