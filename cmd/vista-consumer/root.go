package main

import (
	"context"
	"errors"

	"github.com/dogmatiq/dodeca/logging"
	"github.com/dogmatiq/vista"
	"github.com/dogmatiq/vista/config"
	"github.com/dogmatiq/vista/internal/x/loggingx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runEngine runs e. It is replaced in tests.
var runEngine = func(ctx context.Context, e *vista.Engine) error {
	return e.Run(ctx)
}

// newRootCommand returns the vista-consumer command.
func newRootCommand() *cobra.Command {
	var (
		role    string
		realEnv bool
		envFile string
	)

	cmd := &cobra.Command{
		Use:     "vista-consumer",
		Short:   "Consume events from a stream and maintain cached projections",
		Version: version,
		Args:    cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,

		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := vista.ParseRole(role)
			if err != nil {
				return err
			}

			cfg, err := config.Load(config.Source{
				RealEnv: realEnv,
				EnvFile: envFile,
			})
			if err != nil {
				return err
			}

			z, err := loggingx.NewZap(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer z.Sync() //nolint:errcheck

			return run(cmd.Context(), cfg, r, loggingx.Zap(z.With(
				zap.String("role", r.String()),
			)))
		},
	}

	cmd.Flags().StringVarP(&role, "consumer", "c", "", "the consumer role to run: delay, dto or state")
	cmd.Flags().BoolVarP(&realEnv, "real-env", "r", false, "read configuration from the process environment only")
	cmd.Flags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "the environment file to read when --real-env is not set")
	cobra.CheckErr(cmd.MarkFlagRequired("consumer"))

	return cmd
}

// run hosts the engine until ctx is canceled. A shutdown requested via ctx is
// not an error.
func run(
	ctx context.Context,
	cfg config.Config,
	r vista.Role,
	logger logging.Logger,
) error {
	e := vista.New(cfg, r, vista.WithLogger(logger))

	err := runEngine(ctx, e)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logging.LogString(logger, "shutdown complete")
		return nil
	}

	return err
}
