package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-contracts/internal/api"
	"github.com/ahrav/go-contracts/internal/app"
	"github.com/ahrav/go-contracts/internal/worker"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, governor state, metrics and on-demand runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, o.cfg, o.logger)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			defer a.Close()

			if o.cfg.Observability.Level() > slog.LevelDebug {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := api.NewServer(a.Executor, a.Services, a.Governor, o.logger,
				api.WithMetrics(o.cfg.Observability.MetricsEnabled),
				api.WithServiceName(o.cfg.Observability.ServiceName))
			s := o.cfg.Server
			return api.Serve(ctx, s.Addr, srv.Router(), s.ReadTimeout, s.WriteTimeout, s.ShutdownTimeout, o.logger)
		},
	}
}

func newWorkerCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run contract workflows from the Temporal task queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, o.cfg, o.logger)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			defer a.Close()

			c, err := worker.Dial(o.cfg.Temporal, o.logger)
			if err != nil {
				return &ExitError{Code: ExitCodeError, Err: err}
			}
			defer c.Close()

			o.logger.Info("temporal worker starting", "task_queue", o.cfg.Temporal.TaskQueue)
			return worker.Run(ctx, c, o.cfg.Temporal, a.Executor, a.Events)
		},
	}
}
