package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/cloudydaiyz/stringplay-core/internal/api"
	"github.com/cloudydaiyz/stringplay-core/internal/engine"
	"github.com/cloudydaiyz/stringplay-core/internal/logging"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// Ready, if set, receives the bound address once listening (for testing).
	Ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run scheduled syncs",
		Long: `Serve the HTTP API and, when sync.schedule is set, sync every troupe
on that cron schedule.

Endpoints:
  POST /api/v1/troupes/{id}/sync
  GET  /api/v1/troupes/{id}/dashboard
  GET  /healthz
  GET  /metrics

Example:
  stringplay serve --listen 127.0.0.1:8080
  STRINGPLAY_SYNC_SCHEDULE="*/30 * * * *" stringplay serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context(), a.log)
	defer stop()

	scheduler, err := startScheduler(ctx, a.cfg.Sync.Schedule, eng)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid sync schedule", err)
	}
	if scheduler != nil {
		defer func() {
			// Wait for a running SyncAll before closing the store.
			<-scheduler.Stop().Done()
		}()
	}

	addr := opts.Listen
	if addr == "" {
		addr = a.cfg.Server.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           api.NewServer(eng, a.store).Routes(),
		ReadHeaderTimeout: a.cfg.Server.ShutdownTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	a.log.Info().Str("addr", ln.Addr().String()).Str("schedule", a.cfg.Sync.Schedule).Msg("serving")
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s. Press Ctrl-C to stop.\n", ln.Addr())
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("server shutdown failed")
	}
	a.log.Info().Msg("server stopped gracefully")
	return nil
}

// startScheduler runs SyncAll on spec. An empty spec schedules nothing and
// returns nil.
func startScheduler(ctx context.Context, spec string, eng *engine.Engine) (*cron.Cron, error) {
	if spec == "" {
		return nil, nil
	}
	log := logging.Component("scheduler")
	c := cron.New(
		cron.WithLogger(logging.NewCronLogger()),
		cron.WithChain(cron.SkipIfStillRunning(logging.NewCronLogger())),
	)
	_, err := c.AddFunc(spec, func() {
		reports, err := eng.SyncAll(ctx)
		if err != nil {
			log.Error().Err(err).Msg("scheduled sync failed")
			return
		}
		failed := 0
		for _, r := range reports {
			if r.Status == engine.StatusFailed {
				failed++
			}
		}
		log.Info().Int("troupes", len(reports)).Int("failed", failed).Msg("scheduled sync complete")
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
