package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ryuki-imachi/prezentation-feedback-agent/ledger"
	"github.com/ryuki-imachi/prezentation-feedback-agent/pipeline"
)

func newServeCommand(a *app) *cobra.Command {
	var addr string
	var demo bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feedback pipeline over HTTP",
		Long: `Start an HTTP server exposing:

  POST /v1/feedback   multipart upload (field "file"), returns report and costs
  GET  /metrics       prometheus metrics
  GET  /healthz       liveness

Each request is an independent run with its own cost ledger.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := *a.cfg
			if demo {
				c.UseDemo()
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			p, err := pipeline.FromConfig(cmd.Context(), &c, pipeline.Options{
				Log:           a.log,
				Metrics:       pipeline.NewMetrics(reg),
				LedgerMetrics: ledger.NewMetrics(reg),
			})
			if err != nil {
				return err
			}
			return serve(cmd.Context(), a, addr, pipeline.NewHandler(p, a.log, reg))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().BoolVar(&demo, "demo", false, "use the offline demo transcript and model answers")
	return cmd
}

func serve(ctx context.Context, a *app, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.WithField("addr", addr).Info("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		a.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
