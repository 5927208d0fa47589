// README: worker subcommand: intake worker plus a metrics endpoint.
package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httptransport "drivebid/internal/http"
)

func workerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the bid intake worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			q, err := a.sharedQueue(ctx, "worker")
			if err != nil {
				return err
			}
			pool, err := a.db(ctx)
			if err != nil {
				return err
			}
			n := a.notifier()
			iw := a.worker(q, a.bookings(pool, n), n)

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("OK"))
			})
			metrics := httptransport.NewServer(a.cfg.HTTP.MetricsAddr, mux, a.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return metrics.Run(ctx) })
			g.Go(func() error { return iw.Run(ctx) })
			return g.Wait()
		},
	}
}
