// README: serve subcommand: HTTP API, optionally with an in-process intake worker.
package main

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	httptransport "drivebid/internal/http"
)

func serveCmd(configPath *string) *cobra.Command {
	var withWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()
			ctx := cmd.Context()

			if a.cfg.Queue.Backend == "memory" && !withWorker {
				a.log.Warn("memory queue without --with-worker: bids will never be persisted")
			}
			verifier, err := a.verifier(ctx)
			if err != nil {
				return err
			}
			pool, err := a.db(ctx)
			if err != nil {
				return err
			}
			q, err := a.queue(ctx)
			if err != nil {
				return err
			}
			n := a.notifier()
			bookings := a.bookings(pool, n)

			gin.SetMode(gin.ReleaseMode)
			router := httptransport.NewRouter(httptransport.RouterDeps{
				Bids:     a.bids(pool, q),
				Bookings: bookings,
				Verifier: verifier,
				Log:      a.log,
			})
			server := httptransport.NewServer(a.cfg.HTTP.Addr, router, a.log)

			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return server.Run(ctx) })
			if withWorker {
				w := a.worker(q, bookings, n)
				g.Go(func() error { return w.Run(ctx) })
			}
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the intake worker in this process")
	return cmd
}
