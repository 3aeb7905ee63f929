package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hector-utils/internal/topicapi"
	"hector-utils/pkg/node"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve publish, wait and stream over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("addr") {
				addr = a.cfg.HTTP.Addr
			}
			ctx := cmd.Context()
			ps, err := a.openTransport(ctx)
			if err != nil {
				return err
			}
			defer ps.Close()

			n, err := node.New(ps, node.Config{Name: "hectorctl_http", Logger: a.log})
			if err != nil {
				return err
			}
			defer n.Close()

			mux := http.NewServeMux()
			topicapi.NewServer(ps, n, topicapi.Options{
				Wait:   a.cfg.Wait,
				Logger: a.log,
			}).Register(mux)

			g, gctx := errgroup.WithContext(ctx)
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
				// Open streams end when the server stops.
				BaseContext: func(net.Listener) context.Context { return gctx },
			}
			g.Go(func() error {
				a.log.Info("hectorctl listening", zap.String("addr", addr), zap.String("node", n.Name()))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				a.log.Info("shutting down http server")
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8090", "http listen address")
	return cmd
}
