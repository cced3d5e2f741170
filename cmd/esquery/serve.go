package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gabisonia/go-esquery/internal/httpapi"
	"github.com/gabisonia/go-esquery/whereexpr"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		addr              string
		requestsPerMinute int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /compile, /search and /metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			conn, err := a.connect()
			if err != nil {
				return err
			}
			parser, err := whereexpr.NewParser()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}

			server := httpapi.NewServer(conn, parser, httpapi.Options{
				Logger:            a.logger,
				DefaultType:       typeFlag,
				RequestsPerMinute: requestsPerMinute,
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("http server listening", "addr", addr, "index", conn.Index())
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			a.logger.Info("shutting down http server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides http.addr")
	cmd.Flags().IntVar(&requestsPerMinute, "rate-limit", 0, "Requests per minute per client, 0 disables")
	return cmd
}
