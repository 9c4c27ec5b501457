// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/pdiddy/pharma-research/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve research, planning, and cache administration over HTTP",
	Long: `Serve exposes the engine over HTTP:

  POST /research      JSON query, returns the merged report
  GET  /plan          task descriptors for ?text=&entity=&indication=&from=&to=&sources=
  POST /cache/clear   clear the cache, or one ?source=
  GET  /cache/stats   cache size and hit counters
  GET  /healthz       liveness
  GET  /metrics       Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, err := newEngine(ctx, prometheus.DefaultRegisterer)
		if err != nil {
			return err
		}
		defer engine.Close()

		return server.New(engine, prometheus.DefaultGatherer, logger.Named("http")).ListenAndServe(ctx, addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "listen address")

	rootCmd.AddCommand(serveCmd)
}
