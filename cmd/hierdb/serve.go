package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nebliotech/hierdb/pkg/log"
	"github.com/nebliotech/hierdb/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve Prometheus metrics while holding the engine open",
	Long: `serve opens the engine against --data-dir and keeps it open while
exposing /metrics, /health, /ready, and /live over HTTP, for scraping and
for scripted load against the same on-disk state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		e, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		collector := metrics.NewCollector()
		registerLayerMetrics(collector, e.name, e.layer)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterCriticalComponent("store", true, "open")
		metrics.RegisterCriticalComponent("cache", true, e.name)

		errCh := make(chan error, 1)
		go func() {
			http.Handle("/metrics", metrics.Handler())
			http.HandleFunc("/health", metrics.HealthHandler())
			http.HandleFunc("/ready", metrics.ReadyHandler())
			http.HandleFunc("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, nil); err != nil {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()

		log.Info(fmt.Sprintf("serving %s layer over %s, metrics at http://%s/metrics", e.name, cmd.Flags().Lookup("data-dir").Value.String(), metricsAddr))

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info("shutting down")
		case err := <-errCh:
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the metrics HTTP server listens on")
}
