package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/odpf/salt/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const MetricWaitInterval = time.Second * 2

// InitTelemetry starts the monitoring http server on addr and returns its shutdown function
func InitTelemetry(l log.Logger, addr string) func() {
	ctx, cancel := context.WithCancel(context.Background())

	appUptime := promauto.NewGauge(prometheus.GaugeOpts{
		Name: "application_uptime_seconds",
		Help: "Seconds since the application started",
	})
	appHeartbeat := promauto.NewCounter(prometheus.CounterOpts{
		Name: "application_heartbeat",
		Help: "Application heartbeat pings",
	})
	go func() {
		startTime := time.Now()
		ticker := time.NewTicker(MetricWaitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				appUptime.Set(time.Since(startTime).Seconds())
				appHeartbeat.Inc()
			}
		}
	}()

	metricServer := MetricsServer(addr)
	go func() {
		l.Info("starting monitoring server", "addr", addr)
		if err := metricServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("monitoring server stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		if err := metricServer.Close(); err != nil {
			l.Warn("failed to shutdown metrics http server", "err", fmt.Errorf("metricServer.Close: %w", err))
		}
	}
}

func MetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
