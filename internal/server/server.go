package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/pprof"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arwahdevops/dbtester/internal/db"
	"github.com/arwahdevops/dbtester/internal/metrics"
)

// Options configures the HTTP server.
type Options struct {
	Port        int
	EnablePprof bool
}

// NewHandler serves /metrics, /healthz and /readyz. Readiness pings every
// data source in registry.
func NewHandler(opts Options, metricsStore *metrics.Store, registry *db.Registry, logger *zap.Logger) http.Handler {
	log := logger.Named("http-server")
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.HandlerFor(metricsStore.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		statuses := pingAll(pingCtx, registry)
		if len(statuses) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintln(w, "Not Ready: no data sources registered")
			return
		}

		names := make([]string, 0, len(statuses))
		ready := true
		for name, err := range statuses {
			names = append(names, name)
			if err != nil {
				ready = false
			}
		}
		sort.Strings(names)

		parts := make([]string, len(names))
		for i, name := range names {
			label := name
			if label == "" {
				label = "default"
			}
			parts[i] = fmt.Sprintf("%s=%s", label, formatPingError(statuses[name]))
		}

		if ready {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintln(w, "Ready:", strings.Join(parts, ", "))
			return
		}
		log.Warn("Readiness check failed", zap.Strings("data_sources", parts))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, "Not Ready:", strings.Join(parts, ", "))
	})

	if opts.EnablePprof {
		log.Info("Enabling pprof endpoints on /debug/pprof/")
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// RunHTTPServer serves NewHandler until ctx is cancelled.
func RunHTTPServer(ctx context.Context, opts Options, metricsStore *metrics.Store, registry *db.Registry, logger *zap.Logger) {
	log := logger.Named("http-server")
	addr := fmt.Sprintf(":%d", opts.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(opts, metricsStore, registry, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server ListenAndServe error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}
}

// pingAll pings every registered connector concurrently, keyed by data
// source name ("" for the default).
func pingAll(ctx context.Context, registry *db.Registry) map[string]error {
	conns := registry.Connectors()
	out := make(map[string]error, len(conns))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, conn := range conns {
		wg.Add(1)
		go func(name string, conn *db.Connector) {
			defer wg.Done()
			err := conn.Ping(ctx)
			mu.Lock()
			out[name] = err
			mu.Unlock()
		}(name, conn)
	}
	wg.Wait()
	return out
}

func formatPingError(err error) string {
	if err == nil {
		return "OK"
	}
	return fmt.Sprintf("Error (%v)", err)
}
