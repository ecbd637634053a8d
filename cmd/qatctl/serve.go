// SPDX-FileCopyrightText: 2025 SAP SE or an SAP affiliate company and IronCore contributors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ironcore-dev/qat-utils/metricsutils/exporter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"
)

const shutdownTimeout = 5 * time.Second

func (a *app) handler() (http.Handler, error) {
	registry := prometheus.NewRegistry()
	if err := exporter.NewCollector(a.log.WithName("exporter"), a.manager).Register(registry); err != nil {
		return nil, fmt.Errorf("register collector: %w", err)
	}
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		if err := yaml.NewEncoder(w).Encode(a.events.ListEvents()); err != nil {
			a.log.Error(err, "Failed to write events")
		}
	})
	return mux, nil
}

// serve exports metrics until ctx is done. Telemetry is collected by the
// manager loop, scrapes only read the last sample.
func (a *app) serve(ctx context.Context, _ []string) error {
	handler, err := a.handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("Serving metrics", "addr", a.cfg.MetricsAddr)
		errCh <- srv.ListenAndServe()
	}()
	go a.events.Start(ctx)
	go a.manager.Run(ctx, a.cfg.Interval, nil)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
