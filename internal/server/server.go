// Package server assembles the HTTP surface of the index daemon: record
// writes, search, rebuild, and health endpoints.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelsearch/kestrel/pkg/config"
	"github.com/kestrelsearch/kestrel/pkg/health"
	"github.com/kestrelsearch/kestrel/pkg/metrics"
	"github.com/kestrelsearch/kestrel/pkg/middleware"
)

// New builds the http.Server with all routes and middleware wired.
func New(cfg config.ServerConfig, h *Handler, checker *health.Checker, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /records", h.IndexRecord)
	mux.HandleFunc("GET /records/{class}/{id}", h.GetRecord)
	mux.HandleFunc("DELETE /records/{class}/{id}", h.DeleteRecord)
	mux.HandleFunc("GET /search", h.Search)
	mux.HandleFunc("POST /rebuild", h.Rebuild)
	mux.HandleFunc("GET /healthz", checker.LiveHandler())
	mux.HandleFunc("GET /readyz", checker.ReadyHandler())

	var handler http.Handler = mux
	handler = middleware.Timeout(cfg.WriteTimeout)(handler)
	if m != nil {
		handler = middleware.Metrics(m)(handler)
	}
	handler = middleware.RequestID()(handler)

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
