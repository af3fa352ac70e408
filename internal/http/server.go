package http

import (
	"context"
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"go-cube-explorer/internal/config"
	"go-cube-explorer/internal/connectors/index"
	"go-cube-explorer/internal/connectors/summarystore"
	"go-cube-explorer/internal/logs"
	"go-cube-explorer/internal/summary"
)

// Server wraps an HTTP server and route handlers.
type Server struct {
	httpServer   *nethttp.Server
	indexStore   *index.Store
	summaryStore *summarystore.Store
	log          *slog.Logger
}

// NewServer creates a configured HTTP server for the explorer pages and
// the v1 endpoints.
func NewServer(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var indexStore *index.Store
	if cfg.IndexDBEnabled {
		createdStore, err := index.NewStore(cfg)
		if err != nil {
			return nil, err
		}
		indexStore = createdStore
	}
	var summaryStore *summarystore.Store
	if strings.TrimSpace(cfg.SummarySQLitePath) != "" {
		createdStore, err := summarystore.NewSQLiteStore(cfg.SummarySQLitePath, cfg.SummaryQueryTimeout)
		if err != nil {
			_ = indexStore.Close()
			return nil, err
		}
		summaryStore = createdStore
	}

	e := newExplorer(cfg, logger)
	var idx summary.Index
	if indexStore != nil {
		e.index = indexStore
		idx = indexStore
	}
	if summaryStore != nil {
		e.useSummaries(summaryStore, idx)
	}

	httpServer := &nethttp.Server{
		Addr:         cfg.ListenAddr,
		Handler:      loggingMiddleware(logger, observabilityMiddleware(newMux(e))),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{httpServer: httpServer, indexStore: indexStore, summaryStore: summaryStore, log: logger}, nil
}

func newMux(e *explorer) *nethttp.ServeMux {
	mux := nethttp.NewServeMux()

	mux.HandleFunc("/", e.overviewHandler)
	mux.HandleFunc("/favicon.ico", faviconHandler)
	mux.Handle("/metrics", metricsHandler())
	mux.HandleFunc("/api/v1/metrics/app", appMetricsSummaryHandler())
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(e))
	mux.HandleFunc("/api/v1/status/services", servicesStatusHandler(e.index, e.summaries))
	mux.HandleFunc("/api/products", e.productsAPIHandler)
	mux.HandleFunc("/api/summary", e.summaryAPIHandler)
	mux.HandleFunc("/api/summary/", e.summaryAPIHandler)
	mux.HandleFunc("/about", e.aboutHandler)
	mux.HandleFunc("/about.csv", e.aboutCSVHandler)
	mux.HandleFunc("/products.txt", e.productsTextHandler)
	mux.HandleFunc("/product-audit/", e.auditHandler)
	mux.HandleFunc("/datasets/", e.searchHandler)
	mux.HandleFunc("/dataset/", e.datasetHandler)
	mux.HandleFunc("/product/", e.productHandler)
	mux.HandleFunc("/metadata-type/", e.metadataTypeHandler)
	mux.HandleFunc("/region/", e.regionHandler)
	mux.HandleFunc("/reports/", e.reportHandler)

	return mux
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", "addr", s.httpServer.Addr,
		"index", s.indexStore != nil, "summaries", s.summaryStore != nil)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.indexStore != nil {
		_ = s.indexStore.Close()
	}
	if s.summaryStore != nil {
		_ = s.summaryStore.Close()
	}
	return err
}

func healthHandler(w nethttp.ResponseWriter, _ *nethttp.Request) {
	writeJSON(w, nethttp.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// readyHandler reports ready once at least one store is configured.
func readyHandler(e *explorer) nethttp.HandlerFunc {
	return func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		if e.index == nil && e.summaries == nil {
			writeJSON(w, nethttp.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  "no index or summary store configured",
			})
			return
		}
		writeJSON(w, nethttp.StatusOK, map[string]any{
			"status":    "ready",
			"index":     e.index != nil,
			"summaries": e.summaries != nil,
		})
	}
}

func loggingMiddleware(logger *slog.Logger, next nethttp.Handler) nethttp.Handler {
	return nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: nethttp.StatusOK}
		reqLog := logger.With("method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(rec, r.WithContext(logs.WithLogger(r.Context(), reqLog)))
		level := slog.LevelInfo
		if rec.status >= nethttp.StatusInternalServerError {
			level = slog.LevelWarn
		}
		reqLog.Log(r.Context(), level, "request", "status", rec.status, "duration", time.Since(start).String())
	})
}

func writeJSON(w nethttp.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
