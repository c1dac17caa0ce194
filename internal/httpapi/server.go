// Package httpapi отдает книгу позиций, историю и алерты только на чтение.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/domain"
	"github.com/rovshanmuradov/solana-trader/internal/pnl"
	"github.com/rovshanmuradov/solana-trader/internal/storage"
)

// Ledger - запросы к книге позиций. Реализуется bot.TradingService.
type Ledger interface {
	Positions(ctx context.Context, owner string, activeOnly bool, token string) ([]domain.Position, error)
	Portfolio(ctx context.Context, owner string) (*pnl.Portfolio, error)
	History(ctx context.Context, owner string, limit int) ([]domain.Transaction, error)
}

// Alerts - чтение алертов. Реализуется alerts.Evaluator.
type Alerts interface {
	List(owner string) []domain.Alert
}

// Server - HTTP-сервер поверх chi.
type Server struct {
	router chi.Router
	srv    *http.Server
	ledger Ledger
	alerts Alerts
	logger *zap.Logger
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(addr string, ledger Ledger, alerts Alerts, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		ledger: ledger,
		alerts: alerts,
		logger: logger.Named("http"),
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/owners/{owner}", func(r chi.Router) {
		r.Get("/positions", s.positions)
		r.Get("/portfolio", s.portfolio)
		r.Get("/transactions", s.transactions)
		r.Get("/alerts", s.listAlerts)
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run обслуживает запросы до отмены ctx, затем корректно останавливается.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) positions(w http.ResponseWriter, r *http.Request) {
	activeOnly := true
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, "active must be a boolean", http.StatusBadRequest)
			return
		}
		activeOnly = b
	}
	positions, err := s.ledger.Positions(r.Context(), chi.URLParam(r, "owner"), activeOnly, r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (s *Server) portfolio(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Portfolio(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	txs, err := s.ledger.History(r.Context(), chi.URLParam(r, "owner"), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	list := s.alerts.List(chi.URLParam(r, "owner"))
	if list == nil {
		list = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrLedgerNotFound), errors.Is(err, domain.ErrTxNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("Request failed", zap.Error(err))
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
