package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/maldo/backend/internal/agents"
	"github.com/maldo/backend/internal/criteria"
	"github.com/maldo/backend/internal/deals"
	"github.com/maldo/backend/internal/discovery"
	"github.com/maldo/backend/internal/handlers"
	"github.com/maldo/backend/internal/rating"
	"github.com/maldo/backend/internal/reputation"
	"github.com/maldo/backend/internal/vouching"
	"github.com/maldo/backend/internal/x402"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Agents     *agents.Service
	Ranker     *discovery.Ranker
	Reputation reputation.Source
	Vouches    *vouching.Ledger
	Ratings    *rating.Service
	Criteria   *criteria.Service
	Deals      *deals.Service
	X402       *x402.Service // nil disables the /x402 routes
}

// HealthCheck checks one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Options tune the HTTP layer.
type Options struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer // nil serves the default registry
	Checks         map[string]HealthCheck
	Logger         *slog.Logger
}

// APIServer exposes the trust services via REST/JSON for agents and the dashboard.
type APIServer struct {
	handler http.Handler
	checks  map[string]HealthCheck
	logger  *slog.Logger
	server  *http.Server
}

func NewAPIServer(svc Services, opts Options) *APIServer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &APIServer{checks: opts.Checks, logger: logger.With("component", "api")}

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	// Directory and discovery
	v1.HandleFunc("/services/register", handlers.RegisterService(svc.Agents)).Methods("POST")
	v1.HandleFunc("/services/discover", handlers.Discover(svc.Ranker)).Methods("GET")
	v1.HandleFunc("/agents", handlers.ListAgents(svc.Agents)).Methods("GET")
	v1.HandleFunc("/agents/{id}", handlers.GetAgent(svc.Agents)).Methods("GET")

	// Reputation, ratings and vouches
	v1.HandleFunc("/agents/{id}/reputation", handlers.HandleAgentReputation(svc.Agents, svc.Reputation, svc.Vouches)).Methods("GET")
	v1.HandleFunc("/agents/{id}/rate", handlers.HandleRate(svc.Ratings)).Methods("POST")
	v1.HandleFunc("/agents/{id}/vouch", handlers.HandleVouch(svc.Vouches)).Methods("POST")
	v1.HandleFunc("/agents/{id}/vouch", handlers.HandleWithdrawVouch(svc.Vouches)).Methods("DELETE")
	v1.HandleFunc("/agents/{id}/vouches", handlers.HandleVouches(svc.Vouches)).Methods("GET")

	// Criteria
	v1.HandleFunc("/principals/{principal}/criteria", handlers.GetCriteria(svc.Criteria)).Methods("GET")
	v1.HandleFunc("/principals/{principal}/criteria", handlers.PutCriteria(svc.Criteria)).Methods("PUT")
	v1.HandleFunc("/criteria/evaluate", handlers.EvaluateCriteria(svc.Criteria)).Methods("POST")

	// Deals. Literal segments are registered before {nonce} routes.
	v1.HandleFunc("/deals/create", handlers.CreateDeal(svc.Deals)).Methods("POST")
	v1.HandleFunc("/deals", handlers.ListDeals(svc.Deals)).Methods("GET")
	v1.HandleFunc("/deals/pending/{principal}", handlers.PendingDeals(svc.Deals)).Methods("GET")
	v1.HandleFunc("/deals/approve/{id}", handlers.ApproveDeal(svc.Deals)).Methods("POST")
	v1.HandleFunc("/deals/reject/{id}", handlers.RejectDeal(svc.Deals)).Methods("POST")
	v1.HandleFunc("/deals/{nonce}/status", handlers.DealStatus(svc.Deals)).Methods("GET")
	v1.HandleFunc("/deals/{nonce}/status", handlers.UpdateDealStatus(svc.Deals)).Methods("POST")

	// x402 pay-per-request
	if svc.X402 != nil {
		x := r.PathPrefix("/x402").Subrouter()
		x.HandleFunc("/services/{capability}", handlers.QuoteService(svc.X402)).Methods("GET")
		x.HandleFunc("/services/{capability}", handlers.PayForService(svc.X402)).Methods("POST")
		x.HandleFunc("/deals/{nonce}/result", handlers.PaidResult(svc.X402)).Methods("GET")
	}

	r.Use(s.loggingMiddleware)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Content-Type", "Authorization", "X-Maldo-Service-Id",
			"Payment-Signature", "Payment-Nonce", "Payment-Amount", "Payment-To",
		},
		ExposedHeaders: []string{"Payment-Required", "X-Payment-Required"},
	})
	s.handler = c.Handler(r)
	return s
}

// Handler returns the fully wrapped router.
func (s *APIServer) Handler() http.Handler { return s.handler }

// Start serves on addr until Shutdown is called.
func (s *APIServer) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("API listening", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "healthy"
	code := http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			s.logger.Warn("health check failed", "dependency", name, "error", err)
			deps[name] = "error"
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "connected"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       status,
		"service":      "maldo-api",
		"dependencies": deps,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *APIServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
