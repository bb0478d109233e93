package expense

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/zombor/expense-intake/internal/policy"
)

// PolicySource supplies the current policy document
type PolicySource interface {
	Policy() *policy.Document
}

// Server handles HTTP requests for expenses
type Server struct {
	service  *Service
	policies PolicySource
	logger   *zap.Logger
	mux      *http.ServeMux
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, policies PolicySource, logger *zap.Logger) *Server {
	return NewServerWithMux(service, policies, logger, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, policies PolicySource, logger *zap.Logger, mux *http.ServeMux) *Server {
	s := &Server{
		service:  service,
		policies: policies,
		logger:   logger,
		mux:      mux,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses and answers preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/expenses/{id}/approve", s.handleApprove)
	s.mux.HandleFunc("POST /api/expenses/{id}/reject", s.handleReject)
	s.mux.HandleFunc("GET /api/expenses/{id}", s.handleGetExpense)
	s.mux.HandleFunc("GET /api/expenses", s.handleListExpenses)
	s.mux.HandleFunc("POST /api/expenses", s.handleSubmitExpense)

	s.mux.HandleFunc("GET /api/employees/{id}/expenses", s.handleGetEmployeeExpenses)
	s.mux.HandleFunc("DELETE /api/employees/{id}/expenses", s.handlePurgeEmployeeExpenses)

	s.mux.HandleFunc("GET /api/policy", s.handleGetPolicy)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// Handler returns the mux wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
