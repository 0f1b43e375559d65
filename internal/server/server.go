// Package server exposes the enrichment pipeline over HTTP. It owns
// routing, bearer auth and the mapping from pipeline failures to status
// codes; all stage semantics live in the pipeline.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dwellscope/listing-cli/internal/identity"
	"github.com/dwellscope/listing-cli/internal/pipeline"
	"github.com/dwellscope/listing-cli/internal/store"
)

// Server handles HTTP requests for the enrichment core.
type Server struct {
	pipeline *pipeline.Pipeline
	verifier identity.Verifier
	store    store.Store
}

// New creates a Server.
func New(p *pipeline.Pipeline, v identity.Verifier, st store.Store) *Server {
	return &Server{pipeline: p, verifier: v, store: st}
}

// Router builds the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/extract", s.handleExtract)
		r.Get("/quota", s.handleQuota)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/facts/confirm", s.handleConfirmFacts)
				r.Post("/stats", s.handleComputeStats)
				r.Post("/stats/confirm", s.handleConfirmStats)
				r.Post("/evaluate", s.handleEvaluate)
				r.Post("/video", s.handleRequestVideo)
			})
		})
	})

	return r
}

type ctxKey int

const userIDKey ctxKey = 0

// auth resolves the bearer token to a user id and stores it in the
// request context. Any verification failure is a uniform 401.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		userID, err := s.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// userID returns the authenticated user id placed by the auth
// middleware.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
