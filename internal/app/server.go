package app

import (
	"encoding/base64"
	"net/http"
	"strings"
)

// Server exposes the scan workflow over HTTP
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers and answers preflight requests
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

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="QuickScan"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Drafts
	s.mux.HandleFunc("POST /api/drafts", s.requireAuth(s.handleCaptureDraft))
	s.mux.HandleFunc("GET /api/drafts/{id}", s.requireAuth(s.handleGetDraft))
	s.mux.HandleFunc("GET /api/drafts/{id}/image", s.requireAuth(s.handleGetDraftImage))
	s.mux.HandleFunc("GET /api/drafts/{id}/pdf", s.requireAuth(s.handleExportDraft))
	s.mux.HandleFunc("PUT /api/drafts/{id}/title", s.requireAuth(s.handleRenameDraft))
	s.mux.HandleFunc("POST /api/drafts/{id}/skip", s.requireAuth(s.handleSkipDraft))
	s.mux.HandleFunc("POST /api/drafts/{id}/retry", s.requireAuth(s.handleRetryDraft))
	s.mux.HandleFunc("POST /api/drafts/{id}/finalize", s.requireAuth(s.handleFinalizeDraft))
	s.mux.HandleFunc("DELETE /api/drafts/{id}", s.requireAuth(s.handleDiscardDraft))

	// Library
	s.mux.HandleFunc("GET /api/scans", s.requireAuth(s.handleListScans))
	s.mux.HandleFunc("GET /api/scans/{id}", s.requireAuth(s.handleGetScan))
	s.mux.HandleFunc("GET /api/scans/{id}/image", s.requireAuth(s.handleGetScanImage))
	s.mux.HandleFunc("GET /api/scans/{id}/pdf", s.requireAuth(s.handleExportScan))
	s.mux.HandleFunc("GET /api/scans/{id}/exports", s.requireAuth(s.handleListScanExports))
	s.mux.HandleFunc("DELETE /api/scans/{id}", s.requireAuth(s.handleDeleteScan))

	// Stored documents
	s.mux.HandleFunc("GET /api/exports/{name}", s.requireAuth(s.handleGetExport))

	// Application state
	s.mux.HandleFunc("GET /api/status", s.requireAuth(s.handleStatus))
	s.mux.HandleFunc("GET /api/tier", s.requireAuth(s.handleGetTier))
	s.mux.HandleFunc("PUT /api/tier", s.requireAuth(s.handleSetTier))
}

// Handler returns the mux wrapped with CORS handling, ready to serve
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler().ServeHTTP(w, r)
}
