package web

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vbonduro/homewiz/internal/auth"
	"github.com/vbonduro/homewiz/internal/service"
)

const defaultMaxUploadBytes = 10 << 20 // 10 MB

type Options struct {
	// CORSOrigin is the frontend origin allowed to call the API. Empty disables CORS.
	CORSOrigin string
	// MaxUploadBytes caps a single image. Zero uses a 10 MB default.
	MaxUploadBytes int64
	// ServeMedia registers GET /media/{path...} for locally stored blobs.
	ServeMedia bool
}

type Server struct {
	service *service.PropertyService
	auth    auth.Authenticator
	opts    Options
	mux     *http.ServeMux
	logger  *slog.Logger
}

func NewServer(svc *service.PropertyService, authn auth.Authenticator, logger *slog.Logger, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		service: svc,
		auth:    authn,
		opts:    opts,
		mux:     http.NewServeMux(),
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.ServeMedia {
		s.mux.HandleFunc("GET /media/{path...}", s.handleGetMedia)
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/ids/{kind}", s.handleAllocateID)
	api.HandleFunc("GET /api/ids/{id}", s.handleResolveID)

	api.HandleFunc("GET /api/buildings", s.handleListBuildings)
	api.HandleFunc("POST /api/buildings", s.handleCreateBuilding)
	api.HandleFunc("GET /api/buildings/{id}", s.handleGetBuilding)
	api.HandleFunc("DELETE /api/buildings/{id}", s.handleDeleteBuilding)

	api.HandleFunc("GET /api/rooms", s.handleListRooms)
	api.HandleFunc("POST /api/rooms", s.handleCreateRoom)
	api.HandleFunc("GET /api/rooms/{id}", s.handleGetRoom)
	api.HandleFunc("DELETE /api/rooms/{id}", s.handleDeleteRoom)

	api.HandleFunc("GET /api/{kind}/{id}/media", s.handleListMedia)
	api.HandleFunc("POST /api/{kind}/{id}/media", s.handleAttachMedia)
	api.HandleFunc("POST /api/{kind}/{id}/media/finalize", s.handleRetryFinalize)
	api.HandleFunc("PATCH /api/media/{assetID}", s.handleReorderMedia)
	api.HandleFunc("DELETE /api/media/{assetID}", s.handleDeleteMedia)

	s.mux.Handle("/api/", auth.Middleware(s.auth, s.logger)(api))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, s.logger)
}

// securityHeaders sets hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// cors allows the configured frontend origin and answers preflight requests
// before authentication runs.
func cors(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin == "" || r.Header.Get("Origin") != origin {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(cors(s.opts.CORSOrigin, s.mux))).ServeHTTP(w, r)
}

// HTTPServer returns an *http.Server for addr; the caller owns its lifecycle.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
