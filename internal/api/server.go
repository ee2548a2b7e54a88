// Package api provides the HTTP API server for goatmail.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Frokesy/goatmail-be/internal/account"
	"github.com/Frokesy/goatmail-be/internal/auth"
	"github.com/Frokesy/goatmail-be/internal/config"
	"github.com/Frokesy/goatmail-be/internal/flags"
	"github.com/Frokesy/goatmail-be/internal/inbox"
	"github.com/Frokesy/goatmail-be/internal/mail"
	"github.com/Frokesy/goatmail-be/internal/outbound"
	"github.com/Frokesy/goatmail-be/internal/scheduler"
	"github.com/Frokesy/goatmail-be/internal/store"
)

// Inbox is the aggregation service the API needs.
type Inbox interface {
	List(ctx context.Context, userID string, folder mail.Folder, limit int) (*inbox.Listing, error)
	Get(ctx context.Context, userID string, folder mail.Folder, id string) (*inbox.Single, error)
	ListFlagged(ctx context.Context, userID string, kind flags.Kind) (*inbox.Listing, error)
	SetFlag(ctx context.Context, userID string, kind flags.Kind, id string, on bool) error
}

// Accounts is the account service the API needs.
type Accounts interface {
	Signup(ctx context.Context, email, password string) (*store.User, error)
	Login(ctx context.Context, email, password string) (string, *store.User, error)
	GetUser(ctx context.Context, userID string) (*store.User, error)
	SetIncoming(ctx context.Context, userID string, cfg account.IncomingConfig) error
	GetIncoming(ctx context.Context, userID string) (*account.IncomingConfig, error)
	DeleteIncoming(ctx context.Context, userID string) error
	SetOutgoing(ctx context.Context, userID string, cfg account.OutgoingConfig) error
	GetOutgoing(ctx context.Context, userID string) (*account.OutgoingConfig, error)
}

// Mailer sends or queues outgoing mail.
type Mailer interface {
	SendNow(ctx context.Context, userID string, req *outbound.Request) (string, error)
	Schedule(ctx context.Context, userID string, req *outbound.Request, at time.Time) (*store.ScheduledEmail, error)
}

// TokenValidator verifies session tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Dispatcher reports the scheduled-send dispatcher state.
type Dispatcher interface {
	Status() scheduler.Status
	IsRunning() bool
}

// Deps groups the services behind the API. Dispatcher may be nil.
type Deps struct {
	Inbox      Inbox
	Accounts   Accounts
	Mailer     Mailer
	Tokens     TokenValidator
	Dispatcher Dispatcher
}

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	deps        Deps
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(90 * time.Second))

	// CORS middleware (config-driven; disabled when no origins configured)
	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	r.Use(CORSMiddleware(corsConfig))

	rps, burst := s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	s.rateLimiter = NewRateLimiter(rps, burst)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/user", s.handleGetUser)

			r.Get("/incoming-server", s.handleGetIncoming)
			r.Put("/incoming-server", s.handlePutIncoming)
			r.Delete("/incoming-server", s.handleDeleteIncoming)
			r.Get("/outgoing-server", s.handleGetOutgoing)
			r.Put("/outgoing-server", s.handlePutOutgoing)

			r.Get("/inbox", s.handleInbox)
			r.Get("/messages/{id}", s.handleGetMessage)

			r.Get("/starred", s.handleFlagged(flags.Starred))
			r.Get("/archived", s.handleFlagged(flags.Archived))
			r.Get("/deleted", s.handleFlagged(flags.Deleted))

			for action, kind := range flagActions {
				r.Post("/messages/{id}/"+action, s.handleSetFlag(kind, true))
				r.Delete("/messages/{id}/"+action, s.handleSetFlag(kind, false))
			}

			r.Post("/send", s.handleSend)
			r.Post("/schedule", s.handleSchedule)
		})
	})

	return r
}

// flagActions maps URL verbs to flag sets.
var flagActions = map[string]flags.Kind{
	"star":    flags.Starred,
	"archive": flags.Archived,
	"delete":  flags.Deleted,
}

// Start begins listening for HTTP requests.
// Returns an error if the configuration is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	bindAddr := s.cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	addr := net.JoinHostPort(bindAddr, strconv.Itoa(s.cfg.Server.APIPort))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
