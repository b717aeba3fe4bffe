// Package httpapi exposes the portal over a JSON REST API built on chi.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/dmitrijs2005/jewelryportal/internal/common"
	"github.com/dmitrijs2005/jewelryportal/internal/logging"
	"github.com/dmitrijs2005/jewelryportal/internal/server/auth"
	"github.com/dmitrijs2005/jewelryportal/internal/server/metrics"
	"github.com/dmitrijs2005/jewelryportal/internal/server/models"
	"github.com/dmitrijs2005/jewelryportal/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// UserService is the account API the handlers depend on.
type UserService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	Create(ctx context.Context, name, email, password, role string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
	Update(ctx context.Context, id string, in services.UserUpdate) (*models.User, error)
	Delete(ctx context.Context, actorID, id string) error
	ChangePassword(ctx context.Context, id, current, newPassword string) error
	RequestPasswordReset(ctx context.Context, email string)
	ResetPassword(ctx context.Context, email, code, newPassword string) error
}

// DesignService is the submission API the handlers depend on.
type DesignService interface {
	Create(ctx context.Context, p auth.Principal, spec models.DesignSpec) (*models.Design, error)
	Get(ctx context.Context, p auth.Principal, id string) (*models.Design, error)
	List(ctx context.Context, p auth.Principal, f models.DesignFilter) ([]*models.Design, error)
	ListAll(ctx context.Context, p auth.Principal, f models.DesignFilter) ([]*models.Design, error)
	Update(ctx context.Context, p auth.Principal, id string, spec models.DesignSpec) (*models.Design, error)
	SetStatus(ctx context.Context, p auth.Principal, id, status string) (*models.Design, error)
	Delete(ctx context.Context, p auth.Principal, id string) error
	AttachFile(ctx context.Context, p auth.Principal, designID string, in services.FileUpload) (*models.DesignFile, error)
	FileURL(ctx context.Context, p auth.Principal, designID, fileID string) (string, error)
	DeleteFile(ctx context.Context, p auth.Principal, designID, fileID string) error
}

// Options configures a Server.
type Options struct {
	Addr            string
	SecretKey       string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

type Server struct {
	opts    Options
	users   UserService
	designs DesignService
	logger  logging.Logger
	metrics *metrics.Metrics
	secret  []byte
}

func NewServer(opts Options, l logging.Logger, us UserService, ds DesignService, m *metrics.Metrics) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		opts:    opts,
		users:   us,
		designs: ds,
		logger:  l.With("module", "http_server"),
		metrics: m,
		secret:  []byte(opts.SecretKey),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.register)
			r.Post("/login", s.login)
			r.Post("/refresh", s.refresh)
			r.Post("/password/forgot", s.forgotPassword)
			r.Post("/password/reset", s.resetPassword)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)

			r.Get("/users/me", s.me)
			r.Put("/users/me/password", s.changePassword)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(common.RoleAdmin))
				r.Get("/users", s.listUsers)
				r.Post("/users", s.createUser)
				r.Get("/users/{id}", s.getUser)
				r.Put("/users/{id}", s.updateUser)
				r.Delete("/users/{id}", s.deleteUser)

				r.Get("/designs/export", s.exportDesigns)
				r.Patch("/designs/{id}/status", s.setDesignStatus)
			})

			r.Get("/designs", s.listDesigns)
			r.Post("/designs", s.createDesign)
			r.Get("/designs/{id}", s.getDesign)
			r.Put("/designs/{id}", s.updateDesign)
			r.Delete("/designs/{id}", s.deleteDesign)
			r.Post("/designs/{id}/files", s.attachFile)
			r.Get("/designs/{id}/files/{fileID}", s.getFile)
			r.Delete("/designs/{id}/files/{fileID}", s.deleteFile)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		done <- srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", listen.Addr().String())

	if err := srv.Serve(listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-done
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
