package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"tink/internal/auth"
	"tink/internal/blob"
	"tink/internal/config"
	"tink/internal/constants"
	"tink/internal/db"
	"tink/internal/media"
)

const maxJSONBodyBytes = 1 << 20

// Dependencies are the long-lived services the router hands to its handlers.
// LocalStore is nil unless the local blob backend is in use.
type Dependencies struct {
	Database    *db.DB
	Credentials *auth.CredentialService
	Media       *media.Service
	LocalStore  *blob.LocalStore
}

type Server struct {
	router *chi.Mux
	config *config.Config
}

func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	clientIP, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring client IP resolution: %w", err)
	}

	authLimiter := httprate.Limit(
		cfg.RateLimit.AuthPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(clientIP.KeyFunc),
		httprate.WithLimitHandler(tooManyRequests),
	)

	queryTimeout := cfg.Database.QueryTimeout
	handle := deps.Database.Handle()

	authHandler := NewAuthHandler(deps.Credentials)
	userHandler := NewUserHandler(db.NewUserRepository(handle), queryTimeout)
	imageHandler := NewImageHandler(deps.Media, cfg.Storage.UploadMaxBytes)
	orgHandler := NewOrganizationHandler(db.NewOrganizationRepository(handle), deps.Media, queryTimeout)
	projectHandler := NewProjectHandler(deps.Database, deps.Media, queryTimeout)
	categoryHandler := NewCategoryHandler(db.NewCategoryRepository(handle), queryTimeout)
	healthHandler := NewHealthHandler(deps.Database)

	authMiddleware := NewAuthMiddleware(deps.Credentials)
	jsonBody := maxBodySizeMiddleware(maxJSONBodyBytes)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(clientIP.Middleware)
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(jsonBody)

			r.Group(func(r chi.Router) {
				r.Use(authLimiter)
				r.Post("/register", authHandler.Register)
				r.Post("/login", authHandler.Login)
				r.Post("/refresh-token", authHandler.Refresh)
			})

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAuth)
				r.Post("/logout", authHandler.Logout)
				r.Get("/me", authHandler.Me)
				r.Patch("/me", userHandler.UpdateMe)
			})
		})

		r.Route("/images", func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			// the upload handler applies its own limit derived from upload_max_bytes
			r.Post("/upload", imageHandler.Upload)
			r.Get("/{entityType}/{entityId}", imageHandler.List)
			r.Get("/{entityType}/{entityId}/main", imageHandler.GetMain)
			r.Put("/{imageId}/set-main", imageHandler.SetMain)
			r.Delete("/{imageId}", imageHandler.Delete)
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Use(jsonBody)

			r.Route("/organizations", func(r chi.Router) {
				r.Get("/", orgHandler.List)
				r.Post("/", orgHandler.Create)
				r.Get("/{id}", orgHandler.Get)
				r.Put("/{id}", orgHandler.Update)
				r.Delete("/{id}", orgHandler.Archive)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectHandler.List)
				r.Post("/", projectHandler.Create)
				r.Get("/{id}", projectHandler.Get)
				r.Put("/{id}", projectHandler.Update)
				r.Delete("/{id}", projectHandler.Archive)
			})

			r.Route("/categories", func(r chi.Router) {
				r.Get("/", categoryHandler.List)
				r.Post("/", categoryHandler.Create)
				r.Get("/{id}", categoryHandler.Get)
				r.Put("/{id}", categoryHandler.Update)
				r.Delete("/{id}", categoryHandler.Delete)
			})
		})
	})

	if deps.LocalStore != nil {
		prefix := cfg.Storage.PublicPath
		r.Handle(prefix+"*", http.StripPrefix(prefix, noDirectoryListing(http.FileServer(http.Dir(deps.LocalStore.Root())))))
	}

	return &Server{
		router: r,
		config: cfg,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func noDirectoryListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			notFound(w, "File not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if !originAllowed(allowed, origin) {
					writeError(w, http.StatusForbidden, constants.ErrCodeInvalidRequest, "Origin not allowed")
					return
				}
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// originAllowed accepts configured origins and any loopback origin, so local
// frontends work without extra configuration.
func originAllowed(allowed map[string]struct{}, origin string) bool {
	if _, ok := allowed[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remote", r.RemoteAddr,
		)
	})
}
