package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	auth "github.com/mind-engage/examprep/internal/auth/middleware"
	"github.com/mind-engage/examprep/internal/journal"
	"github.com/mind-engage/examprep/internal/rbac"
	"github.com/mind-engage/examprep/internal/session"
)

type RouterDeps struct {
	Manager *session.Manager
	Hub     *Hub
	Auth    *auth.AuthService
	Journal *journal.Repo // optional
	Metrics http.Handler  // optional

	// Assets serves fs-backed question images under AssetPrefix. Optional.
	Assets      http.Handler
	AssetPrefix string

	CORSOrigins []string
	Ready       func(ctx context.Context) error // optional

	// AccessLog receives one line per request. Defaults to chi's stdout logger.
	AccessLog middleware.LoggerInterface
}

func NewRouter(d RouterDeps) http.Handler {
	accessLog := middleware.Logger
	if d.AccessLog != nil {
		accessLog = middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: d.AccessLog, NoColor: true})
	}

	r := chi.NewRouter()
	// the query token must be gone before the request is logged
	r.Use(middleware.RequestID, middleware.RealIP, auth.HideQueryToken, accessLog, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	if d.Assets != nil && d.AssetPrefix != "" {
		r.Method(http.MethodGet, d.AssetPrefix+"/*", d.Assets)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))

		// long-lived; kept out of the request timeout
		pr.With(rbac.RequireAny(rbac.PermSessionViewOwn, rbac.PermSessionViewAll)).
			Get("/sessions/{sessionID}/stream", StreamHandler(d.Manager, d.Hub, d.CORSOrigins))

		pr.Group(func(tr chi.Router) {
			tr.Use(middleware.Timeout(30 * time.Second))

			tr.With(rbac.Require(rbac.PermSessionStart)).
				Post("/sessions", StartSessionHandler(d.Manager))
			tr.With(rbac.RequireAny(rbac.PermSessionViewOwn, rbac.PermSessionViewAll)).
				Get("/sessions/{sessionID}", GetSessionHandler(d.Manager))
			tr.With(rbac.Require(rbac.PermSessionAnswer)).
				Post("/sessions/{sessionID}/select", SelectHandler(d.Manager))
			tr.With(rbac.Require(rbac.PermSessionAnswer)).
				Post("/sessions/{sessionID}/navigate", NavigateHandler(d.Manager))
			tr.With(rbac.Require(rbac.PermSessionSubmit)).
				Post("/sessions/{sessionID}/submit", SubmitHandler(d.Manager))
			tr.With(rbac.RequireAny(rbac.PermSessionViewOwn, rbac.PermSessionCloseAny)).
				Delete("/sessions/{sessionID}", CloseSessionHandler(d.Manager))

			if d.Journal != nil {
				tr.With(rbac.Require(rbac.PermJournalView)).
					Get("/journal/{testInstanceID}", JournalHandler(d.Journal))
			}
		})
	})
	return r
}
