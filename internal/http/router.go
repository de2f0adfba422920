package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"otonote/internal/auth"
	"otonote/internal/config"
	"otonote/internal/http/handler"
	mw "otonote/internal/http/middleware"
	"otonote/internal/jobs"
	"otonote/internal/media"
	"otonote/internal/metrics"
)

type Deps struct {
	DB    *gorm.DB
	JWT   *auth.JWT
	Media *media.Store
	Log   *zerolog.Logger
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	if d.Log != nil {
		r.Use(mw.AccessLog(*d.Log)...)
	}
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	me := &handler.MeHandler{DB: d.DB}
	r.With(auth.RequireAuth(d.JWT)).Get("/me", me.Me)

	jh := &handler.JobHandler{Repo: &jobs.Repo{DB: d.DB}, Media: d.Media}

	r.Route("/jobs", func(r chi.Router) {
		r.Use(auth.RequireAuth(d.JWT))

		r.With(chimw.Timeout(10*time.Minute)).Post("/", jh.Create)
		r.Get("/", jh.List)

		r.Get("/{id}", jh.Get)
		r.Get("/{id}/transcript", jh.Transcript)
		r.Post("/{id}/requeue", jh.Requeue)
	})

	return r
}
