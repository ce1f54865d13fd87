package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/stockroom-app/stockroom/internal/auth"
	"github.com/stockroom-app/stockroom/internal/items"
	"github.com/stockroom-app/stockroom/internal/observability"
	"github.com/stockroom-app/stockroom/internal/shared"
	"github.com/stockroom-app/stockroom/jobs"
	"github.com/stockroom-app/stockroom/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics

	AuthHandler     *auth.Handler
	AuthAPIHandler  *auth.APIHandler
	ItemsHandler    *items.Handler
	ItemsAPIHandler *items.APIHandler
	JobHandler      *jobs.Handler

	// UploadDir is served at /uploads/ when images are kept on disk.
	UploadDir string
}

// NewRouter constructs the chi.Router with stockroom defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	authLimit := 0
	if params.Config != nil {
		authLimit = params.Config.AuthRateLimitPerMinute
	}
	r.Group(func(r chi.Router) {
		r.Use(AuthRateLimit(authLimit))
		params.AuthHandler.MountRoutes(r)
		if params.AuthAPIHandler != nil {
			params.AuthAPIHandler.MountRoutes(r)
		}
	})

	params.ItemsHandler.MountRoutes(r)
	if params.ItemsAPIHandler != nil {
		params.ItemsAPIHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", cacheControl("public, max-age=3600", fileServer))
	}
	if params.UploadDir != "" {
		uploads := http.StripPrefix("/uploads/", http.FileServer(noListing{http.Dir(params.UploadDir)}))
		r.Handle("/uploads/*", cacheControl("public, max-age=86400", uploads))
	}

	return r
}

// cacheControl sets the Cache-Control header on every response of next.
// Stored image keys are unique, so uploads never change under one URL.
func cacheControl(value string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", value)
		next.ServeHTTP(w, r)
	})
}

// noListing hides directory indexes of the upload directory.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if stat.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
