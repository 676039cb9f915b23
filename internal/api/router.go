package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jasonzli-DEV/D-Drive-sub001/internal/logger"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/backup"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/config"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/drive"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/metrics"
	"github.com/jasonzli-DEV/D-Drive-sub001/pkg/store"
)

// Deps are the components the router serves.
type Deps struct {
	Drive  *drive.Drive
	Store  *store.Store
	Backup *backup.Service // nil when backups are disabled

	Auth           config.AuthConfig
	MetricsEnabled bool
}

// NewRouter builds the chi router: health and metrics unauthenticated,
// public link downloads unauthenticated, everything else behind bearer
// verification.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h := NewHandler(deps.Drive)
	tasks := NewTaskHandler(deps.Store, deps.Backup)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSONOK(w, map[string]string{"status": "ok"})
	})

	if deps.MetricsEnabled {
		metrics.Init()
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.Get("/public/{slug}", h.PublicDownload)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Auth(deps.Auth.JWTSecret, deps.Auth.Issuer, deps.Drive))

		r.Get("/files", h.ListChildren)
		r.Post("/files", h.Upload)
		r.Get("/files/{id}", h.Stat)
		r.Get("/files/{id}/content", h.Download)
		r.Patch("/files/{id}/rename", h.Rename)
		r.Patch("/files/{id}/move", h.Move)
		r.Delete("/files/{id}", h.SoftDelete)
		r.Post("/files/{id}/restore", h.Restore)
		r.Delete("/files/{id}/permanent", h.PermanentDelete)
		r.Post("/files/{id}/copy", h.Copy)
		r.Post("/files/{id}/star", h.ToggleStar)

		r.Post("/dirs", h.CreateDir)
		r.Get("/starred", h.ListStarred)
		r.Get("/trash", h.ListTrash)
		r.Delete("/trash", h.EmptyTrash)

		r.Post("/files/{id}/shares", h.Share)
		r.Delete("/files/{id}/shares/{recipient}", h.RevokeShare)
		r.Get("/shared-with-me", h.ListSharedWithMe)

		r.Post("/files/{id}/links", h.CreateLink)
		r.Get("/links", h.ListLinks)
		r.Delete("/links/{id}", h.RevokeLink)

		r.Get("/tasks", tasks.List)
		r.Post("/tasks", tasks.Create)
		r.Get("/tasks/{id}", tasks.Get)
		r.Put("/tasks/{id}", tasks.Update)
		r.Delete("/tasks/{id}", tasks.Delete)
		r.Post("/tasks/{id}/run", tasks.Run)
		r.Post("/tasks/{id}/cancel", tasks.Cancel)
		r.Get("/tasks/{id}/progress", tasks.Progress)
		r.Get("/logs", tasks.Logs)
	})

	return r
}

// requestLogger logs requests through the structured logger: start at DEBUG,
// completion at INFO with status and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		// Wrap response writer to capture status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
