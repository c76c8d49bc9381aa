// Package server собирает HTTP API сервера синхронизации.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/nnsi/hono-practice-sub007/internal/server/handlers"
	"github.com/nnsi/hono-practice-sub007/internal/server/middleware"
	"github.com/nnsi/hono-practice-sub007/internal/server/syncer"
	"github.com/nnsi/hono-practice-sub007/pkg/api"
)

// Deps зависимости маршрутизатора
type Deps struct {
	Logger  *slog.Logger
	Service syncer.Service
	Pinger  handlers.Pinger
	JWT     handlers.JWTConfig
	Version string
}

// NewRouter создает chi router со всеми маршрутами
func NewRouter(d Deps) http.Handler {
	syncHandler := handlers.NewSyncHandler(d.Logger, d.Service)
	healthHandler := handlers.NewHealthHandler(d.Logger, d.Pinger, d.Version)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.LoggingWithSkip(d.Logger, []string{"/health"}))
	r.Use(middleware.RecoveryMiddleware(d.Logger))

	r.Get("/health", healthHandler.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(d.Logger, d.JWT))

		r.Post(api.ActivityLogsSyncPath, syncHandler.SyncActivityLogs)
		r.Get(api.ActivityLogsPath, syncHandler.PullActivityLogs)

		r.Post(api.SyncPathPrefix+"{entityType}", syncHandler.SyncEntities)
		r.Get(api.SyncPathPrefix+"{entityType}", syncHandler.PullEntities)
	})

	return r
}
