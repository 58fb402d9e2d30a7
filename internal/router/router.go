package router

import (
	"log/slog"
	"net/http"

	"github.com/aus-receiving/api/internal/config"
	"github.com/aus-receiving/api/internal/database"
	"github.com/aus-receiving/api/internal/enum"
	"github.com/aus-receiving/api/internal/handler"
	mw "github.com/aus-receiving/api/internal/middleware"
	"github.com/aus-receiving/api/internal/service"
	"github.com/aus-receiving/api/internal/storage"
	"github.com/aus-receiving/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// New creates a Chi router with all application routes wired up.
// Every database call goes through db, so an open breaker fails requests
// fast with 503 instead of queueing them on a dead pool.
func New(cfg *config.Config, logger *slog.Logger, db *storage.DB, prober *storage.Prober, catalogCache service.CatalogCache, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.Tracing)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	queries := database.New(db)

	// Public routes
	healthHandler := handler.NewHealthHandler(prober, db)
	healthHandler.RegisterRoutes(r)

	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param). Mounted
	// outside the timeout group: the connection outlives any request budget.
	r.Get("/ws/orders/{orderID}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	receivingService := service.NewReceivingService(
		db,
		func(tx database.DBTX) service.ReceivingStore {
			return database.New(tx)
		},
		hub,
		service.RetryPolicy{MaxRetries: cfg.DBMaxRetries, BaseDelay: cfg.DBRetryBaseDelay},
		logger,
	)
	queryService := service.NewQueryService(queries)
	catalogService := service.NewCatalogService(queries, catalogCache, logger)

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(mw.Authenticate(cfg.JWTSecret))

		lineHandler := handler.NewLineHandler(receivingService, queryService)
		lineHandler.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleReceiver, enum.UserRoleSupervisor))
			lineHandler.RegisterSyncRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleSupervisor))
			lineHandler.RegisterImportRoutes(r)
		})

		catalogHandler := handler.NewCatalogHandler(catalogService)
		catalogHandler.RegisterRoutes(r)
	})

	logger.Info("router initialized")
	return r
}
